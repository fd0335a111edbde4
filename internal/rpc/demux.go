package rpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/Fuabioo/toolhost/internal/logsink"
)

// DemuxCorrelator runs one reader per process and routes each response to
// the caller whose request id it carries. Concurrent calls to one server are
// paired correctly; lines with unknown ids are logged and dropped.
type DemuxCorrelator struct {
	sink logsink.Sink

	mu      sync.Mutex
	readers map[Conn]*demuxReader
}

// NewDemuxCorrelator returns a DemuxCorrelator logging to sink.
func NewDemuxCorrelator(sink logsink.Sink) *DemuxCorrelator {
	if sink == nil {
		sink = logsink.Discard
	}
	return &DemuxCorrelator{sink: sink, readers: make(map[Conn]*demuxReader)}
}

type demuxReader struct {
	mu      sync.Mutex
	waiters map[string]chan *Response
	done    chan struct{}
	err     error
}

// Call implements Correlator.
func (c *DemuxCorrelator) Call(server string, conn Conn, req Request, timeout time.Duration) *Response {
	payload, ok := encode(c.sink, server, req)
	if !ok {
		return ErrorResponse(req.ID, CodeTransport, "failed to encode request", nil)
	}

	r := c.reader(server, conn)
	ch := make(chan *Response, 1)
	if !r.register(req.ID, ch) {
		return ErrorResponse(req.ID, CodeTransport, r.err.Error(), nil)
	}

	if err := conn.WriteLine(payload); err != nil {
		r.unregister(req.ID)
		return ErrorResponse(req.ID, CodeTransport, err.Error(), nil)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp
	case <-r.done:
		// The reader may have delivered just before exiting.
		select {
		case resp := <-ch:
			return resp
		default:
		}
		return ErrorResponse(req.ID, CodeTransport, r.err.Error(), nil)
	case <-timer.C:
		r.unregister(req.ID)
		c.sink.Log(fmt.Sprintf("%s: no response to %s within %s", server, req.ID, timeout), logsink.TagWarning)
		return ErrorResponse(req.ID, CodeTimeout, fmt.Sprintf("no response from %s within %s", server, timeout), nil)
	}
}

// Forget implements Correlator.
func (c *DemuxCorrelator) Forget(conn Conn) {
	c.mu.Lock()
	delete(c.readers, conn)
	c.mu.Unlock()
}

func (c *DemuxCorrelator) reader(server string, conn Conn) *demuxReader {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.readers[conn]; ok {
		return r
	}
	r := &demuxReader{waiters: make(map[string]chan *Response), done: make(chan struct{})}
	c.readers[conn] = r
	go c.loop(server, conn, r)
	return r
}

func (c *DemuxCorrelator) loop(server string, conn Conn, r *demuxReader) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			close(r.done)

			c.mu.Lock()
			if c.readers[conn] == r {
				delete(c.readers, conn)
			}
			c.mu.Unlock()
			return
		}
		c.route(server, r, line)
	}
}

func (c *DemuxCorrelator) route(server string, r *demuxReader, line string) {
	resp, err := decodeResponse([]byte(line))
	if err != nil {
		// A lone waiter can only be the one this line answers.
		if id, ch, ok := r.only(); ok {
			c.sink.Log(fmt.Sprintf("%s: malformed response: %s", server, Elide(line, logLimit)), logsink.TagWarning)
			ch <- ErrorResponse(id, CodeMalformed, fmt.Sprintf("malformed response: %v", err), line)
			return
		}
		c.sink.Log(fmt.Sprintf("%s: dropping malformed line: %s", server, Elide(line, logLimit)), logsink.TagWarning)
		return
	}

	c.sink.Log(fmt.Sprintf("<- %s %s", server, Elide(line, logLimit)), logsink.TagRPC)

	id := resp.IDString()
	r.mu.Lock()
	ch, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.mu.Unlock()

	if !ok {
		c.sink.Log(fmt.Sprintf("%s: dropping response with unknown id %q", server, id), logsink.TagWarning)
		return
	}
	ch <- resp
}

// register adds a waiter. It fails once the reader has stopped.
func (r *demuxReader) register(id string, ch chan *Response) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return false
	default:
	}
	r.waiters[id] = ch
	return true
}

func (r *demuxReader) unregister(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

func (r *demuxReader) only() (string, chan *Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.waiters) != 1 {
		return "", nil, false
	}
	for id, ch := range r.waiters {
		delete(r.waiters, id)
		return id, ch, true
	}
	return "", nil, false
}
