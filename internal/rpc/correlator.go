package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Fuabioo/toolhost/internal/logsink"
)

// logLimit caps how much of a payload is logged.
const logLimit = 512

// Conn is the line transport of one process.
type Conn interface {
	WriteLine(data []byte) error
	ReadLine() (string, error)
}

// Correlator sends a request over a process's stdin and returns the response
// that belongs to it. Call never returns nil.
type Correlator interface {
	Call(server string, conn Conn, req Request, timeout time.Duration) *Response
	// Forget drops any state kept for conn once its process is gone.
	Forget(conn Conn)
}

// LineCorrelator treats the next line on stdout as the response to the
// request just written. A read that times out is not cancelled; the line it
// eventually consumes is lost to later callers. Concurrent calls to the same
// server can therefore receive each other's responses; callers needing strict
// pairing serialize their calls or use DemuxCorrelator.
type LineCorrelator struct {
	sink logsink.Sink
}

// NewLineCorrelator returns a LineCorrelator logging to sink.
func NewLineCorrelator(sink logsink.Sink) *LineCorrelator {
	if sink == nil {
		sink = logsink.Discard
	}
	return &LineCorrelator{sink: sink}
}

type lineResult struct {
	line string
	err  error
}

// Call implements Correlator.
func (c *LineCorrelator) Call(server string, conn Conn, req Request, timeout time.Duration) *Response {
	payload, ok := encode(c.sink, server, req)
	if !ok {
		return ErrorResponse(req.ID, CodeTransport, "failed to encode request", nil)
	}

	if err := conn.WriteLine(payload); err != nil {
		return ErrorResponse(req.ID, CodeTransport, err.Error(), nil)
	}

	ch := make(chan lineResult, 1)
	go func() {
		line, err := conn.ReadLine()
		ch <- lineResult{line: line, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return ErrorResponse(req.ID, CodeTransport, res.err.Error(), nil)
		}
		return parse(c.sink, server, req.ID, res.line)
	case <-timer.C:
		c.sink.Log(fmt.Sprintf("%s: no response to %s within %s", server, req.ID, timeout), logsink.TagWarning)
		return ErrorResponse(req.ID, CodeTimeout, fmt.Sprintf("no response from %s within %s", server, timeout), nil)
	}
}

// Forget implements Correlator.
func (c *LineCorrelator) Forget(Conn) {}

func encode(sink logsink.Sink, server string, req Request) ([]byte, bool) {
	payload, err := json.Marshal(req)
	if err != nil {
		sink.Log(fmt.Sprintf("%s: cannot encode %s request: %v", server, req.Method, err), logsink.TagError)
		return nil, false
	}
	sink.Log(fmt.Sprintf("-> %s %s", server, Elide(string(payload), logLimit)), logsink.TagRPC)
	return payload, true
}

// parse turns a line into a response. An id other than want is reported but
// the response is still returned.
func parse(sink logsink.Sink, server, want, line string) *Response {
	resp, err := decodeResponse([]byte(line))
	if err != nil {
		sink.Log(fmt.Sprintf("%s: malformed response: %s", server, Elide(line, logLimit)), logsink.TagWarning)
		return ErrorResponse(want, CodeMalformed, fmt.Sprintf("malformed response: %v", err), line)
	}

	sink.Log(fmt.Sprintf("<- %s %s", server, Elide(line, logLimit)), logsink.TagRPC)

	if got := resp.IDString(); got != want {
		sink.Log(fmt.Sprintf("%s: response id %q does not match request id %q", server, got, want), logsink.TagWarning)
	}
	return resp
}
