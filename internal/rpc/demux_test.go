package rpc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Fuabioo/toolhost/internal/logsink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemuxCorrelator_RoundTrip(t *testing.T) {
	c := NewDemuxCorrelator(nil)
	conn := newFakeConn(echo)

	req := NewRequest("fs", "tools/list", nil)
	resp := c.Call("fs", conn, req, time.Second)

	require.False(t, resp.Failed())
	assert.Equal(t, req.ID, resp.IDString())
}

func TestDemuxCorrelator_OutOfOrderReplies(t *testing.T) {
	c := NewDemuxCorrelator(nil)
	conn := newFakeConn(nil)

	reqs := []Request{
		NewRequest("fs", "first", nil),
		NewRequest("fs", "second", nil),
	}

	var wg sync.WaitGroup
	results := make([]*Response, len(reqs))
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			results[i] = c.Call("fs", conn, req, 5*time.Second)
		}(i, req)
	}

	require.Eventually(t, func() bool { return len(conn.requests()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Answer in reverse order.
	for i := len(reqs) - 1; i >= 0; i-- {
		for _, line := range echo(reqs[i]) {
			conn.lines <- line
		}
	}
	wg.Wait()

	for i, req := range reqs {
		require.False(t, results[i].Failed())
		assert.Equal(t, req.ID, results[i].IDString())
		var result map[string]string
		require.NoError(t, json.Unmarshal(results[i].Result, &result))
		assert.Equal(t, req.Method, result["method"])
	}
}

func TestDemuxCorrelator_UnknownIDDropped(t *testing.T) {
	rec := &logsink.Recorder{}
	c := NewDemuxCorrelator(rec)
	conn := newFakeConn(func(Request) []string {
		return []string{`{"jsonrpc":"2.0","id":"someone-else","result":{}}`}
	})

	resp := c.Call("fs", conn, NewRequest("fs", "m", nil), 200*time.Millisecond)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTimeout, resp.Error.Code)
	assert.Eventually(t, func() bool {
		return rec.Contains(logsink.TagWarning, "unknown id")
	}, time.Second, 10*time.Millisecond)
}

func TestDemuxCorrelator_MalformedSingleWaiter(t *testing.T) {
	c := NewDemuxCorrelator(nil)
	conn := newFakeConn(func(Request) []string { return []string{"garbage"} })

	resp := c.Call("fs", conn, NewRequest("fs", "m", nil), time.Second)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMalformed, resp.Error.Code)
}

func TestDemuxCorrelator_ReaderEOF(t *testing.T) {
	c := NewDemuxCorrelator(nil)
	conn := newFakeConn(nil)

	done := make(chan *Response, 1)
	go func() {
		done <- c.Call("fs", conn, NewRequest("fs", "m", nil), 5*time.Second)
	}()

	require.Eventually(t, func() bool { return len(conn.requests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	close(conn.lines)

	select {
	case resp := <-done:
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeTransport, resp.Error.Code)
	case <-time.After(3 * time.Second):
		t.Fatal("call did not return after the stream closed")
	}

	// A dead stream fails later calls immediately too.
	resp := c.Call("fs", conn, NewRequest("fs", "m", nil), 5*time.Second)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTransport, resp.Error.Code)
}

func TestDemuxCorrelator_Forget(t *testing.T) {
	c := NewDemuxCorrelator(nil)
	conn := newFakeConn(echo)

	c.Call("fs", conn, NewRequest("fs", "m", nil), time.Second)
	c.mu.Lock()
	_, tracked := c.readers[conn]
	c.mu.Unlock()
	assert.True(t, tracked)

	c.Forget(conn)
	c.mu.Lock()
	_, tracked = c.readers[conn]
	c.mu.Unlock()
	assert.False(t, tracked)
}

var _ Correlator = (*LineCorrelator)(nil)
var _ Correlator = (*DemuxCorrelator)(nil)

func TestDemuxCorrelator_NonStandardErrorPassesThrough(t *testing.T) {
	c := NewDemuxCorrelator(nil)
	conn := newFakeConn(func(req Request) []string {
		return []string{`{"id":"` + req.ID + `","error":"boom","meta":{"n":1}}`}
	})

	resp := c.Call("fs", conn, NewRequest("fs", "m", nil), time.Second)

	require.True(t, resp.Failed())
	assert.False(t, resp.Local())
	assert.Equal(t, "boom", resp.Error.Message)
	assert.JSONEq(t, `"boom"`, string(resp.Error.Raw))
	assert.JSONEq(t, `{"n":1}`, string(resp.Extra["meta"]))
}

func TestDemuxCorrelator_NullLineSingleWaiter(t *testing.T) {
	c := NewDemuxCorrelator(nil)
	conn := newFakeConn(func(Request) []string { return []string{"null"} })

	resp := c.Call("fs", conn, NewRequest("fs", "m", nil), time.Second)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMalformed, resp.Error.Code)
}
