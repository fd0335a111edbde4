// Package rpc pairs line-delimited JSON-RPC requests with the responses a
// tool server writes back on its stdout.
package rpc

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Version is the JSON-RPC version stamped on every request.
const Version = "2.0"

// Local error codes. They never collide with codes a server sends because
// they are only produced when no usable response exists.
const (
	CodeStartFailed = -1
	CodeTimeout     = -2
	CodeMalformed   = -3
	CodeTransport   = -4
)

// Request is one outbound call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      string `json:"id"`
}

// NewRequest builds a request for server with a fresh id. Nil params are
// sent as an empty object.
func NewRequest(server, method string, params any) Request {
	if params == nil {
		params = map[string]any{}
	}
	return Request{JSONRPC: Version, Method: method, Params: params, ID: NewID(server)}
}

// NewID returns a correlation id of the form <server>-<caller>-<unixnano>.
func NewID(server string) string {
	return fmt.Sprintf("%s-%s-%d", server, uuid.NewString()[:8], time.Now().UnixNano())
}

// Error is a JSON-RPC error object. A server error that is not shaped like
// one (a bare string, a string code) keeps its original encoding in Raw and
// is written back out unchanged; Code and Message are then best effort.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Response is what a call produced: the server's parsed reply or a locally
// built error. Members a server sends beyond the standard four are kept in
// Extra and survive re-encoding.
type Response struct {
	JSONRPC string                     `json:"jsonrpc,omitempty"`
	ID      any                        `json:"id,omitempty"`
	Result  json.RawMessage            `json:"result,omitempty"`
	Error   *Error                     `json:"error,omitempty"`
	Extra   map[string]json.RawMessage `json:"-"`
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// Local reports whether the error was produced by toolhost rather than the
// server.
func (r *Response) Local() bool {
	if r.Error == nil {
		return false
	}
	switch r.Error.Code {
	case CodeStartFailed, CodeTimeout, CodeMalformed, CodeTransport:
		return true
	}
	return false
}

// IDString renders the response id for comparison with a request id.
func (r *Response) IDString() string {
	switch id := r.ID.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// ErrorResponse builds a local error response for the request id. data, when
// not nil, is JSON encoded into the error's data field.
func ErrorResponse(id string, code int, message string, data any) *Response {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return &Response{JSONRPC: Version, ID: id, Error: e}
}

// Elide shortens s to at most max bytes for logging, keeping UTF-8 intact.
func Elide(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... (%d more bytes)", s[:cut], len(s)-cut)
}
