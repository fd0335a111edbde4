package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errNotObject = errors.New("response is not a JSON object")

// decodeResponse parses one line written by a server. Only a line that is
// not a JSON object is rejected; everything inside an object is kept.
func decodeResponse(line []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnmarshalJSON decodes a response object member by member so an unusual
// error or an unknown member does not fail the whole line.
func (r *Response) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	if members == nil {
		return errNotObject
	}

	*r = Response{}
	for key, raw := range members {
		switch key {
		case "jsonrpc":
			if err := json.Unmarshal(raw, &r.JSONRPC); err != nil {
				r.addExtra(key, raw)
			}
		case "id":
			if err := json.Unmarshal(raw, &r.ID); err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
		case "result":
			r.Result = raw
		case "error":
			if isNull(raw) {
				continue
			}
			r.Error = decodeError(raw)
		default:
			r.addExtra(key, raw)
		}
	}
	return nil
}

// MarshalJSON writes the standard members followed by any extra ones.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	base, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}

	extra, err := json.Marshal(r.Extra)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(base, []byte("{}")) {
		return extra, nil
	}
	out := make([]byte, 0, len(base)+len(extra))
	out = append(out, base[:len(base)-1]...)
	out = append(out, ',')
	out = append(out, extra[1:]...)
	return out, nil
}

// MarshalJSON writes a pass-through error exactly as the server sent it.
func (e Error) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	type plain Error
	return json.Marshal(plain(e))
}

func (r *Response) addExtra(key string, raw json.RawMessage) {
	if r.Extra == nil {
		r.Extra = make(map[string]json.RawMessage)
	}
	r.Extra[key] = raw
}

func decodeError(raw json.RawMessage) *Error {
	type plain Error
	var e plain
	if err := json.Unmarshal(raw, &e); err == nil && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var members map[string]json.RawMessage
		_ = json.Unmarshal(raw, &members)
		if _, ok := members["code"]; ok {
			out := Error(e)
			return &out
		}
	}

	// Non-standard shape: keep the bytes and pull out whatever message we can.
	out := &Error{Raw: append(json.RawMessage(nil), raw...)}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		out.Message = text
		return out
	}
	var loose struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &loose) == nil {
		out.Message = loose.Message
	}
	if out.Message == "" {
		out.Message = string(raw)
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
