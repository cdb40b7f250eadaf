package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const JSONRPCVersion = "2.0"

// StateHandle is the opaque server-issued token naming the interpreter state
// a request runs against. The zero value means "no state" and is sent as null.
type StateHandle string

func (s StateHandle) IsZero() bool {
	return s == ""
}

func (s StateHandle) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *StateHandle) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = ""
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = StateHandle(raw)
	return nil
}

// Request is one built, immutable JSON-RPC request. Params already carries
// the "state" member when the method is state-bearing.
type Request struct {
	ID           uint64
	Method       Method
	Params       json.RawMessage
	State        StateHandle
	Notification bool
}

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  Method          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	w := wireRequest{JSONRPC: JSONRPCVersion, Method: r.Method, Params: r.Params}
	if !r.Notification {
		id := r.ID
		w.ID = &id
	}
	return json.Marshal(w)
}

// Response is a raw JSON-RPC response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RequestID returns the echoed correlation id. Servers may echo it as a
// number or as a decimal string.
func (r *Response) RequestID() (uint64, bool) {
	raw := bytes.TrimSpace(r.ID)
	if len(raw) == 0 {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(s)
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Result is a successful call's payload.
type Result struct {
	Answer json.RawMessage
	State  StateHandle
	Stdout string
	Stderr string
}
