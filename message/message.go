// Package message defines the JSON-RPC 2.0 envelopes exchanged with the instrument server.
//
// Every frame payload is one JSON object of one of three shapes:
//
//   - Request:      {"jsonrpc":"2.0","method":"getState","params":[...],"id":0}
//   - Response:     {"jsonrpc":"2.0","id":0,"result":...} or {"jsonrpc":"2.0","id":0,"error":{"code":..,"message":..}}
//   - Notification: {"jsonrpc":"2.0","method":"stateChanged","params":[...]} (no id)
//
// Only one request is ever in flight on a connection, so the id is the constant RequestID.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"

	"instrument-rpc/rpcerr"
)

const (
	Version   = "2.0"
	RequestID = 0
)

// Request is a client → server call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      int             `json:"id"`
}

// Response is the server's answer to the single outstanding request.
// Exactly one of Result and Error is meaningful; a present-but-null result is a success.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is an out-of-band server push.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is the wire form of a server-reported application error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Err converts the wire error to a *rpcerr.RemoteError.
func (e *Error) Err() error {
	if e == nil {
		return nil
	}
	return &rpcerr.RemoteError{Code: e.Code, Message: e.Message}
}

// NewRequest builds a request for method. params follows the server's convention:
// nil means no params member, a slice or array is sent as the params array, and any
// other value is wrapped into a one-element array.
func NewRequest(method string, params any) (*Request, error) {
	raw, err := EncodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw, ID: RequestID}, nil
}

// NewNotification builds a server push for method, with the same params rules as NewRequest.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := EncodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a successful response. A nil result is encoded as null.
func NewResult(result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: idRaw, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(code int, msg string) *Response {
	return &Response{JSONRPC: Version, ID: idRaw, Error: &Error{Code: code, Message: msg}}
}

var idRaw = json.RawMessage("0")

// EncodeParams renders params as a JSON array, or nil when params is nil.
func EncodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		if trimmed := bytes.TrimLeft(raw, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
			return trimmed, nil
		}
		return json.Marshal([]json.RawMessage{raw})
	}
	v := reflect.ValueOf(params)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			if v.Kind() == reflect.Slice && v.IsNil() {
				return json.RawMessage("[]"), nil
			}
			return json.Marshal(params)
		}
	}
	return json.Marshal([]any{params})
}

// Envelope is any decoded frame payload before it is classified.
type Envelope struct {
	JSONRPC string
	ID      json.RawMessage
	Method  string
	Params  json.RawMessage
	Result  json.RawMessage
	Error   *Error

	// HasID and HasResult record member presence; "result":null is a valid result.
	HasID     bool
	HasResult bool

	Raw []byte
}

// Parse decodes a frame payload. Anything that is not a JSON object yields a *rpcerr.DecodeError.
func Parse(data []byte) (*Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &rpcerr.DecodeError{Payload: data, Err: err}
	}
	if probe == nil {
		return nil, &rpcerr.DecodeError{Payload: data, Err: errors.New("payload is not an object")}
	}

	env := &Envelope{Raw: data}
	if v, ok := probe["jsonrpc"]; ok {
		if err := json.Unmarshal(v, &env.JSONRPC); err != nil {
			return nil, &rpcerr.DecodeError{Payload: data, Err: err}
		}
	}
	if v, ok := probe["method"]; ok {
		if err := json.Unmarshal(v, &env.Method); err != nil {
			return nil, &rpcerr.DecodeError{Payload: data, Err: err}
		}
	}
	if v, ok := probe["error"]; ok && string(v) != "null" {
		env.Error = &Error{}
		if err := json.Unmarshal(v, env.Error); err != nil {
			return nil, &rpcerr.DecodeError{Payload: data, Err: err}
		}
	}
	env.ID, env.HasID = probe["id"]
	env.Params = probe["params"]
	env.Result, env.HasResult = probe["result"]
	return env, nil
}

// IsNotification reports whether the envelope is a server push.
func (e *Envelope) IsNotification() bool {
	return e.Method != "" && !e.HasID
}

// IsResponse reports whether the envelope carries a result or an error.
func (e *Envelope) IsResponse() bool {
	return e.HasResult || e.Error != nil
}

// Notification returns the envelope viewed as a notification.
func (e *Envelope) Notification() *Notification {
	return &Notification{JSONRPC: e.JSONRPC, Method: e.Method, Params: e.Params}
}

// Response returns the envelope viewed as a response.
func (e *Envelope) Response() *Response {
	return &Response{JSONRPC: e.JSONRPC, ID: e.ID, Result: e.Result, Error: e.Error}
}

// DecodeParams unmarshals the notification params array into v.
func (n *Notification) DecodeParams(v any) error {
	if len(n.Params) == 0 {
		return errors.New("message: notification has no params")
	}
	return json.Unmarshal(n.Params, v)
}

// Param returns the i-th params element, or nil when absent.
func (n *Notification) Param(i int) json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(n.Params, &items); err != nil || i < 0 || i >= len(items) {
		return nil
	}
	return items[i]
}
