package jsonrpc

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

// RawMessage is a raw JSON value that delays unmarshaling.
type RawMessage = json.RawMessage

// Message is a Request, Notification or Response.
type Message interface {
	isJSONRPC()
}

// Request is a JSON-RPC 2.0 request (expects a response).
type Request struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      ID         `json:"id"`
	Method  string     `json:"method"`
	Params  RawMessage `json:"params,omitempty"`
}

func (Request) isJSONRPC() {}

// Notification is a JSON-RPC 2.0 notification (no response expected).
type Notification struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  RawMessage `json:"params,omitempty"`
}

func (Notification) isJSONRPC() {}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      ID         `json:"id"`
	Result  RawMessage `json:"result,omitempty"`
	Error   *Error     `json:"error,omitempty"`
}

func (Response) isJSONRPC() {}

// Error is a JSON-RPC 2.0 error object. It doubles as a Go error so handlers
// can return a specific code.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Errorf returns an *Error with the given code and formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// LSP error codes.
const (
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestFailed        = -32803
	CodeServerCancelled      = -32802
	CodeContentModified      = -32801
	CodeRequestCancelled     = -32800
)

// ID is a JSON-RPC request id: an integer, a string, or null.
type ID struct {
	value any
}

// IntID returns an integer id.
func IntID(v int64) ID { return ID{value: v} }

// StringID returns a string id.
func StringID(v string) ID { return ID{value: v} }

func (id ID) IsValid() bool { return id.value != nil }
func (id ID) Value() any    { return id.value }

func (id ID) String() string {
	switch v := id.value.(type) {
	case int64:
		return fmt.Sprintf("%d", v)
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return "null"
	}
}

// key distinguishes 1 from "1" when ids index a map.
func (id ID) key() string {
	switch v := id.value.(type) {
	case int64:
		return fmt.Sprintf("n:%d", v)
	case string:
		return "s:" + v
	default:
		return "null"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		id.value = nil
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		id.value = n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id.value = s
		return nil
	}
	return Errorf(CodeInvalidRequest, "id must be a number, string, or null")
}

// wireMessage is the union of every message shape, used for decoding.
type wireMessage struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      *ID        `json:"id,omitempty"`
	Method  string     `json:"method,omitempty"`
	Params  RawMessage `json:"params,omitempty"`
	Result  RawMessage `json:"result,omitempty"`
	Error   *Error     `json:"error,omitempty"`
}

// DecodeMessage parses one JSON-RPC message. Malformed JSON yields a
// CodeParseError; a message with the wrong version yields CodeInvalidRequest.
func DecodeMessage(data []byte) (Message, error) {
	var raw wireMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, Errorf(CodeParseError, "parse error: %v", err)
	}
	if raw.JSONRPC != Version {
		return nil, Errorf(CodeInvalidRequest, "unsupported jsonrpc version %q", raw.JSONRPC)
	}

	if raw.Method != "" {
		if raw.ID != nil && raw.ID.IsValid() {
			return &Request{JSONRPC: raw.JSONRPC, ID: *raw.ID, Method: raw.Method, Params: raw.Params}, nil
		}
		return &Notification{JSONRPC: raw.JSONRPC, Method: raw.Method, Params: raw.Params}, nil
	}

	var id ID
	if raw.ID != nil {
		id = *raw.ID
	}
	return &Response{JSONRPC: raw.JSONRPC, ID: id, Result: raw.Result, Error: raw.Error}, nil
}

// NewResponse builds the response to request id. A non-nil err becomes the
// error member, an *Error keeping its code; otherwise result is marshaled.
func NewResponse(id ID, result any, err error) *Response {
	resp := &Response{JSONRPC: Version, ID: id}
	if err != nil {
		rpcErr, ok := err.(*Error)
		if !ok {
			rpcErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		resp.Error = rpcErr
		return resp
	}
	if result == nil {
		resp.Result = RawMessage("null")
		return resp
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		resp.Error = &Error{Code: CodeInternalError, Message: merr.Error()}
		return resp
	}
	resp.Result = data
	return resp
}
