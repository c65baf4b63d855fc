// Package protocol implements JSON-RPC 2.0 request/response encoding and
// decoding per spec.md §4.1, plus the standard and server-reserved error
// codes used throughout the dispatch layer.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ServerErrorRangeLow and ServerErrorRangeHigh bound the reserved
// implementation-defined error code range.
const (
	ServerErrorRangeLow  = -32099
	ServerErrorRangeHigh = -32000
)

// Version is the fixed JSON-RPC version string.
const Version = "2.0"

// ID is the JSON-RPC request/response identifier: a string, an integer, or
// nil. We model it as a thin wrapper over json.RawMessage so it round-trips
// exactly through decode→encode without normalizing e.g. 1 vs 1.0.
type ID struct {
	raw     json.RawMessage
	present bool
}

// NewStringID builds an ID holding a string value.
func NewStringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID{raw: b, present: true}
}

// NewIntID builds an ID holding an integer value.
func NewIntID(n int64) ID {
	b, _ := json.Marshal(n)
	return ID{raw: b, present: true}
}

// IsNil reports whether the ID is absent or JSON null (i.e. a notification).
func (i ID) IsNil() bool {
	if !i.present {
		return true
	}
	return string(i.raw) == "null"
}

// MarshalJSON implements json.Marshaler.
func (i ID) MarshalJSON() ([]byte, error) {
	if !i.present {
		return []byte("null"), nil
	}
	return i.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler, validating that the id is one
// of string, number, or null per §4.1.
func (i *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case nil, string, float64:
		i.raw = append(json.RawMessage(nil), data...)
		i.present = true
		return nil
	default:
		return fmt.Errorf("invalid id type %T", v)
	}
}

// String renders the ID for logging/equality checks ("null" for absent).
func (i ID) String() string {
	if !i.present {
		return "null"
	}
	return string(i.raw)
}

// Equal reports whether two IDs carry the same JSON value.
func (i ID) Equal(other ID) bool {
	return i.String() == other.String()
}

// Request is a decoded JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id (or a null id).
func (r Request) IsNotification() bool {
	return r.ID.IsNil()
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError constructs an *Error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Response is a JSON-RPC 2.0 response object. Exactly one of Result/Err is
// set on the wire; both are kept as RawMessage/*Error pointers so encoding
// omits whichever is absent.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Err     *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a success response, marshaling result.
func NewResultResponse(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id ID, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Err: rpcErr}
}

// ParseRequest decodes and validates a raw JSON-RPC request body. It
// distinguishes PARSE_ERROR (body is not valid JSON, or is valid JSON but
// not an object) from INVALID_REQUEST (an object of the wrong shape) so callers can map HTTP 400
// vs the appropriate JSON-RPC error per §4.1/§7.
func ParseRequest(body []byte) (Request, *Error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return Request{}, NewError(CodeParseError, "invalid JSON: "+err.Error())
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, NewError(CodeInvalidRequest, "malformed request: "+err.Error())
	}
	if req.JSONRPC != Version {
		return Request{}, NewError(CodeInvalidRequest, fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC))
	}
	if raw, ok := generic["method"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Request{}, NewError(CodeInvalidRequest, "method must be a string")
		}
	} else {
		return Request{}, NewError(CodeInvalidRequest, "missing method")
	}
	if raw, ok := generic["params"]; ok && len(raw) > 0 && string(raw) != "null" {
		trimmed := firstNonSpace(raw)
		if trimmed == '[' {
			return Request{}, NewError(CodeInvalidRequest, "positional array params are not supported")
		}
		if trimmed != '{' {
			return Request{}, NewError(CodeInvalidRequest, "params must be an object")
		}
	}
	return req, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}

// DecodeParams unmarshals req.Params into v, returning an INVALID_PARAMS
// error on failure.
func DecodeParams(req Request, v any) *Error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return NewError(CodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

// Encode serializes a Response to its wire form.
func Encode(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}
