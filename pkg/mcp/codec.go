package mcp

import (
	"encoding/json"
	"fmt"
)

// resultEnvelope is the wire form of a JSON-RPC success response.
// Local wire structs with json.RawMessage ids are used instead of the SDK's
// response type so the caller's id round-trips byte for byte.
type resultEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// errorEnvelope is the wire form of a JSON-RPC error response.
type errorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   ErrorDetail     `json:"error"`
}

// ErrorDetail is the error object inside a JSON-RPC error response.
type ErrorDetail struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// EncodeResult builds a success response envelope echoing the given raw id.
// A nil id is replaced with the placeholder id.
func EncodeResult(id json.RawMessage, result any) ([]byte, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	if id == nil {
		id = placeholderID
	}
	return json.Marshal(resultEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Result:  resultJSON,
	})
}

// EncodeError builds an error response envelope echoing the given raw id.
// A nil id is replaced with the placeholder id so the envelope is always
// well-formed.
func EncodeError(id json.RawMessage, code int64, message string, data any) ([]byte, error) {
	if id == nil {
		id = placeholderID
	}
	return json.Marshal(errorEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
