// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the toolbridge protocol endpoint.
package mcp

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// ProtocolVersion is the MCP protocol version the dispatcher speaks.
const ProtocolVersion = "2025-06-18"

// JSON-RPC error codes used by the dispatcher.
const (
	// ErrCodeParse is returned when the request body is not valid JSON-RPC.
	ErrCodeParse int64 = -32700
	// ErrCodeInvalidRequest is returned for structurally invalid envelopes.
	ErrCodeInvalidRequest int64 = -32600
	// ErrCodeMethodNotFound is returned for unknown methods.
	ErrCodeMethodNotFound int64 = -32601
	// ErrCodeInvalidParams is returned when arguments fail schema validation.
	ErrCodeInvalidParams int64 = -32602
	// ErrCodeInternal is returned for persistence or codec failures.
	ErrCodeInternal int64 = -32603
	// ErrCodeConfiguration is returned when a tool is not invocable as
	// configured (no mapping, disabled upstream).
	ErrCodeConfiguration int64 = -32000
)

// placeholderID is echoed in error envelopes when the caller supplied no id,
// so the error envelope is always well-formed.
var placeholderID = json.RawMessage("0")

// Message wraps a decoded JSON-RPC request with request metadata.
// It stores both the raw bytes (the id is re-extracted from them, see RawID)
// and the decoded message.
type Message struct {
	// Raw contains the original bytes of the request body.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// The concrete type is *jsonrpc.Request for everything the
	// dispatcher handles.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time

	// ParsedParams contains the parsed params object, if any.
	// Populated lazily by ParseParams.
	ParsedParams map[string]interface{}
}

// Decode parses raw JSON-RPC bytes into a Message.
func Decode(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// Request returns the underlying Request, or nil if this is not a request.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// RawID extracts the request id from the raw bytes as json.RawMessage.
// The SDK's jsonrpc.ID type doesn't marshal correctly through interface{},
// so the id is taken directly from the raw JSON, preserving its original
// form (number, string, or null). Returns nil if no id field is present.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}

// IsNotification reports whether the message carries no usable id.
// Notifications are acknowledged with an empty success and never produce
// an error body.
func (m *Message) IsNotification() bool {
	id := m.RawID()
	return id == nil || bytes.Equal(id, []byte("null"))
}

// ParseParams parses the request params object and caches the result.
// Returns nil if there are no params or they are not a JSON object.
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}
	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	m.ParsedParams = params
	return params
}
