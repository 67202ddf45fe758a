package mcp

import "encoding/json"

// InitializeResult is the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Capabilities advertises which protocol surfaces the server supports.
// A surface is advertised iff at least one enabled tool/resource exists.
type Capabilities struct {
	Tools     *struct{} `json:"tools,omitempty"`
	Resources *struct{} `json:"resources,omitempty"`
}

// ServerInfo identifies the tool server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is one entry in a tools/list result.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolListResult is the result of tools/list.
type ToolListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ResourceDescriptor is one entry in a resources/list result.
type ResourceDescriptor struct {
	URI         string          `json:"uri"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	MimeType    string          `json:"mimeType,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// ResourceListResult is the result of resources/list.
type ResourceListResult struct {
	Resources []ResourceDescriptor `json:"resources"`
}

// Content is a single content item in a call or read result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds a text content item.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolResult is the result of tools/call. IsError reflects the upstream
// HTTP status, not a protocol failure.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// ResourceContents is one entry in a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}
