// Package catalog contains the domain entities a tool server is built from:
// the server itself, its tools, the upstream REST APIs they proxy to, and
// the mappings that translate tool arguments into upstream payloads.
package catalog

import (
	"encoding/json"
	"time"
)

// Visibility controls who may reach a tool server.
type Visibility string

const (
	// VisibilityPublic servers are callable without authorization.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate servers require a bearer token minted for them.
	VisibilityPrivate Visibility = "private"
)

// IsValid returns true for a known visibility value.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// ToolServer is the addressable unit grouping tools and resources.
// The slug is unique across all servers and forms the protocol endpoint
// path /api/mcp/{slug}.
type ToolServer struct {
	ID          string
	Slug        string
	Name        string
	Description string
	Visibility  Visibility
	Enabled     bool
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tool is a named, schema-described callable unit. Every tool doubles as a
// readable resource under ResourceURI. InputSchema holds the declared raw
// document (canonical or shorthand); normalization happens at dispatch.
type Tool struct {
	ID          string
	ServerID    string
	Name        string
	Description string
	InputSchema json.RawMessage
	ResourceURI string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TemplateParam is one header, cookie, or query parameter template. The
// value may contain {var} placeholders substituted from call arguments;
// the name never is.
type TemplateParam struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UpstreamAPI describes the external REST endpoint a tool invokes.
// The URL and all template values may contain {var} placeholders.
type UpstreamAPI struct {
	ID            string
	Name          string
	Method        string
	URL           string
	Headers       []TemplateParam
	Cookies       []TemplateParam
	QueryParams   []TemplateParam
	PayloadSchema json.RawMessage
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transformation names how a field mapping computes its value.
type Transformation string

const (
	// TransformDirect copies the tool argument verbatim.
	TransformDirect Transformation = "direct"
	// TransformConstant uses a configured literal.
	TransformConstant Transformation = "constant"
	// TransformExpression evaluates a whitelisted expression with the tool
	// argument bound to the variable `value`.
	TransformExpression Transformation = "expression"
)

// FieldMapping maps one upstream payload field from a tool argument,
// a constant, or an expression over a tool argument.
type FieldMapping struct {
	ToolField      string         `json:"tool_field,omitempty"`
	APIField       string         `json:"api_field"`
	Transformation Transformation `json:"transformation"`
	Value          string         `json:"value,omitempty"`
	Expression     string         `json:"expression,omitempty"`
}

// Mapping binds a tool to exactly one upstream API with an ordered list of
// field mappings. At most one mapping exists per tool (upsert-on-conflict).
type Mapping struct {
	ID        string
	ToolID    string
	APIID     string
	Fields    []FieldMapping
	CreatedAt time.Time
	UpdatedAt time.Time
}
