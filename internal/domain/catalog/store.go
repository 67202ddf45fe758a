package catalog

import (
	"context"
	"errors"
)

// Sentinel errors for catalog store operations.
var (
	// ErrServerNotFound is returned when a tool server is unknown.
	ErrServerNotFound = errors.New("tool server not found")
	// ErrToolNotFound is returned when a tool is unknown.
	ErrToolNotFound = errors.New("tool not found")
	// ErrAPINotFound is returned when an upstream API is unknown.
	ErrAPINotFound = errors.New("upstream API not found")
	// ErrMappingNotFound is returned when a tool has no mapping.
	ErrMappingNotFound = errors.New("mapping not found")
	// ErrDuplicateTool is returned on a (server_id, name) unique conflict.
	// Callers re-resolve to the existing row instead of failing.
	ErrDuplicateTool = errors.New("tool name already exists on this server")
)

// Store persists the catalog entities. Admin operations run tenant-scoped;
// the dispatcher reads through the same interface after the gate and token
// checks have established the caller's right to the server.
type Store interface {
	// GetServerBySlug retrieves a tool server by its unique slug.
	// Returns ErrServerNotFound if absent.
	GetServerBySlug(ctx context.Context, slug string) (*ToolServer, error)

	// CreateServer persists a new tool server. The ID is set by the
	// implementation if empty.
	CreateServer(ctx context.Context, server *ToolServer) error

	// ListTools returns all tools of a server, enabled and disabled.
	ListTools(ctx context.Context, serverID string) ([]*Tool, error)

	// GetToolByName retrieves a tool by (server, name).
	// Returns ErrToolNotFound if absent.
	GetToolByName(ctx context.Context, serverID, name string) (*Tool, error)

	// GetToolByURI retrieves a tool by (server, resource URI).
	// Returns ErrToolNotFound if absent.
	GetToolByURI(ctx context.Context, serverID, uri string) (*Tool, error)

	// CreateTool persists a new tool. Returns ErrDuplicateTool when the
	// (server_id, name) unique constraint is violated.
	CreateTool(ctx context.Context, tool *Tool) error

	// GetAPI retrieves an upstream API by id. Returns ErrAPINotFound if
	// absent.
	GetAPI(ctx context.Context, id string) (*UpstreamAPI, error)

	// CreateAPI persists a new upstream API.
	CreateAPI(ctx context.Context, api *UpstreamAPI) error

	// GetMappingByTool retrieves the mapping of a tool.
	// Returns ErrMappingNotFound if the tool has none.
	GetMappingByTool(ctx context.Context, toolID string) (*Mapping, error)

	// UpsertMapping creates or replaces the mapping of a tool, enforcing
	// the at-most-one-mapping-per-tool invariant.
	UpsertMapping(ctx context.Context, mapping *Mapping) error
}
