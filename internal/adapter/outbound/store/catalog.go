package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolbridge/toolbridge/internal/domain/catalog"
)

// Elevated is the unfiltered store view. See the package comment for why
// this path exists.
type Elevated struct {
	s *Store
}

// Tenant is the owner-scoped store view for catalog administration.
// Reads and writes only touch rows owned by the tenant user.
type Tenant struct {
	s      *Store
	userID string
}

// compile-time interface checks
var (
	_ catalog.Store = (*Elevated)(nil)
	_ catalog.Store = (*Tenant)(nil)
)

// --- server ---

func (s *Store) getServerBySlug(ctx context.Context, slug, owner string) (*catalog.ToolServer, error) {
	query := `SELECT id, slug, name, description, visibility, enabled, owner_id, created_at, updated_at
		FROM tool_servers WHERE slug = ?`
	args := []any{slug}
	if owner != "" {
		query += ` AND owner_id = ?`
		args = append(args, owner)
	}

	var srv catalog.ToolServer
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&srv.ID, &srv.Slug, &srv.Name, &srv.Description, &srv.Visibility,
		&srv.Enabled, &srv.OwnerID, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}
	return &srv, nil
}

func (s *Store) createServer(ctx context.Context, srv *catalog.ToolServer) error {
	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	srv.CreatedAt = now
	srv.UpdatedAt = now
	if srv.Visibility == "" {
		srv.Visibility = catalog.VisibilityPrivate
	}
	_, err := s.ctxExec(ctx,
		`INSERT INTO tool_servers (id, slug, name, description, visibility, enabled, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Slug, srv.Name, srv.Description, string(srv.Visibility),
		srv.Enabled, srv.OwnerID, srv.CreatedAt, srv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting server: %w", err)
	}
	return nil
}

// GetServerBySlug retrieves a server without ownership filtering.
func (e *Elevated) GetServerBySlug(ctx context.Context, slug string) (*catalog.ToolServer, error) {
	return e.s.getServerBySlug(ctx, slug, "")
}

// GetServerBySlug retrieves a server owned by the tenant.
func (t *Tenant) GetServerBySlug(ctx context.Context, slug string) (*catalog.ToolServer, error) {
	return t.s.getServerBySlug(ctx, slug, t.userID)
}

// CreateServer persists a server; used by seed tooling and tests.
func (e *Elevated) CreateServer(ctx context.Context, srv *catalog.ToolServer) error {
	return e.s.createServer(ctx, srv)
}

// CreateServer persists a server owned by the tenant.
func (t *Tenant) CreateServer(ctx context.Context, srv *catalog.ToolServer) error {
	srv.OwnerID = t.userID
	return t.s.createServer(ctx, srv)
}

// --- tools ---

const toolColumns = `id, server_id, name, description, input_schema, resource_uri, enabled, created_at, updated_at`

func scanTool(row interface{ Scan(...any) error }) (*catalog.Tool, error) {
	var tool catalog.Tool
	var schemaText sql.NullString
	err := row.Scan(
		&tool.ID, &tool.ServerID, &tool.Name, &tool.Description,
		&schemaText, &tool.ResourceURI, &tool.Enabled,
		&tool.CreatedAt, &tool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if schemaText.Valid && schemaText.String != "" {
		tool.InputSchema = json.RawMessage(schemaText.String)
	}
	return &tool, nil
}

func (s *Store) listTools(ctx context.Context, serverID string) ([]*catalog.Tool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE server_id = ? ORDER BY name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("querying tools: %w", err)
	}
	defer rows.Close()

	var tools []*catalog.Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

func (s *Store) getToolWhere(ctx context.Context, clause string, args ...any) (*catalog.Tool, error) {
	tool, err := scanTool(s.db.QueryRowContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE `+clause, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrToolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tool: %w", err)
	}
	return tool, nil
}

func (s *Store) createTool(ctx context.Context, tool *catalog.Tool) error {
	if tool.ID == "" {
		tool.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tool.CreatedAt = now
	tool.UpdatedAt = now
	var schemaText any
	if len(tool.InputSchema) > 0 {
		schemaText = string(tool.InputSchema)
	}
	_, err := s.ctxExec(ctx,
		`INSERT INTO tools (id, server_id, name, description, input_schema, resource_uri, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tool.ID, tool.ServerID, tool.Name, tool.Description, schemaText,
		tool.ResourceURI, tool.Enabled, tool.CreatedAt, tool.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return catalog.ErrDuplicateTool
	}
	if err != nil {
		return fmt.Errorf("inserting tool: %w", err)
	}
	return nil
}

// ListTools returns all tools of a server.
func (e *Elevated) ListTools(ctx context.Context, serverID string) ([]*catalog.Tool, error) {
	return e.s.listTools(ctx, serverID)
}

// ListTools returns all tools of a server owned by the tenant.
func (t *Tenant) ListTools(ctx context.Context, serverID string) ([]*catalog.Tool, error) {
	if err := t.requireOwnedServer(ctx, serverID); err != nil {
		return nil, err
	}
	return t.s.listTools(ctx, serverID)
}

// GetToolByName retrieves a tool by (server, name).
func (e *Elevated) GetToolByName(ctx context.Context, serverID, name string) (*catalog.Tool, error) {
	return e.s.getToolWhere(ctx, `server_id = ? AND name = ?`, serverID, name)
}

// GetToolByName retrieves a tool by (server, name) on an owned server.
func (t *Tenant) GetToolByName(ctx context.Context, serverID, name string) (*catalog.Tool, error) {
	if err := t.requireOwnedServer(ctx, serverID); err != nil {
		return nil, err
	}
	return t.s.getToolWhere(ctx, `server_id = ? AND name = ?`, serverID, name)
}

// GetToolByURI retrieves a tool by (server, resource URI).
func (e *Elevated) GetToolByURI(ctx context.Context, serverID, uri string) (*catalog.Tool, error) {
	return e.s.getToolWhere(ctx, `server_id = ? AND resource_uri = ?`, serverID, uri)
}

// GetToolByURI retrieves a tool by (server, resource URI) on an owned server.
func (t *Tenant) GetToolByURI(ctx context.Context, serverID, uri string) (*catalog.Tool, error) {
	if err := t.requireOwnedServer(ctx, serverID); err != nil {
		return nil, err
	}
	return t.s.getToolWhere(ctx, `server_id = ? AND resource_uri = ?`, serverID, uri)
}

// CreateTool persists a tool. Returns catalog.ErrDuplicateTool on a
// (server, name) conflict.
func (e *Elevated) CreateTool(ctx context.Context, tool *catalog.Tool) error {
	return e.s.createTool(ctx, tool)
}

// CreateTool persists a tool on a server owned by the tenant.
func (t *Tenant) CreateTool(ctx context.Context, tool *catalog.Tool) error {
	if err := t.requireOwnedServer(ctx, tool.ServerID); err != nil {
		return err
	}
	return t.s.createTool(ctx, tool)
}

// requireOwnedServer verifies the server belongs to the tenant.
func (t *Tenant) requireOwnedServer(ctx context.Context, serverID string) error {
	var one int
	err := t.s.db.QueryRowContext(ctx,
		`SELECT 1 FROM tool_servers WHERE id = ? AND owner_id = ?`,
		serverID, t.userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrServerNotFound
	}
	if err != nil {
		return fmt.Errorf("checking server ownership: %w", err)
	}
	return nil
}

// --- upstream APIs ---

func (s *Store) getAPI(ctx context.Context, id string) (*catalog.UpstreamAPI, error) {
	var api catalog.UpstreamAPI
	var headers, cookies, queryParams string
	var payloadSchema sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, method, url, headers, cookies, query_params, payload_schema, enabled, created_at, updated_at
		 FROM upstream_apis WHERE id = ?`, id).Scan(
		&api.ID, &api.Name, &api.Method, &api.URL, &headers, &cookies,
		&queryParams, &payloadSchema, &api.Enabled, &api.CreatedAt, &api.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrAPINotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying upstream API: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &api.Headers); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}
	if err := json.Unmarshal([]byte(cookies), &api.Cookies); err != nil {
		return nil, fmt.Errorf("decoding cookies: %w", err)
	}
	if err := json.Unmarshal([]byte(queryParams), &api.QueryParams); err != nil {
		return nil, fmt.Errorf("decoding query params: %w", err)
	}
	if payloadSchema.Valid && payloadSchema.String != "" {
		api.PayloadSchema = json.RawMessage(payloadSchema.String)
	}
	return &api, nil
}

func (s *Store) createAPI(ctx context.Context, api *catalog.UpstreamAPI) error {
	if api.ID == "" {
		api.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	api.CreatedAt = now
	api.UpdatedAt = now

	headers, err := json.Marshal(orEmpty(api.Headers))
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	cookies, err := json.Marshal(orEmpty(api.Cookies))
	if err != nil {
		return fmt.Errorf("encoding cookies: %w", err)
	}
	queryParams, err := json.Marshal(orEmpty(api.QueryParams))
	if err != nil {
		return fmt.Errorf("encoding query params: %w", err)
	}
	var payloadSchema any
	if len(api.PayloadSchema) > 0 {
		payloadSchema = string(api.PayloadSchema)
	}

	_, err = s.ctxExec(ctx,
		`INSERT INTO upstream_apis (id, name, method, url, headers, cookies, query_params, payload_schema, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		api.ID, api.Name, api.Method, api.URL, string(headers), string(cookies),
		string(queryParams), payloadSchema, api.Enabled, api.CreatedAt, api.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting upstream API: %w", err)
	}
	return nil
}

func orEmpty(params []catalog.TemplateParam) []catalog.TemplateParam {
	if params == nil {
		return []catalog.TemplateParam{}
	}
	return params
}

// GetAPI retrieves an upstream API by id.
func (e *Elevated) GetAPI(ctx context.Context, id string) (*catalog.UpstreamAPI, error) {
	return e.s.getAPI(ctx, id)
}

// GetAPI retrieves an upstream API by id.
func (t *Tenant) GetAPI(ctx context.Context, id string) (*catalog.UpstreamAPI, error) {
	return t.s.getAPI(ctx, id)
}

// CreateAPI persists an upstream API.
func (e *Elevated) CreateAPI(ctx context.Context, api *catalog.UpstreamAPI) error {
	return e.s.createAPI(ctx, api)
}

// CreateAPI persists an upstream API.
func (t *Tenant) CreateAPI(ctx context.Context, api *catalog.UpstreamAPI) error {
	return t.s.createAPI(ctx, api)
}

// --- mappings ---

func (s *Store) getMappingByTool(ctx context.Context, toolID string) (*catalog.Mapping, error) {
	var m catalog.Mapping
	var fields string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tool_id, api_id, fields, created_at, updated_at
		 FROM mappings WHERE tool_id = ?`, toolID).Scan(
		&m.ID, &m.ToolID, &m.APIID, &fields, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &m.Fields); err != nil {
		return nil, fmt.Errorf("decoding field mappings: %w", err)
	}
	return &m, nil
}

func (s *Store) upsertMapping(ctx context.Context, m *catalog.Mapping) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	if m.Fields == nil {
		m.Fields = []catalog.FieldMapping{}
	}
	fields, err := json.Marshal(m.Fields)
	if err != nil {
		return fmt.Errorf("encoding field mappings: %w", err)
	}

	// At most one mapping per tool: conflicts on tool_id update in place.
	_, err = s.ctxExec(ctx,
		`INSERT INTO mappings (id, tool_id, api_id, fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tool_id) DO UPDATE SET
			api_id = excluded.api_id,
			fields = excluded.fields,
			updated_at = excluded.updated_at`,
		m.ID, m.ToolID, m.APIID, string(fields), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting mapping: %w", err)
	}
	return nil
}

// GetMappingByTool retrieves the mapping of a tool.
func (e *Elevated) GetMappingByTool(ctx context.Context, toolID string) (*catalog.Mapping, error) {
	return e.s.getMappingByTool(ctx, toolID)
}

// GetMappingByTool retrieves the mapping of a tool.
func (t *Tenant) GetMappingByTool(ctx context.Context, toolID string) (*catalog.Mapping, error) {
	return t.s.getMappingByTool(ctx, toolID)
}

// UpsertMapping creates or replaces the mapping of a tool.
func (e *Elevated) UpsertMapping(ctx context.Context, m *catalog.Mapping) error {
	return e.s.upsertMapping(ctx, m)
}

// UpsertMapping creates or replaces the mapping of a tool.
func (t *Tenant) UpsertMapping(ctx context.Context, m *catalog.Mapping) error {
	return t.s.upsertMapping(ctx, m)
}
