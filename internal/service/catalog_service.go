package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolbridge/toolbridge/internal/domain/catalog"
	"github.com/toolbridge/toolbridge/internal/domain/schema"
)

const (
	toolLookupAttempts = 3
	toolLookupBackoff  = 50 * time.Millisecond
)

// CatalogService handles creation and wiring of tool servers, tools,
// upstream APIs, and mappings on behalf of an owner.
type CatalogService struct {
	store  catalog.Store
	logger *slog.Logger
}

func NewCatalogService(store catalog.Store, logger *slog.Logger) *CatalogService {
	return &CatalogService{store: store, logger: logger}
}

// CreateServer registers a new tool server.
func (c *CatalogService) CreateServer(ctx context.Context, server *catalog.ToolServer) error {
	if err := c.store.CreateServer(ctx, server); err != nil {
		return fmt.Errorf("create server %q: %w", server.Slug, err)
	}
	return nil
}

// CreateAPI registers a new upstream API definition.
func (c *CatalogService) CreateAPI(ctx context.Context, api *catalog.UpstreamAPI) error {
	if err := c.store.CreateAPI(ctx, api); err != nil {
		return fmt.Errorf("create api %q: %w", api.Name, err)
	}
	return nil
}

// CreateToolWithMapping creates a tool and its upstream mapping in one step.
// The tool's schema is normalized before persisting so the serving path
// never sees a shorthand document. Two admins racing to create the same
// tool converge on a single row: the loser of the insert re-resolves the
// winner's row and upserts the mapping onto it.
func (c *CatalogService) CreateToolWithMapping(ctx context.Context, tool *catalog.Tool, mapping *catalog.Mapping) (*catalog.Tool, error) {
	parsed := schema.Parse(tool.InputSchema)
	for _, problem := range parsed.Errors {
		c.logger.Warn("schema normalized with problems", "tool", tool.Name, "problem", problem)
	}
	normalized, err := schema.Encode(parsed.Schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema for tool %q: %w", tool.Name, err)
	}
	tool.InputSchema = normalized

	created := tool
	if err := c.store.CreateTool(ctx, tool); err != nil {
		if !errors.Is(err, catalog.ErrDuplicateTool) {
			return nil, fmt.Errorf("create tool %q: %w", tool.Name, err)
		}
		existing, lookupErr := c.resolveExistingTool(ctx, tool.ServerID, tool.Name)
		if lookupErr != nil {
			return nil, fmt.Errorf("resolve concurrent tool %q: %w", tool.Name, lookupErr)
		}
		c.logger.Debug("tool already exists, reusing", "tool", tool.Name, "id", existing.ID)
		created = existing
	}

	mapping.ToolID = created.ID
	if err := c.store.UpsertMapping(ctx, mapping); err != nil {
		return nil, fmt.Errorf("upsert mapping for tool %q: %w", created.Name, err)
	}
	return created, nil
}

// resolveExistingTool polls for a row another writer just inserted. The
// insert that raced us may not be visible yet under snapshot isolation, so
// a short bounded retry covers the gap.
func (c *CatalogService) resolveExistingTool(ctx context.Context, serverID, name string) (*catalog.Tool, error) {
	var lastErr error
	for attempt := 0; attempt < toolLookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(toolLookupBackoff):
			}
		}
		tool, err := c.store.GetToolByName(ctx, serverID, name)
		if err == nil {
			return tool, nil
		}
		lastErr = err
		if !errors.Is(err, catalog.ErrToolNotFound) {
			break
		}
	}
	return nil, lastErr
}
