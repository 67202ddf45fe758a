package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolbridge/toolbridge/internal/ctxkey"
	"github.com/toolbridge/toolbridge/internal/domain/catalog"
	"github.com/toolbridge/toolbridge/internal/domain/schema"
	"github.com/toolbridge/toolbridge/internal/domain/transform"
	"github.com/toolbridge/toolbridge/internal/domain/usage"
	"github.com/toolbridge/toolbridge/internal/port/outbound"
	"github.com/toolbridge/toolbridge/pkg/mcp"
)

// serverVersion is reported in the initialize serverInfo block.
const serverVersion = "1.0.0"

// DispatchService is the stateless per-request protocol handler. It owns
// no mutable state; every call resolves everything it needs from the store.
type DispatchService struct {
	store   catalog.Store
	eval    transform.ExpressionEvaluator
	invoker outbound.UpstreamInvoker
	stats   *StatsService
	logger  *slog.Logger
}

// NewDispatchService creates the protocol dispatcher.
func NewDispatchService(store catalog.Store, eval transform.ExpressionEvaluator, invoker outbound.UpstreamInvoker, stats *StatsService, logger *slog.Logger) *DispatchService {
	return &DispatchService{
		store:   store,
		eval:    eval,
		invoker: invoker,
		stats:   stats,
		logger:  logger,
	}
}

// loggerFromContext retrieves the enriched logger from context, falling
// back to the service logger.
func (d *DispatchService) loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return d.logger
}

// Handle processes one JSON-RPC request against a tool server and returns
// the encoded response body. Protocol failures become error envelopes, not
// Go errors; the HTTP layer always writes 200 with whatever this returns.
func (d *DispatchService) Handle(ctx context.Context, server *catalog.ToolServer, raw []byte) []byte {
	started := time.Now()
	logger := d.loggerFromContext(ctx)

	msg, err := mcp.Decode(raw)
	if err != nil {
		d.emit(server, "", nil, false, 0, started, "parse error")
		return d.encodeError(nil, mcp.ErrCodeParse, "parse error", nil)
	}

	// Notifications are acknowledged with an empty success and never
	// produce an error body.
	if msg.IsNotification() {
		d.emit(server, "", nil, true, 0, started, "")
		out, _ := mcp.EncodeResult(msg.RawID(), struct{}{})
		return out
	}

	id := msg.RawID()

	switch msg.Method() {
	case "initialize":
		return d.handleInitialize(ctx, server, msg, started)
	case "ping":
		d.emit(server, "", nil, true, 0, started, "")
		out, _ := mcp.EncodeResult(id, struct{}{})
		return out
	case "tools/list":
		return d.handleToolsList(ctx, server, msg, started)
	case "tools/call":
		return d.handleToolsCall(ctx, server, msg, started)
	case "resources/list":
		return d.handleResourcesList(ctx, server, msg, started)
	case "resources/read":
		return d.handleResourcesRead(ctx, server, msg, started)
	default:
		logger.Debug("unknown method", "method", msg.Method(), "server", server.Slug)
		d.emit(server, "", nil, false, 0, started, "method not found")
		return d.encodeError(id, mcp.ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method()), nil)
	}
}

// handleInitialize reports the protocol version, the capability set derived
// from which enabled tools exist, and the server identity.
func (d *DispatchService) handleInitialize(ctx context.Context, server *catalog.ToolServer, msg *mcp.Message, started time.Time) []byte {
	tools, err := d.enabledTools(ctx, server)
	if err != nil {
		d.emit(server, "", nil, false, 0, started, err.Error())
		return d.encodeError(msg.RawID(), mcp.ErrCodeInternal, "failed to list tools", nil)
	}

	caps := mcp.Capabilities{}
	if len(tools) > 0 {
		caps.Tools = &struct{}{}
		caps.Resources = &struct{}{}
	}

	d.emit(server, "", nil, true, 0, started, "")
	out, _ := mcp.EncodeResult(msg.RawID(), mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    caps,
		ServerInfo: mcp.ServerInfo{
			Name:    server.Name,
			Version: serverVersion,
		},
	})
	return out
}

// handleToolsList returns every enabled tool with its normalized schema.
func (d *DispatchService) handleToolsList(ctx context.Context, server *catalog.ToolServer, msg *mcp.Message, started time.Time) []byte {
	tools, err := d.enabledTools(ctx, server)
	if err != nil {
		d.emit(server, "", nil, false, 0, started, err.Error())
		return d.encodeError(msg.RawID(), mcp.ErrCodeInternal, "failed to list tools", nil)
	}

	descriptors := make([]mcp.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		parsed := schema.Parse(tool.InputSchema)
		encoded, err := schema.Encode(parsed.Schema)
		if err != nil {
			continue
		}
		descriptors = append(descriptors, mcp.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: encoded,
		})
	}

	d.emit(server, "", nil, true, 0, started, "")
	out, _ := mcp.EncodeResult(msg.RawID(), mcp.ToolListResult{Tools: descriptors})
	return out
}

// handleToolsCall validates the arguments, transforms them, invokes the
// upstream API, and wraps the proxied result. isError reflects the
// upstream status, never a transport-level failure of toolbridge itself.
func (d *DispatchService) handleToolsCall(ctx context.Context, server *catalog.ToolServer, msg *mcp.Message, started time.Time) []byte {
	params := msg.ParseParams()
	name, _ := params["name"].(string)
	if name == "" {
		d.emit(server, "", nil, false, 0, started, "missing tool name")
		return d.encodeError(msg.RawID(), mcp.ErrCodeInvalidParams, "params.name is required", nil)
	}
	args, _ := params["arguments"].(map[string]interface{})

	tool, err := d.store.GetToolByName(ctx, server.ID, name)
	if err != nil || !tool.Enabled {
		d.emit(server, "", args, false, 0, started, "unknown tool "+name)
		return d.encodeError(msg.RawID(), mcp.ErrCodeInvalidParams, fmt.Sprintf("unknown tool: %s", name), nil)
	}

	result, errEnvelope := d.invokeTool(ctx, server, tool, args, msg.RawID(), started)
	if errEnvelope != nil {
		return errEnvelope
	}
	out, _ := mcp.EncodeResult(msg.RawID(), result)
	return out
}

// invokeTool runs the shared validation -> transform -> invoke path used by
// tools/call and resources/read. It returns either the call result or an
// already-encoded error envelope.
func (d *DispatchService) invokeTool(ctx context.Context, server *catalog.ToolServer, tool *catalog.Tool, args map[string]interface{}, id json.RawMessage, started time.Time) (*mcp.CallToolResult, []byte) {
	logger := d.loggerFromContext(ctx)

	mapping, err := d.store.GetMappingByTool(ctx, tool.ID)
	if err != nil {
		if errors.Is(err, catalog.ErrMappingNotFound) {
			d.emit(server, tool.ID, args, false, 0, started, "no mapping")
			msg := fmt.Sprintf("tool %q has no mapping; create one under /admin/servers/%s/tools/%s/mapping", tool.Name, server.Slug, tool.Name)
			return nil, d.encodeError(id, mcp.ErrCodeConfiguration, msg, nil)
		}
		d.emit(server, tool.ID, args, false, 0, started, err.Error())
		return nil, d.encodeError(id, mcp.ErrCodeInternal, "failed to resolve mapping", nil)
	}

	parsed := schema.Parse(tool.InputSchema)
	if err := schema.ValidateArguments(parsed.Schema, args); err != nil {
		var argErr *schema.ArgumentError
		var data any
		if errors.As(err, &argErr) {
			data = map[string]any{
				"unknown":  argErr.Unknown,
				"missing":  argErr.Missing,
				"accepted": argErr.Accepted,
			}
		}
		d.emit(server, tool.ID, args, false, 0, started, err.Error())
		return nil, d.encodeError(id, mcp.ErrCodeInvalidParams, err.Error(), data)
	}

	api, err := d.store.GetAPI(ctx, mapping.APIID)
	if err != nil {
		d.emit(server, tool.ID, args, false, 0, started, err.Error())
		return nil, d.encodeError(id, mcp.ErrCodeConfiguration, "mapped upstream API no longer exists", nil)
	}
	if !api.Enabled {
		d.emit(server, tool.ID, args, false, 0, started, "upstream API disabled")
		msg := fmt.Sprintf("upstream API %q is disabled; re-enable it under /admin/apis/%s", api.Name, api.ID)
		return nil, d.encodeError(id, mcp.ErrCodeConfiguration, msg, nil)
	}

	payload, err := transform.Apply(ctx, mapping.Fields, args, d.eval)
	if err != nil {
		d.emit(server, tool.ID, args, false, 0, started, err.Error())
		return nil, d.encodeError(id, mcp.ErrCodeInternal, fmt.Sprintf("argument transformation failed: %v", err), nil)
	}

	resp, warnings, err := d.invoker.Invoke(ctx, api, payload, args)
	if err != nil {
		// Unreachable upstream is part of the proxied result, not a
		// toolbridge failure.
		logger.Warn("upstream invocation failed", "tool", tool.Name, "error", err)
		d.emit(server, tool.ID, args, false, 0, started, err.Error())
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent(fmt.Sprintf("upstream error: %v", err))},
			IsError: true,
		}, nil
	}
	for _, w := range warnings {
		logger.Debug("substitution warning", "tool", tool.Name, "warning", w)
	}

	wrapped, err := json.Marshal(map[string]any{
		"status":  resp.Status,
		"headers": resp.Headers,
		"data":    resp.Data,
	})
	if err != nil {
		d.emit(server, tool.ID, args, false, resp.Status, started, err.Error())
		return nil, d.encodeError(id, mcp.ErrCodeInternal, "failed to encode upstream response", nil)
	}

	isError := resp.Status >= 400
	d.emit(server, tool.ID, args, !isError, resp.Status, started, "")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent(string(wrapped))},
		IsError: isError,
	}, nil
}

// handleResourcesList advertises every enabled tool as a resource under its
// URI, with the normalized schema as params.
func (d *DispatchService) handleResourcesList(ctx context.Context, server *catalog.ToolServer, msg *mcp.Message, started time.Time) []byte {
	tools, err := d.enabledTools(ctx, server)
	if err != nil {
		d.emit(server, "", nil, false, 0, started, err.Error())
		return d.encodeError(msg.RawID(), mcp.ErrCodeInternal, "failed to list resources", nil)
	}

	resources := make([]mcp.ResourceDescriptor, 0, len(tools))
	for _, tool := range tools {
		parsed := schema.Parse(tool.InputSchema)
		encoded, err := schema.Encode(parsed.Schema)
		if err != nil {
			continue
		}
		resources = append(resources, mcp.ResourceDescriptor{
			URI:         tool.ResourceURI,
			Name:        tool.Name,
			Description: tool.Description,
			MimeType:    "application/json",
			Params:      encoded,
		})
	}

	d.emit(server, "", nil, true, 0, started, "")
	out, _ := mcp.EncodeResult(msg.RawID(), mcp.ResourceListResult{Resources: resources})
	return out
}

// handleResourcesRead resolves a tool by URI. With params it runs the same
// validation and invocation path as tools/call; without, it returns the
// tool's static description.
func (d *DispatchService) handleResourcesRead(ctx context.Context, server *catalog.ToolServer, msg *mcp.Message, started time.Time) []byte {
	params := msg.ParseParams()
	uri, _ := params["uri"].(string)
	if uri == "" {
		d.emit(server, "", nil, false, 0, started, "missing resource uri")
		return d.encodeError(msg.RawID(), mcp.ErrCodeInvalidParams, "params.uri is required", nil)
	}

	tool, err := d.store.GetToolByURI(ctx, server.ID, uri)
	if err != nil || !tool.Enabled {
		d.emit(server, "", nil, false, 0, started, "unknown resource "+uri)
		return d.encodeError(msg.RawID(), mcp.ErrCodeInvalidParams, fmt.Sprintf("unknown resource: %s", uri), nil)
	}

	if rawArgs, ok := params["params"].(map[string]interface{}); ok {
		result, errEnvelope := d.invokeTool(ctx, server, tool, rawArgs, msg.RawID(), started)
		if errEnvelope != nil {
			return errEnvelope
		}
		text := ""
		if len(result.Content) > 0 {
			text = result.Content[0].Text
		}
		out, _ := mcp.EncodeResult(msg.RawID(), mcp.ReadResourceResult{
			Contents: []mcp.ResourceContents{{URI: uri, MimeType: "application/json", Text: text}},
		})
		return out
	}

	d.emit(server, tool.ID, nil, true, 0, started, "")
	out, _ := mcp.EncodeResult(msg.RawID(), mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: tool.Description}},
	})
	return out
}

// enabledTools lists the server's enabled tools.
func (d *DispatchService) enabledTools(ctx context.Context, server *catalog.ToolServer) ([]*catalog.Tool, error) {
	tools, err := d.store.ListTools(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	enabled := tools[:0]
	for _, tool := range tools {
		if tool.Enabled {
			enabled = append(enabled, tool)
		}
	}
	return enabled, nil
}

// emit records a usage event; it never blocks or fails the response.
func (d *DispatchService) emit(server *catalog.ToolServer, toolID string, args map[string]interface{}, success bool, status int, started time.Time, errText string) {
	if d.stats == nil {
		return
	}
	d.stats.Record(&usage.Event{
		ToolID:    toolID,
		ServerID:  server.ID,
		ArgShape:  usage.ArgShape(args),
		Success:   success,
		Status:    status,
		LatencyMS: time.Since(started).Milliseconds(),
		ErrorText: errText,
	})
}

// encodeError builds an error envelope, falling back to a fixed placeholder
// id so the envelope is always well-formed.
func (d *DispatchService) encodeError(id json.RawMessage, code int64, message string, data any) []byte {
	out, err := mcp.EncodeError(id, code, message, data)
	if err != nil {
		d.logger.Error("failed to encode error response", "error", err)
		return []byte(`{"jsonrpc":"2.0","id":0,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return out
}
