package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/toolbridge/toolbridge/internal/domain/auth"
	"github.com/toolbridge/toolbridge/internal/domain/catalog"
	"github.com/toolbridge/toolbridge/internal/service"
	"github.com/toolbridge/toolbridge/pkg/mcp"
)

// maxRequestBody caps the JSON-RPC request size at 1MB.
const maxRequestBody = 1 << 20

// MCPHandler serves the protocol endpoint of every tool server. The HTTP
// layer decides only who may talk to a server; what they say is the
// dispatcher's problem.
type MCPHandler struct {
	store      catalog.Store
	gate       *auth.Gate
	tokens     *service.TokenService
	dispatcher *service.DispatchService
	baseURL    string
	metrics    *Metrics
	logger     *slog.Logger
}

// NewMCPHandler creates the protocol endpoint handler. baseURL is the
// externally visible origin used in WWW-Authenticate challenges.
func NewMCPHandler(store catalog.Store, gate *auth.Gate, tokens *service.TokenService, dispatcher *service.DispatchService, baseURL string, logger *slog.Logger) *MCPHandler {
	return &MCPHandler{
		store:      store,
		gate:       gate,
		tokens:     tokens,
		dispatcher: dispatcher,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// HandleRPC serves POST /api/mcp/{slug}. Authorization failures use HTTP
// status codes; everything after that point is HTTP 200 with a JSON-RPC
// envelope.
func (h *MCPHandler) HandleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	server, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	userID, ok := h.authorize(w, r, server)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds limit")
		return
	}

	logger.Debug("dispatching request", "server", server.Slug, "user", userID)
	resp := h.dispatcher.Handle(ctx, server, body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// HandleDiscovery serves GET /api/mcp/{slug}. The metadata document is
// public for every server; private servers additionally carry the
// WWW-Authenticate challenge so clients learn where to obtain a token
// before their first RPC.
func (h *MCPHandler) HandleDiscovery(w http.ResponseWriter, r *http.Request) {
	server, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	authRequired := server.Visibility == catalog.VisibilityPrivate
	doc := map[string]any{
		"name":                   server.Name,
		"slug":                   server.Slug,
		"description":            server.Description,
		"protocol_version":       mcp.ProtocolVersion,
		"authorization_required": authRequired,
		"endpoints": map[string]string{
			"mcp":           h.baseURL + "/api/mcp/" + server.Slug,
			"authorization": h.baseURL + "/api/oauth/" + server.Slug + "/authorize",
			"token":         h.baseURL + "/api/oauth/" + server.Slug + "/token",
		},
	}

	if authRequired {
		w.Header().Set("WWW-Authenticate", h.challengeValue(server))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
}

// resolveServer loads the tool server for the request slug, writing the
// error response itself when the server does not exist or is disabled.
func (h *MCPHandler) resolveServer(w http.ResponseWriter, r *http.Request) (*catalog.ToolServer, bool) {
	slug := r.PathValue("slug")
	server, err := h.store.GetServerBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, catalog.ErrServerNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "unknown tool server")
		} else {
			LoggerFromContext(r.Context()).Error("server lookup failed", "slug", slug, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "server lookup failed")
		}
		return nil, false
	}
	return server, true
}

// authorize validates the bearer token (when present) and runs the access
// gate. It writes the 401/403 response itself and reports whether the
// request may proceed; the returned user ID is empty for anonymous access.
func (h *MCPHandler) authorize(w http.ResponseWriter, r *http.Request, server *catalog.ToolServer) (string, bool) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	userID := ""
	if token := bearerToken(r); token != "" {
		record, err := h.tokens.ValidateAccessToken(ctx, token, server.ID)
		if err != nil {
			h.countAuthFailure(tokenFailureReason(err))
			h.writeChallenge(w, server, err)
			return "", false
		}
		userID = record.UserID
	}

	decision, err := h.gate.CheckAccess(ctx, server, userID)
	if err != nil {
		logger.Error("access check failed", "server", server.Slug, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "access check failed")
		return "", false
	}
	if !decision.Allowed {
		if userID == "" {
			// No credentials at all: challenge instead of refusing.
			h.countAuthFailure("missing_token")
			h.writeChallenge(w, server, nil)
			return "", false
		}
		h.countAuthFailure("denied")
		writeJSONError(w, http.StatusForbidden, "access_denied", decision.Reason)
		return "", false
	}
	return userID, true
}

// writeChallenge answers 401 with a WWW-Authenticate header pointing the
// client at the server's OAuth surface. When the failure was an expired but
// refreshable token, the challenge says so; clients use that to refresh
// instead of restarting the flow.
func (h *MCPHandler) writeChallenge(w http.ResponseWriter, server *catalog.ToolServer, cause error) {
	challenge := h.challengeValue(server)

	description := ""
	var expired *service.ExpiredTokenError
	if errors.As(cause, &expired) {
		if expired.Refreshable {
			description = "token expired, use refresh_token"
		} else {
			description = "token expired"
		}
	} else if cause != nil {
		description = "invalid token"
	}
	if description != "" {
		challenge += fmt.Sprintf(", error=%q, error_description=%q", "invalid_token", description)
	}

	w.Header().Set("WWW-Authenticate", challenge)
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", description)
}

// challengeValue builds the Bearer challenge advertising the server's OAuth
// surface.
func (h *MCPHandler) challengeValue(server *catalog.ToolServer) string {
	metadata := h.baseURL + "/api/oauth/" + server.Slug
	return fmt.Sprintf("Bearer realm=%q, resource_metadata=%q, scope=%q", "mcp", metadata, auth.DefaultScope)
}

func (h *MCPHandler) countAuthFailure(reason string) {
	if h.metrics != nil {
		h.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
}

// tokenFailureReason maps a validation error to a metrics label.
func tokenFailureReason(err error) string {
	var expired *service.ExpiredTokenError
	switch {
	case errors.As(err, &expired):
		return "expired"
	case errors.Is(err, service.ErrTokenRevoked):
		return "revoked"
	default:
		return "invalid_token"
	}
}

// writeJSONError writes a JSON error document with the given HTTP status.
func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
