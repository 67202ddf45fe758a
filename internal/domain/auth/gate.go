package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolbridge/toolbridge/internal/domain/catalog"
)

// Decision is the outcome of an access check.
type Decision struct {
	// Allowed reports whether the (server, user) pair may proceed.
	Allowed bool
	// IsOwner is true when the user owns the server.
	IsOwner bool
	// Reason explains a denial; empty when allowed.
	Reason string
}

// Gate resolves whether a (server, user) pair may proceed, combining
// visibility, ownership, and explicit grants. It is the single authority
// consulted by both the authorize step and the per-request token check.
type Gate struct {
	grants GrantStore
}

// NewGate creates a gate backed by the given grant store.
func NewGate(grants GrantStore) *Gate {
	return &Gate{grants: grants}
}

// CheckAccess evaluates access for userID against the server.
// userID is empty for unauthenticated callers.
func (g *Gate) CheckAccess(ctx context.Context, server *catalog.ToolServer, userID string) (Decision, error) {
	if !server.Enabled {
		return Decision{Reason: "server is disabled"}, nil
	}

	isOwner := userID != "" && userID == server.OwnerID

	if server.Visibility == catalog.VisibilityPublic {
		return Decision{Allowed: true, IsOwner: isOwner}, nil
	}

	if userID == "" {
		return Decision{Reason: "authentication required"}, nil
	}
	if isOwner {
		return Decision{Allowed: true, IsOwner: true}, nil
	}

	grant, err := g.grants.GetGrant(ctx, server.ID, userID)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return Decision{Reason: "no access grant for this server"}, nil
		}
		return Decision{}, fmt.Errorf("looking up access grant: %w", err)
	}
	if grant.IsRevoked() {
		return Decision{Reason: "access grant revoked"}, nil
	}
	if grant.IsExpired() {
		return Decision{Reason: "access grant expired"}, nil
	}
	return Decision{Allowed: true}, nil
}
