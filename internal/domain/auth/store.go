package auth

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for authorization store operations.
var (
	// ErrCodeNotFound is returned when an authorization code is unknown.
	ErrCodeNotFound = errors.New("authorization code not found")
	// ErrCodeAlreadyUsed is returned when the conditional redemption loses
	// to a concurrent (or earlier) redemption of the same code.
	ErrCodeAlreadyUsed = errors.New("authorization code already used")
	// ErrTokenNotFound is returned when a token pair is unknown.
	ErrTokenNotFound = errors.New("token not found")
	// ErrGrantNotFound is returned when no access grant exists.
	ErrGrantNotFound = errors.New("access grant not found")
	// ErrUserNotFound is returned when a user is unknown.
	ErrUserNotFound = errors.New("user not found")
)

// CodeStore persists authorization codes. Used by the OAuth endpoints via
// the store's elevated path: the token and authorize endpoints are public
// by design and carry no tenant.
type CodeStore interface {
	// SaveCode persists a freshly issued code.
	SaveCode(ctx context.Context, code *AuthorizationCode) error

	// GetCode retrieves a code by value. Returns ErrCodeNotFound if absent.
	GetCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RedeemCode atomically flips the code from unused to used
	// (set used_at where used_at is null). Exactly one concurrent caller
	// succeeds; every other caller gets ErrCodeAlreadyUsed.
	RedeemCode(ctx context.Context, code string, usedAt time.Time) error
}

// TokenStore persists access/refresh token pairs.
type TokenStore interface {
	// SaveToken persists a freshly minted pair.
	SaveToken(ctx context.Context, token *Token) error

	// GetToken retrieves a pair by id (JWT jti).
	// Returns ErrTokenNotFound if absent.
	GetToken(ctx context.Context, id string) (*Token, error)

	// GetTokenByRefreshHash retrieves a pair by the SHA-256 hex hash of its
	// refresh token value. Returns ErrTokenNotFound if absent.
	GetTokenByRefreshHash(ctx context.Context, hash string) (*Token, error)

	// RevokeToken marks a pair revoked (terminal).
	RevokeToken(ctx context.Context, id string, revokedAt time.Time) error

	// RotateToken revokes the old pair and persists its replacement in one
	// transaction, so a refresh never leaves the user with neither pair.
	// Returns ErrTokenNotFound if the old pair is unknown.
	RotateToken(ctx context.Context, oldID string, revokedAt time.Time, replacement *Token) error
}

// GrantStore persists access grants.
type GrantStore interface {
	// GetGrant retrieves the grant for (server, user).
	// Returns ErrGrantNotFound if no row exists.
	GetGrant(ctx context.Context, serverID, userID string) (*AccessGrant, error)

	// UpsertGrant creates or updates the grant for (server, user).
	UpsertGrant(ctx context.Context, grant *AccessGrant) error

	// RevokeGrant marks the grant for (server, user) revoked.
	RevokeGrant(ctx context.Context, serverID, userID string, revokedAt time.Time) error
}

// UserStore looks up users for the login step.
type UserStore interface {
	// GetUser retrieves a user by id. Returns ErrUserNotFound if absent.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by login name.
	// Returns ErrUserNotFound if absent.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// CreateUser persists a new user. The ID is set by the implementation
	// if empty.
	CreateUser(ctx context.Context, user *User) error
}
