// Package auth contains the domain types and logic for OAuth 2.1
// authorization: codes, tokens, access grants, users, and the access
// control gate.
package auth

import (
	"time"
)

// CodeTTL is how long an authorization code stays redeemable.
const CodeTTL = 10 * time.Minute

// AccessTokenTTL is the validity window of a signed access token.
const AccessTokenTTL = time.Hour

// RefreshTokenTTL is the validity window of a refresh token.
const RefreshTokenTTL = 7 * 24 * time.Hour

// DefaultScope is granted when an authorize request names no scope.
const DefaultScope = "mcp:tools mcp:resources"

// User is an account that can own servers, hold grants, and log in during
// the authorize step for private servers.
type User struct {
	// ID is the unique identifier for this user.
	ID string
	// Username is the login name, unique across users.
	Username string
	// PasswordHash is the Argon2id PHC-format hash of the password.
	PasswordHash string
	// CreatedAt is when the user was created (UTC).
	CreatedAt time.Time
}

// AuthorizationCode is a single-use, short-lived credential bound to the
// request that issued it. It transitions unused -> used exactly once, or
// expires.
type AuthorizationCode struct {
	// Code is the opaque code value handed to the client.
	Code string
	// ClientID is the OAuth client the code was issued to.
	ClientID string
	// RedirectURI is the redirect the code must be redeemed with.
	RedirectURI string
	// CodeChallenge is the S256 PKCE challenge from the authorize request.
	CodeChallenge string
	// Scope is the granted scope set.
	Scope string
	// Resource is the optional resource indicator from the request.
	Resource string
	// UserID is the authenticated user, empty for public servers.
	UserID string
	// ServerID is the tool server the code authorizes.
	ServerID string
	// CreatedAt is when the code was issued (UTC).
	CreatedAt time.Time
	// ExpiresAt is CreatedAt + CodeTTL.
	ExpiresAt time.Time
	// UsedAt is set exactly once by the conditional-update redemption.
	UsedAt *time.Time
}

// IsExpired returns true once the code's redemption window has passed.
func (c *AuthorizationCode) IsExpired() bool {
	return time.Now().UTC().After(c.ExpiresAt)
}

// IsUsed returns true once the code has been redeemed.
func (c *AuthorizationCode) IsUsed() bool {
	return c.UsedAt != nil
}

// Token is an issued access/refresh token pair. The access token value is
// a signed JWT; the refresh token is opaque and stored hashed. Refresh
// always revokes the pair and mints a new one.
type Token struct {
	// ID is the unique identifier for this token pair (the JWT jti).
	ID string
	// ServerID is the audience the access token was minted for.
	ServerID string
	// UserID is the subject, empty for public servers.
	UserID string
	// ClientID is the OAuth client the pair belongs to.
	ClientID string
	// Scope is the granted scope set.
	Scope string
	// RefreshTokenHash is the SHA-256 hex hash of the refresh token value.
	RefreshTokenHash string
	// AccessExpiresAt is when the access token expires (UTC).
	AccessExpiresAt time.Time
	// RefreshExpiresAt is when the refresh token expires (UTC).
	RefreshExpiresAt time.Time
	// CreatedAt is when the pair was minted (UTC).
	CreatedAt time.Time
	// RevokedAt is set when the pair is rotated or revoked (terminal).
	RevokedAt *time.Time
}

// IsRevoked returns true once the pair has been rotated or revoked.
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

// RefreshExpired returns true once the refresh token can no longer rotate.
func (t *Token) RefreshExpired() bool {
	return time.Now().UTC().After(t.RefreshExpiresAt)
}

// AccessGrant allows a non-owner user to use a private tool server.
// Grants are upserted per (server, user); re-granting updates the row.
type AccessGrant struct {
	// ServerID is the private server access is granted to.
	ServerID string
	// UserID is the grantee.
	UserID string
	// GrantedBy is the user who issued the grant.
	GrantedBy string
	// CreatedAt is when the grant was created or last updated (UTC).
	CreatedAt time.Time
	// ExpiresAt bounds the grant lifetime (nil = no expiry).
	ExpiresAt *time.Time
	// RevokedAt is set when the grant is revoked.
	RevokedAt *time.Time
}

// IsExpired returns true if the grant has an expiry in the past.
// A grant with nil ExpiresAt never expires.
func (g *AccessGrant) IsExpired() bool {
	if g.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*g.ExpiresAt)
}

// IsRevoked returns true once the grant has been revoked.
func (g *AccessGrant) IsRevoked() bool {
	return g.RevokedAt != nil
}
