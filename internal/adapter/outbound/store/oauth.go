package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolbridge/toolbridge/internal/domain/auth"
	"github.com/toolbridge/toolbridge/internal/domain/usage"
)

// compile-time interface checks
var (
	_ auth.CodeStore  = (*Elevated)(nil)
	_ auth.TokenStore = (*Elevated)(nil)
	_ auth.GrantStore = (*Elevated)(nil)
	_ auth.UserStore  = (*Elevated)(nil)
	_ usage.Writer    = (*Elevated)(nil)
)

// --- authorization codes ---

// SaveCode persists a freshly issued authorization code.
func (e *Elevated) SaveCode(ctx context.Context, code *auth.AuthorizationCode) error {
	_, err := e.s.ctxExec(ctx,
		`INSERT INTO authorization_codes
			(code, client_id, redirect_uri, code_challenge, scope, resource, user_id, server_id, created_at, expires_at, used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.RedirectURI, code.CodeChallenge,
		code.Scope, code.Resource, code.UserID, code.ServerID,
		code.CreatedAt, code.ExpiresAt, nullTime(code.UsedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

// GetCode retrieves an authorization code by value.
func (e *Elevated) GetCode(ctx context.Context, code string) (*auth.AuthorizationCode, error) {
	var c auth.AuthorizationCode
	var usedAt sql.NullTime
	err := e.s.db.QueryRowContext(ctx,
		`SELECT code, client_id, redirect_uri, code_challenge, scope, resource, user_id, server_id, created_at, expires_at, used_at
		 FROM authorization_codes WHERE code = ?`, code).Scan(
		&c.Code, &c.ClientID, &c.RedirectURI, &c.CodeChallenge, &c.Scope,
		&c.Resource, &c.UserID, &c.ServerID, &c.CreatedAt, &c.ExpiresAt, &usedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying authorization code: %w", err)
	}
	c.UsedAt = timePtr(usedAt)
	return &c, nil
}

// RedeemCode atomically flips the code from unused to used. The conditional
// UPDATE guarantees that of two concurrent redemptions exactly one
// succeeds; the loser observes ErrCodeAlreadyUsed.
func (e *Elevated) RedeemCode(ctx context.Context, code string, usedAt time.Time) error {
	res, err := e.s.ctxExec(ctx,
		`UPDATE authorization_codes SET used_at = ? WHERE code = ? AND used_at IS NULL`,
		usedAt, code,
	)
	if err != nil {
		return fmt.Errorf("redeeming authorization code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking redemption result: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Lost the race or the code never existed; tell the caller which.
	if _, err := e.GetCode(ctx, code); err != nil {
		return err
	}
	return auth.ErrCodeAlreadyUsed
}

// --- tokens ---

// SaveToken persists a freshly minted token pair.
func (e *Elevated) SaveToken(ctx context.Context, token *auth.Token) error {
	_, err := e.s.ctxExec(ctx,
		`INSERT INTO tokens
			(id, server_id, user_id, client_id, scope, refresh_token_hash, access_expires_at, refresh_expires_at, created_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID, token.ServerID, token.UserID, token.ClientID, token.Scope,
		token.RefreshTokenHash, token.AccessExpiresAt, token.RefreshExpiresAt,
		token.CreatedAt, nullTime(token.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

const tokenColumns = `id, server_id, user_id, client_id, scope, refresh_token_hash, access_expires_at, refresh_expires_at, created_at, revoked_at`

func (e *Elevated) getTokenWhere(ctx context.Context, clause string, args ...any) (*auth.Token, error) {
	var t auth.Token
	var revokedAt sql.NullTime
	err := e.s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE `+clause, args...).Scan(
		&t.ID, &t.ServerID, &t.UserID, &t.ClientID, &t.Scope,
		&t.RefreshTokenHash, &t.AccessExpiresAt, &t.RefreshExpiresAt,
		&t.CreatedAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}
	t.RevokedAt = timePtr(revokedAt)
	return &t, nil
}

// GetToken retrieves a token pair by id (JWT jti).
func (e *Elevated) GetToken(ctx context.Context, id string) (*auth.Token, error) {
	return e.getTokenWhere(ctx, `id = ?`, id)
}

// GetTokenByRefreshHash retrieves a token pair by refresh token hash.
func (e *Elevated) GetTokenByRefreshHash(ctx context.Context, hash string) (*auth.Token, error) {
	return e.getTokenWhere(ctx, `refresh_token_hash = ?`, hash)
}

// RevokeToken marks a token pair revoked.
func (e *Elevated) RevokeToken(ctx context.Context, id string, revokedAt time.Time) error {
	res, err := e.s.ctxExec(ctx,
		`UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		revokedAt, id,
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		// Already revoked is not an error; revocation is terminal either way.
		if _, getErr := e.GetToken(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// RotateToken revokes the old pair and inserts its replacement inside one
// transaction. An unknown old pair rolls back with ErrTokenNotFound; an
// already-revoked old pair still gets its replacement, matching RevokeToken's
// terminal semantics.
func (e *Elevated) RotateToken(ctx context.Context, oldID string, revokedAt time.Time, replacement *auth.Token) error {
	tx, err := e.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		revokedAt, oldID,
	)
	if err != nil {
		return fmt.Errorf("revoking rotated token: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		var exists int
		scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM tokens WHERE id = ?`, oldID).Scan(&exists)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return auth.ErrTokenNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("checking rotated token: %w", scanErr)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tokens
			(id, server_id, user_id, client_id, scope, refresh_token_hash, access_expires_at, refresh_expires_at, created_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		replacement.ID, replacement.ServerID, replacement.UserID, replacement.ClientID, replacement.Scope,
		replacement.RefreshTokenHash, replacement.AccessExpiresAt, replacement.RefreshExpiresAt,
		replacement.CreatedAt, nullTime(replacement.RevokedAt),
	); err != nil {
		return fmt.Errorf("inserting replacement token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// --- access grants ---

// GetGrant retrieves the grant for (server, user).
func (e *Elevated) GetGrant(ctx context.Context, serverID, userID string) (*auth.AccessGrant, error) {
	var g auth.AccessGrant
	var expiresAt, revokedAt sql.NullTime
	err := e.s.db.QueryRowContext(ctx,
		`SELECT server_id, user_id, granted_by, created_at, expires_at, revoked_at
		 FROM access_grants WHERE server_id = ? AND user_id = ?`,
		serverID, userID).Scan(
		&g.ServerID, &g.UserID, &g.GrantedBy, &g.CreatedAt, &expiresAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access grant: %w", err)
	}
	g.ExpiresAt = timePtr(expiresAt)
	g.RevokedAt = timePtr(revokedAt)
	return &g, nil
}

// UpsertGrant creates or updates the grant for (server, user). Re-granting
// clears a prior revocation and refreshes the expiry.
func (e *Elevated) UpsertGrant(ctx context.Context, grant *auth.AccessGrant) error {
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	_, err := e.s.ctxExec(ctx,
		`INSERT INTO access_grants (server_id, user_id, granted_by, created_at, expires_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(server_id, user_id) DO UPDATE SET
			granted_by = excluded.granted_by,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			revoked_at = excluded.revoked_at`,
		grant.ServerID, grant.UserID, grant.GrantedBy, grant.CreatedAt,
		nullTime(grant.ExpiresAt), nullTime(grant.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting access grant: %w", err)
	}
	return nil
}

// RevokeGrant marks the grant for (server, user) revoked.
func (e *Elevated) RevokeGrant(ctx context.Context, serverID, userID string, revokedAt time.Time) error {
	res, err := e.s.ctxExec(ctx,
		`UPDATE access_grants SET revoked_at = ? WHERE server_id = ? AND user_id = ?`,
		revokedAt, serverID, userID,
	)
	if err != nil {
		return fmt.Errorf("revoking access grant: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return auth.ErrGrantNotFound
	}
	return nil
}

// --- users ---

// GetUser retrieves a user by id.
func (e *Elevated) GetUser(ctx context.Context, id string) (*auth.User, error) {
	return e.getUserWhere(ctx, `id = ?`, id)
}

// GetUserByUsername retrieves a user by login name.
func (e *Elevated) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return e.getUserWhere(ctx, `username = ?`, username)
}

func (e *Elevated) getUserWhere(ctx context.Context, clause string, args ...any) (*auth.User, error) {
	var u auth.User
	err := e.s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE `+clause, args...).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// CreateUser persists a new user.
func (e *Elevated) CreateUser(ctx context.Context, user *auth.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := e.s.ctxExec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// --- usage events ---

// SaveUsageEvent persists one usage event. Called only from the stats
// worker; failures are logged by the caller, never surfaced to requests.
func (e *Elevated) SaveUsageEvent(ctx context.Context, ev *usage.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := e.s.ctxExec(ctx,
		`INSERT INTO usage_events (tool_id, server_id, arg_shape, success, status, latency_ms, error_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ToolID, ev.ServerID, ev.ArgShape, ev.Success, ev.Status,
		ev.LatencyMS, ev.ErrorText, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting usage event: %w", err)
	}
	return nil
}
