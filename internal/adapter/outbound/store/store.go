// Package store implements persistence for catalog and authorization
// entities on SQLite using modernc.org/sqlite.
//
// Access runs through two handles. Tenant(userID) scopes catalog writes to
// rows owned by that user. Elevated() bypasses per-tenant filtering: the
// OAuth authorize and token endpoints are public and unauthenticated by
// design, and the protocol dispatcher establishes its own right to a server
// through the access gate and token audience check. Elevated is the single,
// documented privileged path; nothing else reads unfiltered.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the root SQLite handle. Obtain a Tenant or Elevated view before
// touching data.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a SQLite store at the given path. The schema is created if it
// doesn't exist. Parent directories are created as needed. Use ":memory:"
// for an ephemeral store in tests.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection sidesteps table-lock contention between the
	// pooled handlers; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Elevated returns the unfiltered view used by the public OAuth endpoints
// and the protocol dispatcher.
func (s *Store) Elevated() *Elevated {
	return &Elevated{s: s}
}

// Tenant returns a view whose catalog writes are attributed to and filtered
// by the given owner.
func (s *Store) Tenant(userID string) *Tenant {
	return &Tenant{s: s, userID: userID}
}

// createSchema creates the database tables if they don't exist.
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tool_servers (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL DEFAULT 'private',
			enabled INTEGER NOT NULL DEFAULT 1,
			owner_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tools (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			input_schema TEXT,
			resource_uri TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (server_id) REFERENCES tool_servers(id) ON DELETE CASCADE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tools_server_name
			ON tools(server_id, name);

		CREATE INDEX IF NOT EXISTS idx_tools_server_uri
			ON tools(server_id, resource_uri);

		CREATE TABLE IF NOT EXISTS upstream_apis (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			headers TEXT NOT NULL DEFAULT '[]',
			cookies TEXT NOT NULL DEFAULT '[]',
			query_params TEXT NOT NULL DEFAULT '[]',
			payload_schema TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS mappings (
			id TEXT PRIMARY KEY,
			tool_id TEXT NOT NULL UNIQUE,
			api_id TEXT NOT NULL,
			fields TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (tool_id) REFERENCES tools(id) ON DELETE CASCADE,
			FOREIGN KEY (api_id) REFERENCES upstream_apis(id)
		);

		CREATE TABLE IF NOT EXISTS authorization_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			code_challenge TEXT NOT NULL,
			scope TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			server_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			used_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			refresh_token_hash TEXT NOT NULL,
			access_expires_at DATETIME NOT NULL,
			refresh_expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			revoked_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_tokens_refresh_hash
			ON tokens(refresh_token_hash);

		CREATE TABLE IF NOT EXISTS access_grants (
			server_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			granted_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME,
			revoked_at DATETIME,
			PRIMARY KEY (server_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS usage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_id TEXT NOT NULL DEFAULT '',
			server_id TEXT NOT NULL DEFAULT '',
			arg_shape TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_text TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullTime converts an optional time for storage.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts a scanned nullable time back to a pointer.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// ctxExec is a tiny helper shared by the views.
func (s *Store) ctxExec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}
