// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, applies pragmas and creates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps pragmas (and an
	// in-memory database) on one handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_keys (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			label       TEXT NOT NULL,
			public_key  TEXT NOT NULL,
			key_hash    TEXT NOT NULL UNIQUE,
			created_at  TEXT NOT NULL,
			revoked_at  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_agent_keys_user ON agent_keys(user_id);

		-- Nonces are unique per key hash. The primary key is the atomic
		-- first-write-wins guard against replay.
		CREATE TABLE IF NOT EXISTS nonces (
			key_hash   TEXT NOT NULL,
			nonce      TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,

			PRIMARY KEY (key_hash, nonce)
		);

		CREATE INDEX IF NOT EXISTS idx_nonces_expires ON nonces(expires_at);

		CREATE TABLE IF NOT EXISTS files (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			owner_type   TEXT NOT NULL,
			filename     TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size_bytes   INTEGER NOT NULL,
			blob_path    TEXT NOT NULL DEFAULT '',
			sha256       TEXT NOT NULL DEFAULT '',
			state        TEXT NOT NULL DEFAULT 'pending',
			created_at   TEXT NOT NULL,
			deleted_at   TEXT,

			CHECK (owner_type IN ('human', 'agent')),
			CHECK (state IN ('pending', 'confirmed'))
		);

		CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_id);

		CREATE TABLE IF NOT EXISTS grants (
			id               TEXT PRIMARY KEY,
			file_id          TEXT NOT NULL REFERENCES files(id),
			grantor_id       TEXT NOT NULL,
			grantor_type     TEXT NOT NULL,
			grantee_key_hash TEXT NOT NULL,
			permissions_json TEXT NOT NULL,
			expires_at       TEXT NOT NULL,
			revoked_at       TEXT,
			created_at       TEXT NOT NULL,

			CHECK (grantor_type IN ('human', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_grants_grantee ON grants(grantee_key_hash);
		CREATE INDEX IF NOT EXISTS idx_grants_file ON grants(file_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id      TEXT PRIMARY KEY,
			actor_type    TEXT NOT NULL,
			actor_id      TEXT NOT NULL,
			key_id        TEXT,
			action        TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id   TEXT NOT NULL,
			ts            TEXT NOT NULL,
			detail_json   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_key ON audit_log(key_id);
		CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_log(resource_type, resource_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// timeFormat is fixed width so TEXT columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders a timestamp the way every TEXT time column stores it.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// formatOptionalTime renders a nullable timestamp.
func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// parseTime parses a TEXT time column.
func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", column, err)
	}
	return t, nil
}

// parseOptionalTime parses a nullable TEXT time column.
func parseOptionalTime(column string, value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(column, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
