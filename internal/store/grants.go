// ABOUTME: SQLite persistence for file access grants
// ABOUTME: Grants are revoked by timestamp, never deleted or reissued

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const grantColumns = `id, file_id, grantor_id, grantor_type, grantee_key_hash, permissions_json, expires_at, revoked_at, created_at`

// CreateGrant inserts a new grant.
func (s *SQLiteStore) CreateGrant(ctx context.Context, g *Grant) error {
	perms, err := json.Marshal(g.Permissions)
	if err != nil {
		return fmt.Errorf("marshaling permissions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID,
		g.FileID,
		g.GrantorID,
		string(g.GrantorType),
		g.GranteeKeyHash,
		string(perms),
		formatTime(g.ExpiresAt),
		formatOptionalTime(g.RevokedAt),
		formatTime(g.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting grant: %w", err)
	}

	s.logger.Debug("created grant", "id", g.ID, "file_id", g.FileID, "grantee", g.GranteeKeyHash)
	return nil
}

// scanGrant scans a row into a Grant.
func scanGrant(row rowScanner) (*Grant, error) {
	var g Grant
	var grantorType, permsJSON, expiresAt, createdAt string
	var revokedAt sql.NullString

	if err := row.Scan(
		&g.ID,
		&g.FileID,
		&g.GrantorID,
		&grantorType,
		&g.GranteeKeyHash,
		&permsJSON,
		&expiresAt,
		&revokedAt,
		&createdAt,
	); err != nil {
		return nil, err
	}

	g.GrantorType = PrincipalType(grantorType)
	if err := json.Unmarshal([]byte(permsJSON), &g.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshaling permissions: %w", err)
	}

	var err error
	if g.ExpiresAt, err = parseTime("expires_at", expiresAt); err != nil {
		return nil, err
	}
	if g.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if g.RevokedAt, err = parseOptionalTime("revoked_at", revokedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGrant retrieves a grant by ID.
func (s *SQLiteStore) GetGrant(ctx context.Context, id string) (*Grant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying grant: %w", err)
	}
	return g, nil
}

// RevokeGrant sets revoked_at on an active grant.
// Returns ErrNotFound for unknown grants and ErrAlreadyRevoked if already revoked.
func (s *SQLiteStore) RevokeGrant(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE grants SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("revoking grant: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 1 {
		s.logger.Debug("revoked grant", "id", id)
		return nil
	}

	if _, err := s.GetGrant(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyRevoked
}

// ListGrantsByGrantee returns grants issued to a key hash, oldest first.
func (s *SQLiteStore) ListGrantsByGrantee(ctx context.Context, keyHash string) ([]*Grant, error) {
	return s.listGrants(ctx, `SELECT `+grantColumns+` FROM grants WHERE grantee_key_hash = ? ORDER BY created_at ASC`, keyHash)
}

// ListGrantsByFile returns grants for a file, oldest first.
func (s *SQLiteStore) ListGrantsByFile(ctx context.Context, fileID string) ([]*Grant, error) {
	return s.listGrants(ctx, `SELECT `+grantColumns+` FROM grants WHERE file_id = ? ORDER BY created_at ASC`, fileID)
}

func (s *SQLiteStore) listGrants(ctx context.Context, query string, arg string) ([]*Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	grants := []*Grant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return grants, nil
}
