// ABOUTME: SQLite persistence for registered agent public keys
// ABOUTME: Keys are never deleted; revocation sets revoked_at exactly once

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const agentKeyColumns = `id, user_id, label, public_key, key_hash, created_at, revoked_at`

// CreateAgentKey inserts a new agent key.
// Returns ErrDuplicate if the key hash is already registered.
func (s *SQLiteStore) CreateAgentKey(ctx context.Context, key *AgentKey) error {
	query := `
		INSERT INTO agent_keys (id, user_id, label, public_key, key_hash, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		key.ID,
		key.UserID,
		key.Label,
		key.PublicKey,
		key.KeyHash,
		formatTime(key.CreatedAt),
		formatOptionalTime(key.RevokedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting agent key: %w", err)
	}

	s.logger.Debug("created agent key", "id", key.ID, "key_hash", key.KeyHash)
	return nil
}

// scanAgentKey scans a row into an AgentKey.
func scanAgentKey(row rowScanner) (*AgentKey, error) {
	var k AgentKey
	var createdAt string
	var revokedAt sql.NullString

	if err := row.Scan(&k.ID, &k.UserID, &k.Label, &k.PublicKey, &k.KeyHash, &createdAt, &revokedAt); err != nil {
		return nil, err
	}

	var err error
	if k.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if k.RevokedAt, err = parseOptionalTime("revoked_at", revokedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

// GetAgentKey retrieves a key by ID, revoked or not.
func (s *SQLiteStore) GetAgentKey(ctx context.Context, id string) (*AgentKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentKeyColumns+` FROM agent_keys WHERE id = ?`, id)
	k, err := scanAgentKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent key: %w", err)
	}
	return k, nil
}

// GetAgentKeyByHash retrieves a key by its thumbprint, revoked or not.
func (s *SQLiteStore) GetAgentKeyByHash(ctx context.Context, keyHash string) (*AgentKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentKeyColumns+` FROM agent_keys WHERE key_hash = ?`, keyHash)
	k, err := scanAgentKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent key by hash: %w", err)
	}
	return k, nil
}

// ListAgentKeys returns all keys owned by a user, oldest first.
func (s *SQLiteStore) ListAgentKeys(ctx context.Context, userID string) ([]*AgentKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentKeyColumns+` FROM agent_keys WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying agent keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []*AgentKey{}
	for rows.Next() {
		k, err := scanAgentKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent keys: %w", err)
	}
	return keys, nil
}

// RevokeAgentKey sets revoked_at on an active key.
// Returns ErrNotFound for unknown keys and ErrAlreadyRevoked if already revoked.
func (s *SQLiteStore) RevokeAgentKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agent_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("revoking agent key: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 1 {
		s.logger.Debug("revoked agent key", "id", id)
		return nil
	}

	if _, err := s.GetAgentKey(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyRevoked
}
