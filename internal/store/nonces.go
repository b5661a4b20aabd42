// ABOUTME: SQLite nonce ledger backing replay protection
// ABOUTME: Insert-or-ignore on the (key_hash, nonce) primary key is the atomic guard

package store

import (
	"context"
	"fmt"
	"time"
)

// InsertNonce records a nonce if and only if it has not been seen for the key.
// Returns true when this call inserted the row. There is no read-before-write:
// concurrent callers with the same pair race on the primary key and exactly
// one of them observes a changed row.
func (s *SQLiteStore) InsertNonce(ctx context.Context, n *Nonce) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces (key_hash, nonce, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key_hash, nonce) DO NOTHING
	`, n.KeyHash, n.Nonce, n.CreatedAt.Unix(), n.ExpiresAt.Unix())
	if err != nil {
		return false, fmt.Errorf("inserting nonce: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected == 1, nil
}

// PurgeExpiredNonces deletes nonces whose expiry is strictly before the given time.
func (s *SQLiteStore) PurgeExpiredNonces(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purging nonces: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("purged expired nonces", "count", n)
	}
	return n, nil
}
