// ABOUTME: SQLite persistence for file metadata records
// ABOUTME: Tracks ownership, upload confirmation and soft deletion

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const fileColumns = `id, owner_id, owner_type, filename, content_type, size_bytes, blob_path, sha256, state, created_at, deleted_at`

// CreateFile inserts a new file record.
func (s *SQLiteStore) CreateFile(ctx context.Context, f *File) error {
	if f.State == "" {
		f.State = FilePending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID,
		f.OwnerID,
		string(f.OwnerType),
		f.Filename,
		f.ContentType,
		f.SizeBytes,
		f.BlobPath,
		f.SHA256,
		string(f.State),
		formatTime(f.CreatedAt),
		formatOptionalTime(f.DeletedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

// scanFile scans a row into a File.
func scanFile(row rowScanner) (*File, error) {
	var f File
	var ownerType, state, createdAt string
	var deletedAt sql.NullString

	if err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&ownerType,
		&f.Filename,
		&f.ContentType,
		&f.SizeBytes,
		&f.BlobPath,
		&f.SHA256,
		&state,
		&createdAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}

	f.OwnerType = PrincipalType(ownerType)
	f.State = FileState(state)

	var err error
	if f.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if f.DeletedAt, err = parseOptionalTime("deleted_at", deletedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFile retrieves a file record by ID, including deleted records.
func (s *SQLiteStore) GetFile(ctx context.Context, id string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying file: %w", err)
	}
	return f, nil
}

// ConfirmFile marks a live file as uploaded with the given content digest.
func (s *SQLiteStore) ConfirmFile(ctx context.Context, id, sha256 string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET state = ?, sha256 = ? WHERE id = ? AND deleted_at IS NULL`,
		string(FileConfirmed), sha256, id)
	if err != nil {
		return fmt.Errorf("confirming file: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFile soft-deletes a live file.
func (s *SQLiteStore) DeleteFile(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted file", "id", id)
	return nil
}

// ListFilesByOwner returns an owner's live files, newest first.
func (s *SQLiteStore) ListFilesByOwner(ctx context.Context, ownerID string) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE owner_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := []*File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating files: %w", err)
	}
	return files, nil
}
