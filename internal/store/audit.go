// ABOUTME: Audit log entity and store methods for key, grant and file actions
// ABOUTME: Records which principal did what to which resource

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditKeyCreate    AuditAction = "key.create"
	AuditKeyRevoke    AuditAction = "key.revoke"
	AuditGrantCreate  AuditAction = "grant.create"
	AuditGrantRevoke  AuditAction = "grant.revoke"
	AuditFileUpload   AuditAction = "file.upload"
	AuditFileConfirm  AuditAction = "file.confirm"
	AuditFileDelete   AuditAction = "file.delete"
	AuditFileDownload AuditAction = "file.download"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string
	ActorType    PrincipalType
	ActorID      string  // user id for humans, key hash for agents
	KeyID        *string // agent key row involved, if any
	Action       AuditAction
	ResourceType string // "key", "grant", "file"
	ResourceID   string
	Timestamp    time.Time
	Detail       map[string]any
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since        *time.Time
	Until        *time.Time
	ActorID      *string
	KeyID        *string
	Action       *AuditAction
	ResourceType *string
	ResourceID   *string
	Limit        int // default 100, max 1000
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	detailJSON, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor_type, actor_id, key_id, action, resource_type, resource_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.ActorType),
		e.ActorID,
		e.KeyID,
		string(e.Action),
		e.ResourceType,
		e.ResourceID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorID,
		"action", e.Action,
		"resource", e.ResourceType+"/"+e.ResourceID,
	)
	return nil
}

func marshalDetail(detail map[string]any) (*string, error) {
	if detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit detail: %w", err)
	}
	str := string(data)
	return &str, nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func scanAuditEntry(row rowScanner) (AuditEntry, error) {
	var e AuditEntry
	var actorType, action, ts string
	var keyID, detailJSON sql.NullString

	if err := row.Scan(
		&e.ID,
		&actorType,
		&e.ActorID,
		&keyID,
		&action,
		&e.ResourceType,
		&e.ResourceID,
		&ts,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.ActorType = PrincipalType(actorType)
	e.Action = AuditAction(action)
	if keyID.Valid {
		e.KeyID = &keyID.String
	}

	var err error
	if e.Timestamp, err = parseTime("ts", ts); err != nil {
		return e, err
	}

	if detailJSON.Valid {
		if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, actor_type, actor_id, key_id, action, resource_type, resource_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR actor_id = ?)
	  AND (? IS NULL OR key_id = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR resource_type = ?)
	  AND (? IS NULL OR resource_id = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var since, until, action *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	if f.Until != nil {
		v := formatTime(*f.Until)
		until = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		since, since,
		until, until,
		f.ActorID, f.ActorID,
		f.KeyID, f.KeyID,
		action, action,
		f.ResourceType, f.ResourceType,
		f.ResourceID, f.ResourceID,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// matchesAuditFilter reports whether an entry satisfies every set field of f.
func matchesAuditFilter(e *AuditEntry, f AuditFilter) bool {
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.KeyID != nil && (e.KeyID == nil || *e.KeyID != *f.KeyID) {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.ResourceType != nil && e.ResourceType != *f.ResourceType {
		return false
	}
	if f.ResourceID != nil && e.ResourceID != *f.ResourceID {
		return false
	}
	return true
}
