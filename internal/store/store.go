// ABOUTME: Store interfaces and data types for agentdrop persistence
// ABOUTME: Agent keys, nonces, grants, file records and the audit log

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("already exists")

	// ErrAlreadyRevoked is returned when revoking something that is already revoked
	ErrAlreadyRevoked = errors.New("already revoked")
)

// PrincipalType identifies who owns a file or issued a grant.
type PrincipalType string

const (
	PrincipalHuman PrincipalType = "human"
	PrincipalAgent PrincipalType = "agent"
)

// FileState tracks whether a file's upload has been confirmed.
type FileState string

const (
	FilePending   FileState = "pending"
	FileConfirmed FileState = "confirmed"
)

// AgentKey is a registered Ed25519 public key.
type AgentKey struct {
	ID        string
	UserID    string // owning human user
	Label     string
	PublicKey string // JWK JSON (kty, crv, x)
	KeyHash   string // RFC 7638 thumbprint, unique
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the key has been revoked.
func (k *AgentKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Nonce is a single-use freshness token scoped to one key hash.
type Nonce struct {
	Nonce     string
	KeyHash   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Grant authorizes one agent key to act on one file until ExpiresAt.
type Grant struct {
	ID             string // doubles as the token jti
	FileID         string
	GrantorID      string
	GrantorType    PrincipalType
	GranteeKeyHash string
	Permissions    []string
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

// Revoked reports whether the grant has been revoked.
func (g *Grant) Revoked() bool {
	return g.RevokedAt != nil
}

// File is the metadata record for an uploaded file. Blob storage lives elsewhere.
type File struct {
	ID          string
	OwnerID     string // human user id or agent key hash
	OwnerType   PrincipalType
	Filename    string
	ContentType string
	SizeBytes   int64
	BlobPath    string
	SHA256      string
	State       FileState
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Deleted reports whether the file has been soft-deleted.
func (f *File) Deleted() bool {
	return f.DeletedAt != nil
}

// Accessible reports whether the file can be served: confirmed and not deleted.
func (f *File) Accessible() bool {
	return !f.Deleted() && f.State == FileConfirmed
}

// KeyStore persists agent keys.
type KeyStore interface {
	CreateAgentKey(ctx context.Context, key *AgentKey) error
	GetAgentKey(ctx context.Context, id string) (*AgentKey, error)
	GetAgentKeyByHash(ctx context.Context, keyHash string) (*AgentKey, error)
	ListAgentKeys(ctx context.Context, userID string) ([]*AgentKey, error)
	RevokeAgentKey(ctx context.Context, id string, at time.Time) error
}

// NonceStore persists consumed nonces. InsertNonce must be first-write-wins:
// it returns false, not an error, when the (key hash, nonce) pair already exists.
type NonceStore interface {
	InsertNonce(ctx context.Context, n *Nonce) (bool, error)
	PurgeExpiredNonces(ctx context.Context, before time.Time) (int64, error)
}

// GrantStore persists grants.
type GrantStore interface {
	CreateGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
	RevokeGrant(ctx context.Context, id string, at time.Time) error
	ListGrantsByGrantee(ctx context.Context, keyHash string) ([]*Grant, error)
	ListGrantsByFile(ctx context.Context, fileID string) ([]*Grant, error)
}

// FileStore persists file metadata.
type FileStore interface {
	CreateFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, id string) (*File, error)
	ConfirmFile(ctx context.Context, id, sha256 string) error
	DeleteFile(ctx context.Context, id string, at time.Time) error
	ListFilesByOwner(ctx context.Context, ownerID string) ([]*File, error)
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is the complete persistence layer.
type Store interface {
	KeyStore
	NonceStore
	GrantStore
	FileStore
	AuditStore

	// Close releases any resources held by the store
	Close() error
}
