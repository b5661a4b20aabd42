// ABOUTME: Key registry: register, revoke and resolve agent Ed25519 public keys
// ABOUTME: The key hash is the RFC 7638 thumbprint, so one public key maps to one hash

package keys

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentdrop/internal/jwk"
	"github.com/2389/agentdrop/internal/store"
)

// Registry errors
var (
	ErrInvalidLabel     = errors.New("label must be 1-64 characters of letters, digits, '-' or '_'")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrDuplicateKey     = errors.New("public key already registered")
	ErrKeyNotFound      = errors.New("key not found")
	ErrNotOwner         = errors.New("key is owned by another user")
	ErrAlreadyRevoked   = errors.New("key already revoked")
	ErrUnknownOrRevoked = errors.New("unknown or revoked key")
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ResolvedKey is an active registry entry with its decoded public key.
type ResolvedKey struct {
	Key       *store.AgentKey
	PublicKey ed25519.PublicKey
}

// Registry is the source of truth for which agent keys are trusted.
type Registry struct {
	store  store.KeyStore
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates a registry over the given key store.
func NewRegistry(s store.KeyStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		now:    time.Now,
		logger: logger.With("component", "keys"),
	}
}

// Register stores a new public key for ownerUserID. material is either a JWK
// JSON object or an OpenSSH "ssh-ed25519" line; it is always stored as JWK.
func (r *Registry) Register(ctx context.Context, ownerUserID, label, material string) (*store.AgentKey, error) {
	if !labelPattern.MatchString(label) {
		return nil, ErrInvalidLabel
	}

	pub, err := jwk.ParsePublicMaterial(material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	key := &store.AgentKey{
		ID:        uuid.New().String(),
		UserID:    ownerUserID,
		Label:     label,
		PublicKey: jwk.FromPublicKey(pub).String(),
		KeyHash:   jwk.Thumbprint(pub),
		CreatedAt: r.now().UTC(),
	}

	if err := r.store.CreateAgentKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("registering key: %w", err)
	}

	r.logger.Info("registered agent key", "key_id", key.ID, "key_hash", key.KeyHash, "user_id", ownerUserID)
	return key, nil
}

// Revoke revokes keyID on behalf of callerUserID, who must own it.
func (r *Registry) Revoke(ctx context.Context, keyID, callerUserID string) (*store.AgentKey, error) {
	key, err := r.store.GetAgentKey(ctx, keyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}
	if key.UserID != callerUserID {
		return nil, ErrNotOwner
	}
	if key.Revoked() {
		return nil, ErrAlreadyRevoked
	}

	at := r.now().UTC()
	switch err := r.store.RevokeAgentKey(ctx, keyID, at); {
	case errors.Is(err, store.ErrAlreadyRevoked):
		return nil, ErrAlreadyRevoked
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrKeyNotFound
	case err != nil:
		return nil, fmt.Errorf("revoking key: %w", err)
	}

	key.RevokedAt = &at
	r.logger.Info("revoked agent key", "key_id", keyID, "key_hash", key.KeyHash)
	return key, nil
}

// Resolve returns the active key for keyHash. Unknown and revoked keys both
// yield ErrUnknownOrRevoked; any other error is a store failure.
func (r *Registry) Resolve(ctx context.Context, keyHash string) (*ResolvedKey, error) {
	key, err := r.store.GetAgentKeyByHash(ctx, keyHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownOrRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("resolving key: %w", err)
	}
	if key.Revoked() {
		return nil, ErrUnknownOrRevoked
	}

	pub, err := jwk.ParsePublic([]byte(key.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("decoding stored key %s: %w", key.ID, err)
	}
	return &ResolvedKey{Key: key, PublicKey: pub}, nil
}

// Get returns a key by id, revoked or not.
func (r *Registry) Get(ctx context.Context, keyID string) (*store.AgentKey, error) {
	key, err := r.store.GetAgentKey(ctx, keyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}
	return key, nil
}

// List returns every key owned by userID, oldest first.
func (r *Registry) List(ctx context.Context, userID string) ([]*store.AgentKey, error) {
	keys, err := r.store.ListAgentKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}
