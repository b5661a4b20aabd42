// ABOUTME: Grant lifecycle for file owners: create, revoke and list grants
// ABOUTME: Only the owner of a live file may grant; only the grantor may revoke

package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/store"
)

// Lifecycle errors
var (
	ErrInvalidFileID  = errors.New("file id must be a UUID")
	ErrInvalidGrantee = errors.New("grantee key hash is required")
	ErrFileNotFound   = errors.New("file not found")
	ErrNotFileOwner   = errors.New("caller does not own the file")
	ErrGrantNotFound  = errors.New("grant not found")
	ErrNotGrantor     = errors.New("caller is not the grantor")
	ErrAlreadyRevoked = errors.New("grant already revoked")
)

// CreateRequest describes a new grant. A zero TTL means the default.
type CreateRequest struct {
	FileID         string
	GranteeKeyHash string
	Permissions    []string
	TTL            time.Duration
}

// Create records a grant from grantor, who must own the live file, and
// returns it together with its signed token.
func (a *Authority) Create(ctx context.Context, grantor auth.Principal, req CreateRequest) (*store.Grant, string, error) {
	if _, err := uuid.Parse(req.FileID); err != nil {
		return nil, "", ErrInvalidFileID
	}
	if req.GranteeKeyHash == "" {
		return nil, "", ErrInvalidGrantee
	}
	if !validPermissions(req.Permissions) {
		return nil, "", ErrInvalidPermissions
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = a.cfg.DefaultTTL
	}
	if ttl < time.Second || ttl > a.cfg.MaxTTL {
		return nil, "", ErrInvalidTTL
	}

	file, err := a.files.GetFile(ctx, req.FileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrFileNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading file: %w", err)
	}
	if file.Deleted() {
		return nil, "", ErrFileNotFound
	}
	if file.OwnerID != grantor.ID() {
		return nil, "", ErrNotFileOwner
	}

	now := a.now().UTC()
	grant := &store.Grant{
		ID:             uuid.New().String(),
		FileID:         req.FileID,
		GrantorID:      grantor.ID(),
		GrantorType:    grantor.Type(),
		GranteeKeyHash: req.GranteeKeyHash,
		Permissions:    req.Permissions,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}

	token, err := a.issueAt(now, grant.ID, grant.FileID, grant.GranteeKeyHash, grant.Permissions, ttl)
	if err != nil {
		return nil, "", err
	}
	if err := a.grants.CreateGrant(ctx, grant); err != nil {
		return nil, "", fmt.Errorf("creating grant: %w", err)
	}

	a.logger.Info("created grant",
		"grant_id", grant.ID,
		"file_id", grant.FileID,
		"grantee", grant.GranteeKeyHash,
		"ttl", ttl,
	)
	return grant, token, nil
}

// Revoke invalidates a grant immediately. Only its grantor may revoke it.
func (a *Authority) Revoke(ctx context.Context, grantID string, caller auth.Principal) (*store.Grant, error) {
	grant, err := a.grants.GetGrant(ctx, grantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading grant: %w", err)
	}
	if grant.GrantorID != caller.ID() {
		return nil, ErrNotGrantor
	}
	if grant.Revoked() {
		return nil, ErrAlreadyRevoked
	}

	at := a.now().UTC()
	switch err := a.grants.RevokeGrant(ctx, grantID, at); {
	case errors.Is(err, store.ErrAlreadyRevoked):
		return nil, ErrAlreadyRevoked
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrGrantNotFound
	case err != nil:
		return nil, fmt.Errorf("revoking grant: %w", err)
	}

	grant.RevokedAt = &at
	a.logger.Info("revoked grant", "grant_id", grantID, "file_id", grant.FileID)
	return grant, nil
}

// ListReceived returns every grant addressed to keyHash, including revoked
// and expired ones, oldest first.
func (a *Authority) ListReceived(ctx context.Context, keyHash string) ([]*store.Grant, error) {
	grants, err := a.grants.ListGrantsByGrantee(ctx, keyHash)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	return grants, nil
}

// ListForFile returns every grant on a file. Only the file owner may list them.
func (a *Authority) ListForFile(ctx context.Context, fileID string, caller auth.Principal) ([]*store.Grant, error) {
	file, err := a.files.GetFile(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	if file.OwnerID != caller.ID() {
		return nil, ErrNotFileOwner
	}

	grants, err := a.grants.ListGrantsByFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	return grants, nil
}
