// ABOUTME: HTTP handlers for agent key registration, revocation and lookup
// ABOUTME: Key management is limited to human sessions; the pubkey lookup is public

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/keys"
	"github.com/2389/agentdrop/internal/store"
)

// KeyResponse is the JSON form of a registered key.
type KeyResponse struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Label     string  `json:"label"`
	PublicKey string  `json:"public_key"`
	KeyHash   string  `json:"key_hash"`
	CreatedAt string  `json:"created_at"`
	RevokedAt *string `json:"revoked_at"`
}

// CreateKeyRequest registers a public key (JWK JSON or an ssh-ed25519 line).
type CreateKeyRequest struct {
	Label     string `json:"label"`
	PublicKey string `json:"public_key"`
}

// AuditEntryResponse is the JSON form of an audit entry.
type AuditEntryResponse struct {
	ID           string         `json:"id"`
	KeyID        string         `json:"key_id"`
	ActorType    string         `json:"actor_type"`
	ActorID      string         `json:"actor_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTimestamp(*t)
	return &s
}

func toKeyResponse(k *store.AgentKey) KeyResponse {
	return KeyResponse{
		ID:        k.ID,
		UserID:    k.UserID,
		Label:     k.Label,
		PublicKey: k.PublicKey,
		KeyHash:   k.KeyHash,
		CreatedAt: formatTimestamp(k.CreatedAt),
		RevokedAt: formatOptionalTimestamp(k.RevokedAt),
	}
}

// handleCreateKey handles POST /api/keys.
func (g *Gateway) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	human := auth.HumanFromContext(r.Context())

	var req CreateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := g.keys.Register(r.Context(), human.UserID, req.Label, req.PublicKey)
	switch {
	case errors.Is(err, keys.ErrInvalidLabel), errors.Is(err, keys.ErrInvalidPublicKey):
		sendJSONError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	case errors.Is(err, keys.ErrDuplicateKey):
		sendJSONError(w, http.StatusConflict, codeConflict, "a key with this public key already exists")
		return
	case err != nil:
		g.internalError(w, "failed to register key", err)
		return
	}

	g.audit(r.Context(), human, store.AuditKeyCreate, "agent_key", key.ID, key.ID, map[string]any{
		"label":    key.Label,
		"key_hash": key.KeyHash,
	})

	writeJSON(w, http.StatusCreated, map[string]KeyResponse{"key": toKeyResponse(key)})
}

// handleListKeys handles GET /api/keys.
func (g *Gateway) handleListKeys(w http.ResponseWriter, r *http.Request) {
	human := auth.HumanFromContext(r.Context())

	list, err := g.keys.List(r.Context(), human.UserID)
	if err != nil {
		g.internalError(w, "failed to list keys", err)
		return
	}

	resp := make([]KeyResponse, len(list))
	for i, k := range list {
		resp[i] = toKeyResponse(k)
	}
	writeJSON(w, http.StatusOK, map[string][]KeyResponse{"keys": resp})
}

// handleRevokeKey handles DELETE /api/keys/{id}.
func (g *Gateway) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	human := auth.HumanFromContext(r.Context())
	id := r.PathValue("id")

	key, err := g.keys.Revoke(r.Context(), id, human.UserID)
	switch {
	case errors.Is(err, keys.ErrKeyNotFound):
		sendJSONError(w, http.StatusNotFound, codeNotFound, "agent key not found")
		return
	case errors.Is(err, keys.ErrNotOwner):
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you do not own this key")
		return
	case errors.Is(err, keys.ErrAlreadyRevoked):
		sendJSONError(w, http.StatusConflict, codeConflict, "agent key already revoked")
		return
	case err != nil:
		g.internalError(w, "failed to revoke key", err, "key_id", id)
		return
	}

	g.audit(r.Context(), human, store.AuditKeyRevoke, "agent_key", key.ID, key.ID, map[string]any{
		"label":    key.Label,
		"key_hash": key.KeyHash,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// handleKeyPubkey handles GET /api/keys/{id}/pubkey. Revoked keys are still
// returned so third parties can check old signatures.
func (g *Gateway) handleKeyPubkey(w http.ResponseWriter, r *http.Request) {
	key, err := g.keys.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, keys.ErrKeyNotFound) {
		sendJSONError(w, http.StatusNotFound, codeNotFound, "agent key not found")
		return
	}
	if err != nil {
		g.internalError(w, "failed to load key", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"public_key": key.PublicKey,
		"key_hash":   key.KeyHash,
	})
}

// handleKeyAudit handles GET /api/keys/{id}/audit.
func (g *Gateway) handleKeyAudit(w http.ResponseWriter, r *http.Request) {
	human := auth.HumanFromContext(r.Context())
	id := r.PathValue("id")

	key, err := g.keys.Get(r.Context(), id)
	if errors.Is(err, keys.ErrKeyNotFound) {
		sendJSONError(w, http.StatusNotFound, codeNotFound, "agent key not found")
		return
	}
	if err != nil {
		g.internalError(w, "failed to load key", err)
		return
	}
	if key.UserID != human.UserID {
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you do not own this key")
		return
	}

	entries, err := g.store.ListAuditLog(r.Context(), store.AuditFilter{KeyID: &id, Limit: 1000})
	if err != nil {
		g.internalError(w, "failed to list audit log", err, "key_id", id)
		return
	}

	resp := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = AuditEntryResponse{
			ID:           e.ID,
			KeyID:        id,
			ActorType:    string(e.ActorType),
			ActorID:      e.ActorID,
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Timestamp:    formatTimestamp(e.Timestamp),
			Metadata:     e.Detail,
		}
	}
	writeJSON(w, http.StatusOK, map[string][]AuditEntryResponse{"entries": resp})
}
