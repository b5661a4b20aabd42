// ABOUTME: HTTP handlers for grant creation, revocation and listing, plus the JWKS document
// ABOUTME: Owners grant download access on their files to a specific agent key hash

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/grants"
	"github.com/2389/agentdrop/internal/store"
)

// GrantResponse is the JSON form of a grant record.
type GrantResponse struct {
	ID             string   `json:"id"`
	FileID         string   `json:"file_id"`
	GrantorID      string   `json:"grantor_id"`
	GrantorType    string   `json:"grantor_type"`
	GranteeKeyHash string   `json:"grantee_key_hash"`
	Permissions    []string `json:"permissions"`
	ExpiresAt      string   `json:"expires_at"`
	RevokedAt      *string  `json:"revoked_at"`
	CreatedAt      string   `json:"created_at"`
}

// CreateGrantRequest is the body of POST /api/grant. A zero TTL means the default.
type CreateGrantRequest struct {
	FileID         string   `json:"file_id"`
	GranteeKeyHash string   `json:"grantee_key_hash"`
	Permissions    []string `json:"permissions"`
	TTLSeconds     int64    `json:"ttl_seconds"`
}

// CreateGrantResponse carries the new record and its bearer token.
type CreateGrantResponse struct {
	Grant GrantResponse `json:"grant"`
	Token string        `json:"token"`
}

func toGrantResponse(gr *store.Grant) GrantResponse {
	return GrantResponse{
		ID:             gr.ID,
		FileID:         gr.FileID,
		GrantorID:      gr.GrantorID,
		GrantorType:    string(gr.GrantorType),
		GranteeKeyHash: gr.GranteeKeyHash,
		Permissions:    gr.Permissions,
		ExpiresAt:      formatTimestamp(gr.ExpiresAt),
		RevokedAt:      formatOptionalTimestamp(gr.RevokedAt),
		CreatedAt:      formatTimestamp(gr.CreatedAt),
	}
}

func toGrantResponses(list []*store.Grant) []GrantResponse {
	resp := make([]GrantResponse, len(list))
	for i, gr := range list {
		resp[i] = toGrantResponse(gr)
	}
	return resp
}

// handleCreateGrant handles POST /api/grant.
func (g *Gateway) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req CreateGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TTLSeconds < 0 {
		sendJSONError(w, http.StatusBadRequest, codeBadRequest, grants.ErrInvalidTTL.Error())
		return
	}

	grant, token, err := g.grants.Create(r.Context(), caller, grants.CreateRequest{
		FileID:         req.FileID,
		GranteeKeyHash: req.GranteeKeyHash,
		Permissions:    req.Permissions,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
	})
	switch {
	case errors.Is(err, grants.ErrInvalidFileID),
		errors.Is(err, grants.ErrInvalidGrantee),
		errors.Is(err, grants.ErrInvalidPermissions),
		errors.Is(err, grants.ErrInvalidTTL):
		sendJSONError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	case errors.Is(err, grants.ErrFileNotFound):
		sendJSONError(w, http.StatusNotFound, codeNotFound, "file not found")
		return
	case errors.Is(err, grants.ErrNotFileOwner):
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you do not own this file")
		return
	case err != nil:
		g.internalError(w, "failed to create grant", err, "file_id", req.FileID)
		return
	}

	g.audit(r.Context(), caller, store.AuditGrantCreate, "grant", grant.ID, "", map[string]any{
		"file_id":          grant.FileID,
		"grantee_key_hash": grant.GranteeKeyHash,
		"permissions":      grant.Permissions,
		"expires_at":       formatTimestamp(grant.ExpiresAt),
	})

	writeJSON(w, http.StatusCreated, CreateGrantResponse{Grant: toGrantResponse(grant), Token: token})
}

// handleRevokeGrant handles DELETE /api/grant/{id}.
func (g *Gateway) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())
	id := r.PathValue("id")

	grant, err := g.grants.Revoke(r.Context(), id, caller)
	switch {
	case errors.Is(err, grants.ErrGrantNotFound):
		sendJSONError(w, http.StatusNotFound, codeNotFound, "grant not found")
		return
	case errors.Is(err, grants.ErrNotGrantor):
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you are not the grantor of this grant")
		return
	case errors.Is(err, grants.ErrAlreadyRevoked):
		sendJSONError(w, http.StatusConflict, codeConflict, "grant already revoked")
		return
	case err != nil:
		g.internalError(w, "failed to revoke grant", err, "grant_id", id)
		return
	}

	g.audit(r.Context(), caller, store.AuditGrantRevoke, "grant", grant.ID, "", map[string]any{
		"file_id":          grant.FileID,
		"grantee_key_hash": grant.GranteeKeyHash,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// handleReceivedGrants handles GET /api/grants/received.
func (g *Gateway) handleReceivedGrants(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())

	list, err := g.grants.ListReceived(r.Context(), agent.KeyHash)
	if err != nil {
		g.internalError(w, "failed to list received grants", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]GrantResponse{"grants": toGrantResponses(list)})
}

// handleFileGrants handles GET /api/grants/file/{id}.
func (g *Gateway) handleFileGrants(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	list, err := g.grants.ListForFile(r.Context(), r.PathValue("id"), caller)
	switch {
	case errors.Is(err, grants.ErrFileNotFound):
		sendJSONError(w, http.StatusNotFound, codeNotFound, "file not found")
		return
	case errors.Is(err, grants.ErrNotFileOwner):
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you do not own this file")
		return
	case err != nil:
		g.internalError(w, "failed to list file grants", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]GrantResponse{"grants": toGrantResponses(list)})
}

// handleJWKS handles GET /.well-known/jwks.json.
func (g *Gateway) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, g.grants.JWKS())
}
