// ABOUTME: HTTP handlers for file records and the grant-gated download endpoint
// ABOUTME: Blob bytes live in external storage; these handlers manage metadata and access

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/grants"
	"github.com/2389/agentdrop/internal/store"
)

// MaxFileSize is the largest file an upload may declare.
const MaxFileSize = 100 << 20

var sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// FileResponse is the JSON form of a file record.
type FileResponse struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	OwnerType   string  `json:"owner_type"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	SizeBytes   int64   `json:"size_bytes"`
	SHA256      string  `json:"sha256"`
	State       string  `json:"state"`
	CreatedAt   string  `json:"created_at"`
	DeletedAt   *string `json:"deleted_at"`
}

// UploadRequest declares a new file.
type UploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// UploadResponse tells the client where to put the bytes.
type UploadResponse struct {
	FileID    string `json:"file_id"`
	UploadURL string `json:"upload_url"`
}

// ConfirmUploadRequest marks an upload complete.
type ConfirmUploadRequest struct {
	FileID string `json:"file_id"`
	SHA256 string `json:"sha256"`
}

func toFileResponse(f *store.File) FileResponse {
	return FileResponse{
		ID:          f.ID,
		OwnerID:     f.OwnerID,
		OwnerType:   string(f.OwnerType),
		Filename:    f.Filename,
		ContentType: f.ContentType,
		SizeBytes:   f.SizeBytes,
		SHA256:      f.SHA256,
		State:       string(f.State),
		CreatedAt:   formatTimestamp(f.CreatedAt),
		DeletedAt:   formatOptionalTimestamp(f.DeletedAt),
	}
}

func validateUpload(req UploadRequest) error {
	if req.Filename == "" || len(req.Filename) > 255 {
		return errors.New("filename must be 1-255 characters")
	}
	if req.ContentType == "" || len(req.ContentType) > 255 {
		return errors.New("content_type must be 1-255 characters")
	}
	if req.SizeBytes <= 0 || req.SizeBytes > MaxFileSize {
		return fmt.Errorf("size_bytes must be between 1 and %d", MaxFileSize)
	}
	return nil
}

// blobURL joins the configured download base with a blob path.
func (g *Gateway) blobURL(blobPath string) string {
	return strings.TrimRight(g.config.Files.DownloadBaseURL, "/") + "/" + blobPath
}

// loadOwnedFile fetches a live file owned by the caller, writing the error
// response itself when it returns nil.
func (g *Gateway) loadOwnedFile(w http.ResponseWriter, r *http.Request, id string, caller auth.Principal) *store.File {
	f, err := g.store.GetFile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && f.Deleted()) {
		sendJSONError(w, http.StatusNotFound, codeNotFound, "file not found")
		return nil
	}
	if err != nil {
		g.internalError(w, "failed to load file", err, "file_id", id)
		return nil
	}
	if f.OwnerID != caller.ID() {
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you do not own this file")
		return nil
	}
	return f
}

// handleUpload handles POST /api/upload.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req UploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateUpload(req); err != nil {
		sendJSONError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	id := uuid.New().String()
	f := &store.File{
		ID:          id,
		OwnerID:     caller.ID(),
		OwnerType:   caller.Type(),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		BlobPath:    "files/" + id + "/" + url.PathEscape(req.Filename),
		State:       store.FilePending,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.store.CreateFile(r.Context(), f); err != nil {
		g.internalError(w, "failed to create file record", err)
		return
	}

	g.audit(r.Context(), caller, store.AuditFileUpload, "file", id, "", map[string]any{
		"filename":     req.Filename,
		"content_type": req.ContentType,
		"size_bytes":   req.SizeBytes,
	})

	writeJSON(w, http.StatusCreated, UploadResponse{FileID: id, UploadURL: g.blobURL(f.BlobPath)})
}

// handleConfirmUpload handles POST /api/upload/confirm.
func (g *Gateway) handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req ConfirmUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.FileID); err != nil {
		sendJSONError(w, http.StatusBadRequest, codeBadRequest, "file_id must be a UUID")
		return
	}
	if !sha256Pattern.MatchString(req.SHA256) {
		sendJSONError(w, http.StatusBadRequest, codeBadRequest, "sha256 must be 64 lowercase hex characters")
		return
	}

	f := g.loadOwnedFile(w, r, req.FileID, caller)
	if f == nil {
		return
	}
	if f.State == store.FileConfirmed {
		sendJSONError(w, http.StatusConflict, codeConflict, "file is already confirmed")
		return
	}

	err := g.store.ConfirmFile(r.Context(), f.ID, req.SHA256)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, codeNotFound, "file not found")
		return
	}
	if err != nil {
		g.internalError(w, "failed to confirm file", err, "file_id", f.ID)
		return
	}
	f.State = store.FileConfirmed
	f.SHA256 = req.SHA256

	g.audit(r.Context(), caller, store.AuditFileConfirm, "file", f.ID, "", map[string]any{"sha256": req.SHA256})

	writeJSON(w, http.StatusOK, map[string]FileResponse{"file": toFileResponse(f)})
}

// handleListFiles handles GET /api/files.
func (g *Gateway) handleListFiles(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	list, err := g.store.ListFilesByOwner(r.Context(), caller.ID())
	if err != nil {
		g.internalError(w, "failed to list files", err)
		return
	}

	resp := make([]FileResponse, len(list))
	for i, f := range list {
		resp[i] = toFileResponse(f)
	}
	writeJSON(w, http.StatusOK, map[string][]FileResponse{"files": resp})
}

// handleGetFile handles GET /api/files/{id}.
func (g *Gateway) handleGetFile(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	f := g.loadOwnedFile(w, r, r.PathValue("id"), caller)
	if f == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]FileResponse{"file": toFileResponse(f)})
}

// handleDeleteFile handles DELETE /api/files/{id}. Deletion is soft: grants
// on the file stop verifying immediately.
func (g *Gateway) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	f := g.loadOwnedFile(w, r, r.PathValue("id"), caller)
	if f == nil {
		return
	}

	err := g.store.DeleteFile(r.Context(), f.ID, g.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, codeNotFound, "file not found")
		return
	}
	if err != nil {
		g.internalError(w, "failed to delete file", err, "file_id", f.ID)
		return
	}

	g.audit(r.Context(), caller, store.AuditFileDelete, "file", f.ID, "", nil)

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleDownload handles GET /api/files/{id}/download. Owners download
// directly; other agents must present a grant token in ?token=.
func (g *Gateway) handleDownload(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())
	id := r.PathValue("id")

	f, err := g.store.GetFile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && f.Deleted()) {
		sendJSONError(w, http.StatusNotFound, codeNotFound, "file not found")
		return
	}
	if err != nil {
		g.internalError(w, "failed to load file", err, "file_id", id)
		return
	}
	if !f.Accessible() {
		sendJSONError(w, http.StatusNotFound, codeNotFound, "file upload not yet confirmed")
		return
	}

	if f.OwnerID == caller.ID() {
		g.audit(r.Context(), caller, store.AuditFileDownload, "file", id, "", map[string]any{"access": "owner"})
		writeJSON(w, http.StatusOK, map[string]string{"download_url": g.blobURL(f.BlobPath)})
		return
	}

	agent, ok := caller.(*auth.Agent)
	if !ok {
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you do not own this file")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		sendJSONError(w, http.StatusForbidden, codeForbidden, "you do not own this file; provide a grant token via ?token=")
		return
	}

	verified, err := g.grants.Verify(r.Context(), token, agent.KeyHash)
	if err != nil {
		if auth.IsTransient(err) {
			g.logger.Error("grant verification could not complete", "error", err, "file_id", id)
			sendJSONError(w, http.StatusServiceUnavailable, codeUnavailable, "grant verification unavailable, try again")
			return
		}
		g.logger.Warn("grant rejected",
			"code", string(auth.CodeOf(err)),
			"reason", err.Error(),
			"file_id", id,
			"key_hash", agent.KeyHash,
		)
		sendJSONError(w, http.StatusForbidden, codeForbidden, "grant verification failed: "+string(auth.CodeOf(err)))
		return
	}
	if verified.FileID != id {
		sendJSONError(w, http.StatusForbidden, codeForbidden, "grant is not valid for this file")
		return
	}
	if !verified.Allows(grants.PermissionDownload) {
		sendJSONError(w, http.StatusForbidden, codeForbidden, "grant does not include download permission")
		return
	}

	g.audit(r.Context(), caller, store.AuditFileDownload, "file", id, "", map[string]any{
		"access":   "grant",
		"grant_id": verified.GrantID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"download_url": g.blobURL(f.BlobPath)})
}
