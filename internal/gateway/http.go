// ABOUTME: Route table, CORS and JSON helpers shared by the API handlers
// ABOUTME: Errors are JSON objects with an "error" message and a machine "code"

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/signing"
)

// Error codes returned in JSON error bodies.
const (
	codeBadRequest  = "BAD_REQUEST"
	codeForbidden   = "FORBIDDEN"
	codeNotFound    = "NOT_FOUND"
	codeConflict    = "CONFLICT"
	codeUnavailable = "UNAVAILABLE"
	codeInternal    = "INTERNAL_ERROR"
)

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	require := func(req auth.Requirement, h http.HandlerFunc) http.Handler {
		return g.auth.Require(req, h)
	}

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /.well-known/jwks.json", g.handleJWKS)

	mux.Handle("POST /api/keys", require(auth.RequireHuman, g.handleCreateKey))
	mux.Handle("GET /api/keys", require(auth.RequireHuman, g.handleListKeys))
	mux.Handle("DELETE /api/keys/{id}", require(auth.RequireHuman, g.handleRevokeKey))
	mux.HandleFunc("GET /api/keys/{id}/pubkey", g.handleKeyPubkey)
	mux.Handle("GET /api/keys/{id}/audit", require(auth.RequireHuman, g.handleKeyAudit))

	mux.Handle("POST /api/grant", require(auth.RequireAny, g.handleCreateGrant))
	mux.Handle("DELETE /api/grant/{id}", require(auth.RequireAny, g.handleRevokeGrant))
	mux.Handle("GET /api/grants/received", require(auth.RequireAgent, g.handleReceivedGrants))
	mux.Handle("GET /api/grants/file/{id}", require(auth.RequireAny, g.handleFileGrants))

	mux.Handle("POST /api/upload", require(auth.RequireAny, g.handleUpload))
	mux.Handle("POST /api/upload/confirm", require(auth.RequireAny, g.handleConfirmUpload))
	mux.Handle("GET /api/files", require(auth.RequireAny, g.handleListFiles))
	mux.Handle("GET /api/files/{id}", require(auth.RequireAny, g.handleGetFile))
	mux.Handle("DELETE /api/files/{id}", require(auth.RequireAny, g.handleDeleteFile))
	mux.Handle("GET /api/files/{id}/download", require(auth.RequireAny, g.handleDownload))
}

var corsAllowHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	signing.HeaderKeyHash,
	signing.HeaderTimestamp,
	signing.HeaderNonce,
	signing.HeaderSignature,
}, ", ")

// withCORS adds CORS headers to API and well-known responses and answers
// preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") && !strings.HasPrefix(r.URL.Path, "/.well-known/") {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendJSONError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// internalError logs err and answers 500 without leaking details.
func (g *Gateway) internalError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	g.logger.Error(msg, append([]any{"error", err}, attrs...)...)
	sendJSONError(w, http.StatusInternalServerError, codeInternal, "internal server error")
}
