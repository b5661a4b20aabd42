// ABOUTME: HTTP middleware running the authentication pipeline on API endpoints
// ABOUTME: Detailed reasons go to the log; callers only see a generic 401 or a 503

package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// MaxBodyBytes caps the body the middleware buffers for signature checks.
const MaxBodyBytes = 1 << 20

// Requirement says which principals may reach a handler.
type Requirement int

const (
	// AllowAnonymous authenticates when credentials are present but lets
	// credential-less requests through.
	AllowAnonymous Requirement = iota
	RequireAny
	RequireHuman
	RequireAgent
)

// Middleware wraps handlers with authentication.
type Middleware struct {
	auth   *Authenticator
	logger *slog.Logger
}

// NewMiddleware creates a middleware over the authenticator.
func NewMiddleware(a *Authenticator, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{auth: a, logger: logger.With("component", "auth")}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// logAuthFailure logs an authentication failure with structured context.
func (m *Middleware) logAuthFailure(r *http.Request, strategy string, err error) {
	attrs := []any{
		"reason", err.Error(),
		"code", string(CodeOf(err)),
		"strategy", strategy,
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
	}
	if ErrorStatus(err) != http.StatusUnauthorized {
		m.logger.Error("auth check could not complete", attrs...)
		return
	}
	m.logger.Warn("auth failure", attrs...)
}

// Require returns next guarded by the requirement. The request body is read,
// made available to the signature check, and restored for the handler.
func (m *Middleware) Require(req Requirement, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
		if err != nil {
			writeAuthError(w, http.StatusBadRequest, "BAD_REQUEST", "could not read request body")
			return
		}
		if len(body) > MaxBodyBytes {
			writeAuthError(w, http.StatusRequestEntityTooLarge, "BAD_REQUEST", "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		principal, strategy, err := m.auth.Authenticate(r.Context(), r, body)
		if err != nil {
			m.logAuthFailure(r, strategy, err)
			switch ErrorStatus(err) {
			case http.StatusServiceUnavailable:
				writeAuthError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "authentication backend unavailable, try again")
			case http.StatusInternalServerError:
				writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			default:
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication failed")
			}
			return
		}

		if msg := checkRequirement(req, principal); msg != "" {
			status := http.StatusForbidden
			code := "FORBIDDEN"
			if principal == nil {
				status = http.StatusUnauthorized
				code = "UNAUTHORIZED"
			}
			writeAuthError(w, status, code, msg)
			return
		}

		if principal != nil {
			r = r.WithContext(WithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

// checkRequirement returns an error message, or "" when the principal qualifies.
func checkRequirement(req Requirement, p Principal) string {
	switch req {
	case AllowAnonymous:
		return ""
	case RequireAny:
		if p == nil {
			return "authentication required"
		}
	case RequireHuman:
		if p == nil {
			return "authentication required"
		}
		if _, ok := p.(*Human); !ok {
			return "human session required"
		}
	case RequireAgent:
		if p == nil {
			return "authentication required"
		}
		if _, ok := p.(*Agent); !ok {
			return "agent signature required"
		}
	default:
		return "unsupported requirement"
	}
	return ""
}

// ErrorStatus maps an auth error to the HTTP status used at the boundary.
func ErrorStatus(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}
