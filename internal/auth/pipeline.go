// ABOUTME: Ordered authentication strategies resolved by a single pipeline
// ABOUTME: The first strategy whose credentials are present decides; there is no fall-through

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/agentdrop/internal/signing"
)

// Strategy authenticates one kind of credential.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// Applies reports whether the request carries this strategy's credentials.
	Applies(r *http.Request) bool
	// Authenticate verifies the credentials. body is the raw request body.
	Authenticate(ctx context.Context, r *http.Request, body []byte) (Principal, error)
}

// AgentStrategy authenticates requests carrying signing headers.
type AgentStrategy struct {
	Verifier *AgentVerifier
}

func (s *AgentStrategy) Name() string { return "agent" }

// Applies is true as soon as any signing header is present, so a partially
// signed request is rejected rather than treated as some other credential.
func (s *AgentStrategy) Applies(r *http.Request) bool {
	return signing.HeadersFrom(r.Header).Present()
}

func (s *AgentStrategy) Authenticate(ctx context.Context, r *http.Request, body []byte) (Principal, error) {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	agent, err := s.Verifier.Verify(ctx, SignedRequest{
		Headers: signing.HeadersFrom(r.Header),
		Method:  r.Method,
		Path:    path,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// HumanStrategy authenticates requests carrying a bearer session token.
type HumanStrategy struct {
	Verifier HumanVerifier
}

func (s *HumanStrategy) Name() string { return "human" }

func (s *HumanStrategy) Applies(r *http.Request) bool {
	return r.Header.Get("Authorization") != ""
}

func (s *HumanStrategy) Authenticate(_ context.Context, r *http.Request, _ []byte) (Principal, error) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, Reject(CodeMalformedRequest, errMsg)
	}
	userID, err := s.Verifier.Verify(token)
	if err != nil {
		return nil, &Error{Code: CodeUnauthenticated, Reason: "invalid session token", Err: err}
	}
	return &Human{UserID: userID}, nil
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticator runs strategies in order.
type Authenticator struct {
	strategies []Strategy
}

// NewAuthenticator creates a pipeline. Order matters: the first strategy that
// applies is the only one consulted.
func NewAuthenticator(strategies ...Strategy) *Authenticator {
	return &Authenticator{strategies: strategies}
}

// Authenticate returns the principal and the name of the strategy that decided.
// The principal is nil with a nil error when no strategy applies.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, body []byte) (Principal, string, error) {
	for _, s := range a.strategies {
		if !s.Applies(r) {
			continue
		}
		p, err := s.Authenticate(ctx, r, body)
		if err != nil {
			return nil, s.Name(), err
		}
		return p, s.Name(), nil
	}
	return nil, "", nil
}
