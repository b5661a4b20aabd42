// ABOUTME: Agent request verification: freshness, key lookup, signature, then nonce
// ABOUTME: Fail-closed; the first failing check decides the rejection code

package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/2389/agentdrop/internal/keys"
	"github.com/2389/agentdrop/internal/replay"
	"github.com/2389/agentdrop/internal/signing"
)

const (
	// DefaultTolerance bounds |now - timestamp| for a signed request.
	DefaultTolerance = 5 * time.Minute

	// DefaultStoreTimeout bounds each key lookup and nonce insert.
	DefaultStoreTimeout = 5 * time.Second
)

// KeyResolver returns the active key for a key hash, or
// keys.ErrUnknownOrRevoked.
type KeyResolver interface {
	Resolve(ctx context.Context, keyHash string) (*keys.ResolvedKey, error)
}

// SignedRequest is everything the verifier needs from an inbound request.
type SignedRequest struct {
	Headers signing.Headers
	Method  string
	Path    string // escaped path without query string
	Body    []byte
}

// AgentVerifier authenticates signed agent requests.
type AgentVerifier struct {
	keys         KeyResolver
	ledger       replay.Ledger
	tolerance    time.Duration
	storeTimeout time.Duration
	now          func() time.Time
}

// AgentVerifierOption configures an AgentVerifier.
type AgentVerifierOption func(*AgentVerifier)

// WithTolerance sets the allowed clock difference.
func WithTolerance(d time.Duration) AgentVerifierOption {
	return func(v *AgentVerifier) { v.tolerance = d }
}

// WithStoreTimeout bounds each backing-store call.
func WithStoreTimeout(d time.Duration) AgentVerifierOption {
	return func(v *AgentVerifier) { v.storeTimeout = d }
}

// WithNow overrides the verifier's clock.
func WithNow(now func() time.Time) AgentVerifierOption {
	return func(v *AgentVerifier) { v.now = now }
}

// NewAgentVerifier creates a verifier over a key resolver and a nonce ledger.
func NewAgentVerifier(resolver KeyResolver, ledger replay.Ledger, opts ...AgentVerifierOption) *AgentVerifier {
	v := &AgentVerifier{
		keys:         resolver,
		ledger:       ledger,
		tolerance:    DefaultTolerance,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Tolerance returns the configured freshness window.
func (v *AgentVerifier) Tolerance() time.Duration {
	return v.tolerance
}

// Verify runs the checks in order: headers, freshness, key, signature, nonce.
// The nonce is consumed only after the signature has been verified, so
// unsigned traffic can never burn a legitimate caller's nonce.
func (v *AgentVerifier) Verify(ctx context.Context, req SignedRequest) (*Agent, error) {
	h := req.Headers
	if !h.Complete() {
		return nil, Reject(CodeMalformedRequest, "missing signing headers")
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return nil, Reject(CodeMalformedRequest, "timestamp is not an integer")
	}
	now := v.now().Unix()
	tol := int64(v.tolerance / time.Second)
	if ts < now-tol || ts > now+tol {
		return nil, Reject(CodeStaleRequest, fmt.Sprintf("timestamp %d outside %ds of server time %d", ts, tol, now))
	}

	resolved, err := v.resolve(ctx, h.KeyHash)
	if err != nil {
		return nil, err
	}

	canonical := signing.CanonicalString(req.Method, req.Path, h.Timestamp, h.Nonce, signing.HashBody(req.Body))
	if err := signing.VerifyCanonical(resolved.PublicKey, h.Signature, canonical); err != nil {
		return nil, &Error{Code: CodeBadSignature, Reason: "signature does not verify", Err: err}
	}

	fresh, err := v.consume(ctx, h.Nonce, h.KeyHash)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, Reject(CodeReplayedNonce, "nonce already used")
	}

	return &Agent{
		KeyHash:   resolved.Key.KeyHash,
		KeyID:     resolved.Key.ID,
		UserID:    resolved.Key.UserID,
		PublicKey: resolved.PublicKey,
	}, nil
}

func (v *AgentVerifier) resolve(ctx context.Context, keyHash string) (*keys.ResolvedKey, error) {
	ctx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()

	resolved, err := v.keys.Resolve(ctx, keyHash)
	if errors.Is(err, keys.ErrUnknownOrRevoked) {
		return nil, Reject(CodeUnknownOrRevokedKey, "key hash not active")
	}
	if err != nil {
		return nil, Unavailable("key lookup failed", err)
	}
	if resolved == nil || resolved.Key == nil || len(resolved.PublicKey) == 0 {
		return nil, Reject(CodeInternal, "key resolver returned no key")
	}
	return resolved, nil
}

func (v *AgentVerifier) consume(ctx context.Context, nonce, keyHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()

	fresh, err := v.ledger.Consume(ctx, nonce, keyHash)
	if err != nil {
		return false, Unavailable("nonce ledger failed", err)
	}
	return fresh, nil
}
