// ABOUTME: Five-step grant token verification as an ordered list of checks
// ABOUTME: signature+issuer, expiry, audience, grant record, file record

package grants

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/store"
)

// Verified is the outcome of a successful grant verification.
type Verified struct {
	FileID      string
	GrantID     string
	Permissions []string
	ExpiresAt   time.Time
}

// Allows reports whether the grant carries permission.
func (v *Verified) Allows(permission string) bool {
	return slices.Contains(v.Permissions, permission)
}

// verification is the state threaded through the checks.
type verification struct {
	ctx     context.Context
	token   string
	keyHash string
	claims  *Claims
	grant   *store.Grant
}

type check struct {
	name string
	run  func(a *Authority, v *verification) error
}

// verifyChecks runs in order; the first failure is terminal. Audience is
// checked before any store lookup.
var verifyChecks = []check{
	{"signature", (*Authority).checkSignature},
	{"expiry", (*Authority).checkExpiry},
	{"audience", (*Authority).checkAudience},
	{"grant", (*Authority).checkGrant},
	{"file", (*Authority).checkFile},
}

// Verify checks token on behalf of the agent with requestingKeyHash. Failures
// are *auth.Error values; transient store failures carry auth.CodeUnavailable.
func (a *Authority) Verify(ctx context.Context, token, requestingKeyHash string) (*Verified, error) {
	v := &verification{ctx: ctx, token: token, keyHash: requestingKeyHash}
	for _, c := range verifyChecks {
		if err := c.run(a, v); err != nil {
			a.logger.Debug("grant verification failed", "check", c.name, "reason", err.Error())
			return nil, err
		}
	}

	return &Verified{
		FileID:      v.claims.Subject,
		GrantID:     v.claims.ID,
		Permissions: v.claims.Permissions,
		ExpiresAt:   v.claims.ExpiresAt.Time,
	}, nil
}

func (a *Authority) checkSignature(v *verification) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(v.token, claims, func(*jwt.Token) (any, error) {
		return a.pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return &auth.Error{Code: auth.CodeTokenSignatureInvalid, Reason: "token signature invalid", Err: err}
	}
	if claims.Issuer != a.cfg.Issuer {
		return auth.Reject(auth.CodeTokenSignatureInvalid, "unexpected issuer "+claims.Issuer)
	}
	if claims.Subject == "" || claims.ID == "" {
		return auth.Reject(auth.CodeTokenSignatureInvalid, "token missing sub or jti")
	}
	v.claims = claims
	return nil
}

func (a *Authority) checkExpiry(v *verification) error {
	validator := jwt.NewValidator(jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err := validator.Validate(v.claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &auth.Error{Code: auth.CodeTokenExpired, Reason: "token expired", Err: err}
		}
		return &auth.Error{Code: auth.CodeTokenSignatureInvalid, Reason: "token time claims invalid", Err: err}
	}
	return nil
}

func (a *Authority) checkAudience(v *verification) error {
	aud := v.claims.Audience
	if len(aud) != 1 || aud[0] != v.keyHash {
		return auth.Reject(auth.CodeAudienceMismatch, "token audience does not match requesting agent")
	}
	return nil
}

func (a *Authority) checkGrant(v *verification) error {
	ctx, cancel := context.WithTimeout(v.ctx, a.storeTimeout)
	defer cancel()

	grant, err := a.grants.GetGrant(ctx, v.claims.ID)
	if errors.Is(err, store.ErrNotFound) {
		return auth.Reject(auth.CodeGrantNotFound, "grant not found")
	}
	if err != nil {
		return auth.Unavailable("grant lookup failed", err)
	}
	if grant.Revoked() {
		return auth.Reject(auth.CodeGrantRevoked, "grant has been revoked")
	}
	if grant.FileID != v.claims.Subject || grant.GranteeKeyHash != v.keyHash {
		return auth.Reject(auth.CodeGrantNotFound, "grant record does not match token")
	}
	v.grant = grant
	return nil
}

func (a *Authority) checkFile(v *verification) error {
	ctx, cancel := context.WithTimeout(v.ctx, a.storeTimeout)
	defer cancel()

	file, err := a.files.GetFile(ctx, v.claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return auth.Reject(auth.CodeResourceGone, "file not found")
	}
	if err != nil {
		return auth.Unavailable("file lookup failed", err)
	}
	if file.Deleted() {
		return auth.Reject(auth.CodeResourceGone, "file has been deleted")
	}
	if file.State != store.FileConfirmed {
		return auth.Reject(auth.CodeResourceGone, "file upload not confirmed")
	}
	return nil
}
