// ABOUTME: Typed rejection codes for request authentication and grant checks
// ABOUTME: Every auth failure carries a stable machine-readable code and a diagnostic reason

package auth

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable rejection code.
type Code string

const (
	CodeMalformedRequest      Code = "MALFORMED_REQUEST"
	CodeStaleRequest          Code = "STALE_REQUEST"
	CodeUnknownOrRevokedKey   Code = "UNKNOWN_OR_REVOKED_KEY"
	CodeBadSignature          Code = "BAD_SIGNATURE"
	CodeReplayedNonce         Code = "REPLAYED_NONCE"
	CodeTokenSignatureInvalid Code = "TOKEN_SIGNATURE_INVALID"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeAudienceMismatch      Code = "AUDIENCE_MISMATCH"
	CodeGrantRevoked          Code = "GRANT_REVOKED"
	CodeGrantNotFound         Code = "GRANT_NOT_FOUND"
	CodeResourceGone          Code = "RESOURCE_GONE"
	CodePermissionNotGranted  Code = "PERMISSION_NOT_GRANTED"

	// CodeUnauthenticated is used when no strategy applies to a request.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	// CodeUnavailable marks a transient backend failure: neither allow nor deny.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeInternal marks an invariant violation inside the verifier.
	CodeInternal Code = "INTERNAL"
)

// Error is an authentication or authorization rejection.
type Error struct {
	Code   Code
	Reason string // diagnostic detail, for logs only
	Err    error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Reject builds a rejection with the given code and reason.
func Reject(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Unavailable wraps a transient backend error.
func Unavailable(reason string, err error) *Error {
	return &Error{Code: CodeUnavailable, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal for any other error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsTransient reports whether err means "try again" rather than deny.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeUnavailable
}
