// ABOUTME: Canonical request representation shared by the agent signer and the gateway verifier
// ABOUTME: METHOD, PATH, TIMESTAMP, NONCE and the body digest joined by newlines

package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Request signing headers. Lookups through http.Header are case-insensitive.
const (
	HeaderKeyHash   = "X-AgentDrop-KeyHash"
	HeaderTimestamp = "X-AgentDrop-Timestamp"
	HeaderNonce     = "X-AgentDrop-Nonce"
	HeaderSignature = "X-AgentDrop-Signature"
)

// EmptyBodyHash is the hex SHA-256 of the empty byte string.
const EmptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// CanonicalString joins the signed request fields in their fixed order.
// The path never includes the query string.
func CanonicalString(method, path, timestamp, nonce, bodyHash string) string {
	return strings.Join([]string{method, path, timestamp, nonce, bodyHash}, "\n")
}

// HashBody returns the lowercase hex SHA-256 of body. A nil body hashes as empty.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Headers carries the four signing values on the wire.
type Headers struct {
	KeyHash   string
	Timestamp string
	Nonce     string
	Signature string
}

// Apply sets the signing headers on h.
func (s Headers) Apply(h http.Header) {
	h.Set(HeaderKeyHash, s.KeyHash)
	h.Set(HeaderTimestamp, s.Timestamp)
	h.Set(HeaderNonce, s.Nonce)
	h.Set(HeaderSignature, s.Signature)
}

// HeadersFrom extracts the signing values from h, trimming surrounding whitespace.
func HeadersFrom(h http.Header) Headers {
	return Headers{
		KeyHash:   strings.TrimSpace(h.Get(HeaderKeyHash)),
		Timestamp: strings.TrimSpace(h.Get(HeaderTimestamp)),
		Nonce:     strings.TrimSpace(h.Get(HeaderNonce)),
		Signature: strings.TrimSpace(h.Get(HeaderSignature)),
	}
}

// Complete reports whether all four values are present.
func (s Headers) Complete() bool {
	return s.KeyHash != "" && s.Timestamp != "" && s.Nonce != "" && s.Signature != ""
}

// Present reports whether any signing value is present.
func (s Headers) Present() bool {
	return s.KeyHash != "" || s.Timestamp != "" || s.Nonce != "" || s.Signature != ""
}
