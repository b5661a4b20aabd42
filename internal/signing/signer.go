// ABOUTME: Ed25519 request signer producing compact-JWS detached signatures
// ABOUTME: Signatures embed the canonical string as the JWS payload, signed with EdDSA

package signing

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/2389/agentdrop/internal/jwk"
)

// Signature errors
var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrUnsupportedAlg     = errors.New("unsupported signature algorithm")
	ErrPayloadMismatch    = errors.New("signed payload does not match request")
	ErrBadSignature       = errors.New("signature verification failed")
)

var b64 = base64.RawURLEncoding

// protectedHeader is the fixed JWS header for request signatures.
var protectedHeader = b64.EncodeToString([]byte(`{"alg":"EdDSA"}`))

// Signer signs outgoing requests on behalf of one agent key.
type Signer struct {
	key     ed25519.PrivateKey
	keyHash string
	now     func() time.Time
	nonce   func() string
}

// NewSigner creates a signer for the given private key.
func NewSigner(key ed25519.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		keyHash: jwk.Thumbprint(key.Public().(ed25519.PublicKey)),
		now:     time.Now,
		nonce:   func() string { return uuid.New().String() },
	}
}

// KeyHash returns the JWK thumbprint of the signer's public key.
func (s *Signer) KeyHash() string {
	return s.keyHash
}

// Sign produces the signing headers for a request. Every call uses the current
// time and a fresh nonce, so retried requests never reuse signed bytes.
func (s *Signer) Sign(method, path string, body []byte) (Headers, error) {
	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	nonce := s.nonce()

	canonical := CanonicalString(method, path, timestamp, nonce, HashBody(body))
	sig, err := SignCanonical(s.key, canonical)
	if err != nil {
		return Headers{}, err
	}

	return Headers{
		KeyHash:   s.keyHash,
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: sig,
	}, nil
}

// SignCanonical signs a canonical string and returns a compact JWS
// (header.payload.signature) whose payload is the canonical string.
func SignCanonical(key ed25519.PrivateKey, canonical string) (string, error) {
	signingInput := protectedHeader + "." + b64.EncodeToString([]byte(canonical))
	sig, err := jwt.SigningMethodEdDSA.Sign(signingInput, key)
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return signingInput + "." + b64.EncodeToString(sig), nil
}

// VerifyCanonical checks a compact JWS against the public key and confirms
// that its payload is exactly the expected canonical string.
func VerifyCanonical(pub ed25519.PublicKey, signature, canonical string) error {
	parts := strings.Split(signature, ".")
	if len(parts) != 3 {
		return ErrMalformedSignature
	}

	headerJSON, err := b64.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformedSignature, err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformedSignature, err)
	}
	if header.Alg != jwt.SigningMethodEdDSA.Alg() {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlg, header.Alg)
	}

	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedSignature, err)
	}
	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("%w: signature: %v", ErrMalformedSignature, err)
	}

	if err := jwt.SigningMethodEdDSA.Verify(parts[0]+"."+parts[1], sig, pub); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if subtle.ConstantTimeCompare(payload, []byte(canonical)) != 1 {
		return ErrPayloadMismatch
	}
	return nil
}
