// ABOUTME: Ed25519 JSON Web Key encoding, parsing, and RFC 7638 thumbprints
// ABOUTME: The thumbprint is the stable "key hash" that identifies an agent key

package jwk

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Key type and curve values for Ed25519 keys (RFC 8037).
const (
	KeyTypeOKP   = "OKP"
	CurveEd25519 = "Ed25519"
	AlgEdDSA     = "EdDSA"
	UseSignature = "sig"
)

// JWK errors
var (
	ErrInvalidKey      = errors.New("invalid Ed25519 JWK")
	ErrUnsupportedKey  = errors.New("unsupported key type: only Ed25519 is accepted")
	ErrKeyMismatch     = errors.New("private key does not match its public half")
	ErrMissingMaterial = errors.New("empty key material")
)

// Key is the JSON form of an Ed25519 JWK. D is only populated for private keys.
type Key struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// Set is a JWKS document.
type Set struct {
	Keys []Key `json:"keys"`
}

var b64 = base64.RawURLEncoding

// FromPublicKey encodes a public key as a bare JWK (kty, crv, x).
func FromPublicKey(pub ed25519.PublicKey) Key {
	return Key{
		Kty: KeyTypeOKP,
		Crv: CurveEd25519,
		X:   b64.EncodeToString(pub),
	}
}

// FromPrivateKey encodes a private key as a JWK carrying the seed in d.
func FromPrivateKey(priv ed25519.PrivateKey) Key {
	k := FromPublicKey(priv.Public().(ed25519.PublicKey))
	k.D = b64.EncodeToString(priv.Seed())
	return k
}

// PublicKey decodes the public half of the key.
func (k Key) PublicKey() (ed25519.PublicKey, error) {
	if k.Kty != KeyTypeOKP || k.Crv != CurveEd25519 {
		return nil, ErrUnsupportedKey
	}
	x, err := b64.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding x: %v", ErrInvalidKey, err)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: x must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(x))
	}
	return ed25519.PublicKey(x), nil
}

// PrivateKey decodes the private key from d and checks it against x when x is set.
func (k Key) PrivateKey() (ed25519.PrivateKey, error) {
	if k.Kty != KeyTypeOKP || k.Crv != CurveEd25519 {
		return nil, ErrUnsupportedKey
	}
	if k.D == "" {
		return nil, fmt.Errorf("%w: missing d", ErrInvalidKey)
	}
	seed, err := b64.DecodeString(k.D)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding d: %v", ErrInvalidKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: d must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if k.X != "" {
		pub, err := k.PublicKey()
		if err != nil {
			return nil, err
		}
		if !pub.Equal(priv.Public()) {
			return nil, ErrKeyMismatch
		}
	}
	return priv, nil
}

// String returns the compact JSON encoding of the key.
func (k Key) String() string {
	data, _ := json.Marshal(k)
	return string(data)
}

// Parse decodes a JSON JWK document.
func Parse(data []byte) (Key, error) {
	var k Key
	if err := json.Unmarshal(data, &k); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return k, nil
}

// ParsePublic decodes a JSON JWK into an Ed25519 public key.
func ParsePublic(data []byte) (ed25519.PublicKey, error) {
	k, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return k.PublicKey()
}

// ParsePrivate decodes a JSON JWK into an Ed25519 private key.
func ParsePrivate(data []byte) (ed25519.PrivateKey, error) {
	k, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return k.PrivateKey()
}

// ParseAuthorizedKey converts an OpenSSH "ssh-ed25519 AAAA..." line into a public key.
func ParseAuthorizedKey(line string) (ed25519.PublicKey, error) {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	cpk, ok := pk.(ssh.CryptoPublicKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	pub, ok := cpk.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	return pub, nil
}

// ParsePublicMaterial accepts either a JSON JWK or an OpenSSH authorized_keys line.
func ParsePublicMaterial(material string) (ed25519.PublicKey, error) {
	material = strings.TrimSpace(material)
	switch {
	case material == "":
		return nil, ErrMissingMaterial
	case strings.HasPrefix(material, "{"):
		return ParsePublic([]byte(material))
	default:
		return ParseAuthorizedKey(material)
	}
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint of a public key,
// base64url encoded without padding. The same key always yields the same value.
func Thumbprint(pub ed25519.PublicKey) string {
	// Required members in lexicographic order, no whitespace.
	canonical := `{"crv":"` + CurveEd25519 + `","kty":"` + KeyTypeOKP + `","x":"` + b64.EncodeToString(pub) + `"}`
	sum := sha256.Sum256([]byte(canonical))
	return b64.EncodeToString(sum[:])
}

// NewSet builds a single-key JWKS for a signing key.
func NewSet(pub ed25519.PublicKey, kid string) Set {
	k := FromPublicKey(pub)
	k.Kid = kid
	k.Use = UseSignature
	k.Alg = AlgEdDSA
	return Set{Keys: []Key{k}}
}
