// ABOUTME: Tests for Ed25519 JWK handling and RFC 7638 thumbprints
// ABOUTME: Covers round trips, OpenSSH import, and malformed input rejection

package jwk

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// RFC 8037 Appendix A.1 test key.
const (
	rfcSeedHex       = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	rfcX             = "11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo"
	rfcThumbprint    = "kPrK_qmxVWaYVA9wwBF6Iuo3vVzz7TxHCTwXBygrS4k"
	rfcPublicKeyJSON = `{"kty":"OKP","crv":"Ed25519","x":"11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo"}`
)

func rfcKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	seed, err := hex.DecodeString(rfcSeedHex)
	require.NoError(t, err)
	return ed25519.NewKeyFromSeed(seed)
}

func TestThumbprint_RFC8037Vector(t *testing.T) {
	priv := rfcKey(t)
	pub := priv.Public().(ed25519.PublicKey)

	assert.Equal(t, rfcX, FromPublicKey(pub).X)
	assert.Equal(t, rfcThumbprint, Thumbprint(pub))
}

func TestThumbprint_Deterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	assert.Equal(t, Thumbprint(pub), Thumbprint(pub))

	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.NotEqual(t, Thumbprint(pub), Thumbprint(other))
}

func TestParsePublic(t *testing.T) {
	pub, err := ParsePublic([]byte(rfcPublicKeyJSON))
	require.NoError(t, err)
	assert.Equal(t, rfcThumbprint, Thumbprint(pub))
}

func TestParsePublic_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "nope"},
		{"wrong kty", `{"kty":"EC","crv":"P-256","x":"abc"}`},
		{"wrong curve", `{"kty":"OKP","crv":"X25519","x":"11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo"}`},
		{"short x", `{"kty":"OKP","crv":"Ed25519","x":"AAAA"}`},
		{"bad base64", `{"kty":"OKP","crv":"Ed25519","x":"!!!"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePublic([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	encoded := FromPrivateKey(priv).String()
	decoded, err := ParsePrivate([]byte(encoded))
	require.NoError(t, err)
	assert.True(t, priv.Equal(decoded))
}

func TestPrivateKey_Mismatch(t *testing.T) {
	_, a, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, b, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	k := FromPrivateKey(a)
	k.X = FromPublicKey(b.Public().(ed25519.PublicKey)).X

	_, err = k.PrivateKey()
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestParsePublicMaterial_SSH(t *testing.T) {
	priv := rfcKey(t)
	sshPub, err := ssh.NewPublicKey(priv.Public())
	require.NoError(t, err)
	line := string(ssh.MarshalAuthorizedKey(sshPub))

	pub, err := ParsePublicMaterial(line + " agent@host")
	require.NoError(t, err)
	assert.Equal(t, rfcThumbprint, Thumbprint(pub))
}

func TestParsePublicMaterial_Empty(t *testing.T) {
	_, err := ParsePublicMaterial("   ")
	assert.ErrorIs(t, err, ErrMissingMaterial)
}

func TestNewSet(t *testing.T) {
	priv := rfcKey(t)
	set := NewSet(priv.Public().(ed25519.PublicKey), "agentdrop-signing-key-1")

	data, err := json.Marshal(set)
	require.NoError(t, err)

	var doc map[string][]map[string]string
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc["keys"], 1)
	k := doc["keys"][0]
	assert.Equal(t, "agentdrop-signing-key-1", k["kid"])
	assert.Equal(t, "sig", k["use"])
	assert.Equal(t, "EdDSA", k["alg"])
	assert.Equal(t, rfcX, k["x"])
	_, hasD := k["d"]
	assert.False(t, hasD, "JWKS must never expose the private key")
}
