package grants

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/jwk"
	"github.com/2389/agentdrop/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	granteeHash = "grantee-key-hash"
	otherHash   = "someone-else"
)

type fixture struct {
	store *store.MockStore
	auth  *Authority
	now   time.Time
	owner *auth.Human
	file  *store.File
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := GenerateSigningKey()
	require.NoError(t, err)

	f := &fixture{store: store.NewMockStore(), now: t0, owner: &auth.Human{UserID: "user-1"}}
	f.auth, err = NewAuthority(key, Config{}, f.store, f.store, nil)
	require.NoError(t, err)
	f.auth.now = func() time.Time { return f.now }

	f.file = &store.File{
		ID:          uuid.New().String(),
		OwnerID:     "user-1",
		OwnerType:   store.PrincipalHuman,
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		SizeBytes:   10,
		State:       store.FileConfirmed,
		CreatedAt:   t0,
	}
	require.NoError(t, f.store.CreateFile(context.Background(), f.file))
	return f
}

func (f *fixture) create(t *testing.T, ttl time.Duration) (*store.Grant, string) {
	t.Helper()
	g, token, err := f.auth.Create(context.Background(), f.owner, CreateRequest{
		FileID:         f.file.ID,
		GranteeKeyHash: granteeHash,
		Permissions:    []string{PermissionDownload},
		TTL:            ttl,
	})
	require.NoError(t, err)
	return g, token
}

func requireCode(t *testing.T, err error, code auth.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, auth.CodeOf(err), "error: %v", err)
}

func TestNewAuthority_Defaults(t *testing.T) {
	f := newFixture(t)
	cfg := f.auth.Config()
	assert.Equal(t, DefaultIssuer, cfg.Issuer)
	assert.Equal(t, DefaultKeyID, cfg.KeyID)
	assert.Equal(t, MaxTTL, cfg.MaxTTL)
	assert.Equal(t, DefaultTTL, cfg.DefaultTTL)

	_, err := NewAuthority(nil, Config{}, f.store, f.store, nil)
	assert.ErrorIs(t, err, ErrMissingSigningKey)
}

func TestNewAuthority_CapsMaxTTL(t *testing.T) {
	f := newFixture(t)
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	a, err := NewAuthority(key, Config{MaxTTL: 30 * 24 * time.Hour, DefaultTTL: 48 * time.Hour}, f.store, f.store, nil)
	require.NoError(t, err)
	assert.Equal(t, MaxTTL, a.Config().MaxTTL)
	assert.Equal(t, MaxTTL, a.Config().DefaultTTL)

	_, err = a.Issue("g", "f", granteeHash, []string{PermissionDownload}, 7*24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = a.Issue("g", "f", granteeHash, []string{PermissionDownload}, MaxTTL)
	assert.NoError(t, err)
}

func TestIssue_Claims(t *testing.T) {
	f := newFixture(t)

	token, err := f.auth.Issue("grant-1", "file-1", granteeHash, []string{PermissionDownload}, time.Minute)
	require.NoError(t, err)

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return f.auth.PublicKey(), nil
	}, jwt.WithoutClaimsValidation())
	require.NoError(t, err)

	assert.Equal(t, "EdDSA", parsed.Header["alg"])
	assert.Equal(t, DefaultKeyID, parsed.Header["kid"])
	assert.Equal(t, "agentdrop", claims.Issuer)
	assert.Equal(t, "file-1", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{granteeHash}, claims.Audience)
	assert.Equal(t, "grant-1", claims.ID)
	assert.Equal(t, []string{"download"}, claims.Permissions)
	assert.Equal(t, t0.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, t0.Add(time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestIssue_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Issue("g", "f", granteeHash, []string{PermissionDownload}, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = f.auth.Issue("g", "f", granteeHash, []string{PermissionDownload}, 25*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = f.auth.Issue("g", "f", granteeHash, nil, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidPermissions)
	_, err = f.auth.Issue("g", "f", granteeHash, []string{"upload"}, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidPermissions)
}

func TestVerify_RoundTrip(t *testing.T) {
	f := newFixture(t)
	g, token := f.create(t, 5*time.Minute)

	v, err := f.auth.Verify(context.Background(), token, granteeHash)
	require.NoError(t, err)
	assert.Equal(t, f.file.ID, v.FileID)
	assert.Equal(t, g.ID, v.GrantID)
	assert.Equal(t, []string{PermissionDownload}, v.Permissions)
	assert.True(t, v.Allows(PermissionDownload))
	assert.False(t, v.Allows("upload"))
	assert.Equal(t, t0.Add(5*time.Minute).Unix(), v.ExpiresAt.Unix())
}

func TestVerify_AudienceMismatch(t *testing.T) {
	f := newFixture(t)
	_, token := f.create(t, time.Minute)

	_, err := f.auth.Verify(context.Background(), token, otherHash)
	requireCode(t, err, auth.CodeAudienceMismatch)
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	_, token := f.create(t, 5*time.Minute)

	f.now = t0.Add(5*time.Minute - time.Second)
	_, err := f.auth.Verify(context.Background(), token, granteeHash)
	require.NoError(t, err)

	f.now = t0.Add(5 * time.Minute)
	_, err = f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeTokenExpired)
}

func TestVerify_Revoked(t *testing.T) {
	f := newFixture(t)
	g, token := f.create(t, time.Hour)

	_, err := f.auth.Revoke(context.Background(), g.ID, f.owner)
	require.NoError(t, err)

	// The token is still cryptographically valid and unexpired.
	_, err = f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeGrantRevoked)
}

func TestVerify_FileDeleted(t *testing.T) {
	f := newFixture(t)
	_, token := f.create(t, time.Hour)

	require.NoError(t, f.store.DeleteFile(context.Background(), f.file.ID, t0))

	_, err := f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeResourceGone)
}

func TestVerify_FileNotConfirmed(t *testing.T) {
	f := newFixture(t)
	pending := &store.File{
		ID:        uuid.New().String(),
		OwnerID:   "user-1",
		OwnerType: store.PrincipalHuman,
		Filename:  "draft.txt",
		State:     store.FilePending,
		CreatedAt: t0,
	}
	require.NoError(t, f.store.CreateFile(context.Background(), pending))

	_, token, err := f.auth.Create(context.Background(), f.owner, CreateRequest{
		FileID:         pending.ID,
		GranteeKeyHash: granteeHash,
		Permissions:    []string{PermissionDownload},
		TTL:            time.Hour,
	})
	require.NoError(t, err)

	_, err = f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeResourceGone)
}

func TestVerify_GrantNotFound(t *testing.T) {
	f := newFixture(t)

	// Correctly signed, but no record was ever stored.
	token, err := f.auth.Issue(uuid.New().String(), f.file.ID, granteeHash, []string{PermissionDownload}, time.Minute)
	require.NoError(t, err)

	_, err = f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeGrantNotFound)
}

func TestVerify_ForeignSigner(t *testing.T) {
	f := newFixture(t)
	other := newFixture(t)
	_, token := other.create(t, time.Minute)

	_, err := f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeTokenSignatureInvalid)
}

func TestVerify_WrongIssuer(t *testing.T) {
	f := newFixture(t)
	g, _ := f.create(t, time.Minute)

	claims := Claims{
		Permissions: []string{PermissionDownload},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   f.file.ID,
			Audience:  jwt.ClaimStrings{granteeHash},
			ID:        g.ID,
			IssuedAt:  jwt.NewNumericDate(t0),
			ExpiresAt: jwt.NewNumericDate(t0.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(f.auth.key)
	require.NoError(t, err)

	_, err = f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeTokenSignatureInvalid)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	f := newFixture(t)
	g, _ := f.create(t, time.Minute)

	claims := jwt.MapClaims{
		"iss": DefaultIssuer, "sub": f.file.ID, "aud": granteeHash, "jti": g.ID,
		"exp": t0.Add(time.Minute).Unix(), "permissions": []string{"download"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, err = f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeTokenSignatureInvalid)
}

func TestVerify_Garbage(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Verify(context.Background(), "not.a.token", granteeHash)
	requireCode(t, err, auth.CodeTokenSignatureInvalid)
}

func TestVerify_CheckOrder(t *testing.T) {
	f := newFixture(t)
	g, token := f.create(t, time.Minute)

	// Expired, revoked, deleted and presented by the wrong agent: expiry wins.
	_, err := f.auth.Revoke(context.Background(), g.ID, f.owner)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteFile(context.Background(), f.file.ID, t0))
	f.now = t0.Add(time.Hour)
	_, err = f.auth.Verify(context.Background(), token, otherHash)
	requireCode(t, err, auth.CodeTokenExpired)

	// Inside the window: audience is checked before the store.
	f.now = t0
	_, err = f.auth.Verify(context.Background(), token, otherHash)
	requireCode(t, err, auth.CodeAudienceMismatch)

	// Right audience: revocation is reported before the deleted file.
	_, err = f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeGrantRevoked)
}

func TestVerify_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	_, token := f.create(t, time.Minute)
	f.store.SetErr(context.DeadlineExceeded)

	_, err := f.auth.Verify(context.Background(), token, granteeHash)
	requireCode(t, err, auth.CodeUnavailable)
	assert.True(t, auth.IsTransient(err))
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, r *CreateRequest)
		wantErr error
	}{
		{"bad file id", func(_ *fixture, r *CreateRequest) { r.FileID = "nope" }, ErrInvalidFileID},
		{"no grantee", func(_ *fixture, r *CreateRequest) { r.GranteeKeyHash = "" }, ErrInvalidGrantee},
		{"no permissions", func(_ *fixture, r *CreateRequest) { r.Permissions = nil }, ErrInvalidPermissions},
		{"unknown permission", func(_ *fixture, r *CreateRequest) { r.Permissions = []string{"delete"} }, ErrInvalidPermissions},
		{"ttl too long", func(_ *fixture, r *CreateRequest) { r.TTL = 24*time.Hour + time.Second }, ErrInvalidTTL},
		{"negative ttl", func(_ *fixture, r *CreateRequest) { r.TTL = -time.Second }, ErrInvalidTTL},
		{"unknown file", func(_ *fixture, r *CreateRequest) { r.FileID = uuid.New().String() }, ErrFileNotFound},
		{"deleted file", func(f *fixture, _ *CreateRequest) {
			require.NoError(t, f.store.DeleteFile(context.Background(), f.file.ID, t0))
		}, ErrFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := CreateRequest{FileID: f.file.ID, GranteeKeyHash: granteeHash, Permissions: []string{PermissionDownload}}
			tt.mutate(f, &req)

			_, _, err := f.auth.Create(context.Background(), f.owner, req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreate_NotOwner(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.auth.Create(context.Background(), &auth.Human{UserID: "intruder"}, CreateRequest{
		FileID: f.file.ID, GranteeKeyHash: granteeHash, Permissions: []string{PermissionDownload},
	})
	assert.ErrorIs(t, err, ErrNotFileOwner)
}

func TestCreate_DefaultTTLAndRecord(t *testing.T) {
	f := newFixture(t)
	g, _ := f.create(t, 0)

	assert.Equal(t, t0.Add(DefaultTTL), g.ExpiresAt)
	assert.Equal(t, "user-1", g.GrantorID)
	assert.Equal(t, store.PrincipalHuman, g.GrantorType)

	stored, err := f.store.GetGrant(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, granteeHash, stored.GranteeKeyHash)
}

func TestCreate_AgentOwner(t *testing.T) {
	f := newFixture(t)
	agent := &auth.Agent{KeyHash: "agent-owner-hash"}
	file := &store.File{
		ID: uuid.New().String(), OwnerID: agent.KeyHash, OwnerType: store.PrincipalAgent,
		Filename: "a", ContentType: "text/plain", SizeBytes: 1, CreatedAt: t0,
	}
	require.NoError(t, f.store.CreateFile(context.Background(), file))

	g, _, err := f.auth.Create(context.Background(), agent, CreateRequest{
		FileID: file.ID, GranteeKeyHash: granteeHash, Permissions: []string{PermissionDownload},
	})
	require.NoError(t, err)
	assert.Equal(t, store.PrincipalAgent, g.GrantorType)
	assert.Equal(t, agent.KeyHash, g.GrantorID)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	g, _ := f.create(t, time.Hour)

	_, err := f.auth.Revoke(context.Background(), g.ID, &auth.Human{UserID: "intruder"})
	assert.ErrorIs(t, err, ErrNotGrantor)

	revoked, err := f.auth.Revoke(context.Background(), g.ID, f.owner)
	require.NoError(t, err)
	assert.True(t, revoked.Revoked())

	_, err = f.auth.Revoke(context.Background(), g.ID, f.owner)
	assert.ErrorIs(t, err, ErrAlreadyRevoked)

	_, err = f.auth.Revoke(context.Background(), "missing", f.owner)
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestListReceivedAndForFile(t *testing.T) {
	f := newFixture(t)
	f.create(t, time.Hour)
	f.now = t0.Add(time.Second)
	f.create(t, time.Hour)

	received, err := f.auth.ListReceived(context.Background(), granteeHash)
	require.NoError(t, err)
	assert.Len(t, received, 2)

	none, err := f.auth.ListReceived(context.Background(), otherHash)
	require.NoError(t, err)
	assert.Empty(t, none)

	forFile, err := f.auth.ListForFile(context.Background(), f.file.ID, f.owner)
	require.NoError(t, err)
	assert.Len(t, forFile, 2)

	_, err = f.auth.ListForFile(context.Background(), f.file.ID, &auth.Human{UserID: "intruder"})
	assert.ErrorIs(t, err, ErrNotFileOwner)
	_, err = f.auth.ListForFile(context.Background(), uuid.New().String(), f.owner)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestJWKS(t *testing.T) {
	f := newFixture(t)

	data, err := json.Marshal(f.auth.JWKS())
	require.NoError(t, err)

	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Keys, 1)

	k := doc.Keys[0]
	assert.Equal(t, "OKP", k["kty"])
	assert.Equal(t, "Ed25519", k["crv"])
	assert.Equal(t, DefaultKeyID, k["kid"])
	assert.Equal(t, "sig", k["use"])
	assert.Equal(t, "EdDSA", k["alg"])
	assert.NotContains(t, k, "d")

	pub, err := f.auth.JWKS().Keys[0].PublicKey()
	require.NoError(t, err)
	assert.True(t, f.auth.PublicKey().Equal(pub))
}

func TestLoadSigningKey(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	path := t.TempDir() + "/signing.jwk"
	require.NoError(t, os.WriteFile(path, []byte(jwk.FromPrivateKey(key).String()), 0o600))

	loaded, err := LoadSigningKey(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = LoadSigningKey(t.TempDir() + "/missing")
	assert.Error(t, err)
}
