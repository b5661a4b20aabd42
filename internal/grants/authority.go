// ABOUTME: Grant authority: issues EdDSA-signed, audience-locked grant tokens
// ABOUTME: Holds the service signing key and publishes its public half as a JWKS

package grants

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/agentdrop/internal/jwk"
	"github.com/2389/agentdrop/internal/store"
)

// PermissionDownload is currently the only grantable permission.
const PermissionDownload = "download"

// Permissions is the closed vocabulary of grantable permissions.
var Permissions = []string{PermissionDownload}

// Defaults
const (
	DefaultIssuer       = "agentdrop"
	DefaultKeyID        = "agentdrop-signing-key-1"
	DefaultTTL          = 300 * time.Second
	MaxTTL              = 24 * time.Hour
	DefaultStoreTimeout = 5 * time.Second
)

// Issue errors
var (
	ErrInvalidTTL         = errors.New("ttl must be positive and at most the maximum grant lifetime")
	ErrInvalidPermissions = errors.New("permissions must be a non-empty subset of the grantable set")
	ErrMissingSigningKey  = errors.New("grant signing key not configured")
)

// Config controls token issuance.
type Config struct {
	Issuer     string
	KeyID      string
	MaxTTL     time.Duration
	DefaultTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.KeyID == "" {
		c.KeyID = DefaultKeyID
	}
	if c.MaxTTL <= 0 || c.MaxTTL > MaxTTL {
		c.MaxTTL = MaxTTL
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.DefaultTTL > c.MaxTTL {
		c.DefaultTTL = c.MaxTTL
	}
}

// Claims is the grant token payload.
type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Authority issues and verifies grants.
type Authority struct {
	key          ed25519.PrivateKey
	pub          ed25519.PublicKey
	cfg          Config
	grants       store.GrantStore
	files        store.FileStore
	now          func() time.Time
	storeTimeout time.Duration
	logger       *slog.Logger
}

// NewAuthority creates an authority signing with key.
func NewAuthority(key ed25519.PrivateKey, cfg Config, grants store.GrantStore, files store.FileStore, logger *slog.Logger) (*Authority, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrMissingSigningKey
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{
		key:          key,
		pub:          key.Public().(ed25519.PublicKey),
		cfg:          cfg,
		grants:       grants,
		files:        files,
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
		logger:       logger.With("component", "grants"),
	}, nil
}

// SetStoreTimeout bounds each grant and file lookup during verification.
func (a *Authority) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		a.storeTimeout = d
	}
}

// Config returns the effective configuration.
func (a *Authority) Config() Config {
	return a.cfg
}

// PublicKey returns the service verification key.
func (a *Authority) PublicKey() ed25519.PublicKey {
	return a.pub
}

// JWKS returns the key set third parties use to verify grant tokens.
func (a *Authority) JWKS() jwk.Set {
	return jwk.NewSet(a.pub, a.cfg.KeyID)
}

// validPermissions reports whether perms is a non-empty subset of Permissions.
func validPermissions(perms []string) bool {
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		if !slices.Contains(Permissions, p) {
			return false
		}
	}
	return true
}

// Issue signs a grant token for grantee on fileID, valid for ttl from now.
func (a *Authority) Issue(grantID, fileID, granteeKeyHash string, permissions []string, ttl time.Duration) (string, error) {
	return a.issueAt(a.now(), grantID, fileID, granteeKeyHash, permissions, ttl)
}

func (a *Authority) issueAt(now time.Time, grantID, fileID, granteeKeyHash string, permissions []string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > a.cfg.MaxTTL {
		return "", ErrInvalidTTL
	}
	if !validPermissions(permissions) {
		return "", ErrInvalidPermissions
	}

	claims := Claims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   fileID,
			Audience:  jwt.ClaimStrings{granteeKeyHash},
			ID:        grantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = a.cfg.KeyID
	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing grant token: %w", err)
	}
	return signed, nil
}

// GenerateSigningKey creates a new service signing key.
func GenerateSigningKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return priv, nil
}

// LoadSigningKey reads a private JWK from path.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	key, err := jwk.ParsePrivate(data)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key %s: %w", path, err)
	}
	return key, nil
}
