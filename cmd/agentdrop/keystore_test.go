// ABOUTME: Tests for the agent CLI key file and config handling
// ABOUTME: Keys must round-trip through the OpenSSH PEM format

package main

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdrop/internal/jwk"
)

func TestGenerateAndLoadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "agent_ed25519")

	priv, err := generateKey(path, "test", false)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadKey(path)
	require.NoError(t, err)
	assert.True(t, priv.Equal(loaded))

	_, err = generateKey(path, "test", false)
	assert.Error(t, err, "existing key must not be overwritten")

	replaced, err := generateKey(path, "test", true)
	require.NoError(t, err)
	assert.False(t, priv.Equal(replaced))
}

func TestLoadKey_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadKey(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))
	_, err = loadKey(garbage)
	assert.Error(t, err)
}

func TestAuthorizedKey_RegistersAsSameHash(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	line, err := authorizedKey(pub)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "ssh-ed25519 "))

	parsed, err := jwk.ParsePublicMaterial(line)
	require.NoError(t, err)
	assert.Equal(t, jwk.Thumbprint(pub), jwk.Thumbprint(parsed))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("AGENTDROP_TEST_URL", "https://drop.example.com")

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := loadConfig(filepath.Join(dir, "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, defaultAPIURL, cfg.APIURL)
		assert.Equal(t, filepath.Join(dir, "agentdrop", "agent_ed25519"), cfg.KeyPath)
	})

	t.Run("env expansion", func(t *testing.T) {
		path := filepath.Join(dir, "agent.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
api_url = "${AGENTDROP_TEST_URL}"
key_path = "/tmp/agent.key"
`), 0o600))

		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "https://drop.example.com", cfg.APIURL)
		assert.Equal(t, "/tmp/agent.key", cfg.KeyPath)
	})

	t.Run("bad scheme", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte(`api_url = "ftp://example.com"`), 0o600))

		_, err := loadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid toml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.toml")
		require.NoError(t, os.WriteFile(path, []byte(`api_url = `), 0o600))

		_, err := loadConfig(path)
		assert.Error(t, err)
	})
}
