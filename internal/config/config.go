// ABOUTME: Configuration loading and parsing for agentdrop-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Replay ledger backends
const (
	ReplaySQLite = "sqlite"
	ReplayMemory = "memory"
	ReplayBadger = "badger"
)

// Defaults applied when a field is omitted.
const (
	DefaultHTTPAddr           = "127.0.0.1:8080"
	DefaultTimestampTolerance = 5 * time.Minute
	DefaultStoreTimeout       = 5 * time.Second
	DefaultPurgeInterval      = time.Minute
	DefaultMemoryLedgerSize   = 1_000_000
	MaxGrantTTL               = 24 * time.Hour
	minSessionSecretLength    = 32
)

// Config represents the complete agentdrop-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Grants   GrantsConfig   `yaml:"grants"`
	Replay   ReplayConfig   `yaml:"replay"`
	Files    FilesConfig    `yaml:"files"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds request authentication settings
type AuthConfig struct {
	SessionSecret string `yaml:"session_secret"`

	TimestampTolerance time.Duration `yaml:"-"`
	StoreTimeout       time.Duration `yaml:"-"`

	TimestampToleranceRaw string `yaml:"timestamp_tolerance"`
	StoreTimeoutRaw       string `yaml:"store_timeout"`
}

// GrantsConfig holds the grant signing key and token limits.
// SigningKey (inline JWK JSON) wins over SigningKeyPath.
type GrantsConfig struct {
	SigningKeyPath string `yaml:"signing_key_path"`
	SigningKey     string `yaml:"signing_key"`
	Issuer         string `yaml:"issuer"`
	KeyID          string `yaml:"key_id"`

	MaxTTL     time.Duration `yaml:"-"`
	DefaultTTL time.Duration `yaml:"-"`

	MaxTTLRaw     string `yaml:"max_ttl"`
	DefaultTTLRaw string `yaml:"default_ttl"`
}

// ReplayConfig selects where consumed nonces are recorded
type ReplayConfig struct {
	Backend   string `yaml:"backend"`
	BadgerDir string `yaml:"badger_dir"`
	MaxSize   int    `yaml:"max_size"`

	PurgeInterval    time.Duration `yaml:"-"`
	PurgeIntervalRaw string        `yaml:"purge_interval"`
}

// FilesConfig holds file download settings
type FilesConfig struct {
	// DownloadBaseURL prefixes the blob path in download responses
	DownloadBaseURL string `yaml:"download_base_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the config location: $AGENTDROP_CONFIG, else
// $XDG_CONFIG_HOME/agentdrop/gateway.yaml, else ~/.config/agentdrop/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("AGENTDROP_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "agentdrop", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applying the same steps as Load.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Auth.TimestampTolerance == 0 {
		c.Auth.TimestampTolerance = DefaultTimestampTolerance
	}
	if c.Auth.StoreTimeout == 0 {
		c.Auth.StoreTimeout = DefaultStoreTimeout
	}
	if c.Replay.Backend == "" {
		c.Replay.Backend = ReplaySQLite
	}
	if c.Replay.PurgeInterval == 0 {
		c.Replay.PurgeInterval = DefaultPurgeInterval
	}
	if c.Replay.MaxSize == 0 {
		c.Replay.MaxSize = DefaultMemoryLedgerSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("auth.session_secret must be at least %d bytes", minSessionSecretLength)
	}
	// Freshness is checked in whole seconds.
	if c.Auth.TimestampTolerance < time.Second || c.Auth.TimestampTolerance%time.Second != 0 {
		return fmt.Errorf("auth.timestamp_tolerance %s must be a whole number of seconds, at least 1s", c.Auth.TimestampTolerance)
	}
	if c.Auth.StoreTimeout < 0 {
		return fmt.Errorf("auth.store_timeout must be positive")
	}

	if c.Grants.SigningKey == "" && c.Grants.SigningKeyPath == "" {
		return fmt.Errorf("grants.signing_key or grants.signing_key_path is required")
	}
	if c.Grants.MaxTTL < 0 || c.Grants.DefaultTTL < 0 {
		return fmt.Errorf("grants ttl values must be positive")
	}
	if c.Grants.MaxTTL > MaxGrantTTL {
		return fmt.Errorf("grants.max_ttl %s exceeds the %s limit", c.Grants.MaxTTL, MaxGrantTTL)
	}
	if c.Grants.DefaultTTL > MaxGrantTTL {
		return fmt.Errorf("grants.default_ttl %s exceeds the %s limit", c.Grants.DefaultTTL, MaxGrantTTL)
	}
	if c.Grants.MaxTTL > 0 && c.Grants.DefaultTTL > c.Grants.MaxTTL {
		return fmt.Errorf("grants.default_ttl %s exceeds grants.max_ttl %s", c.Grants.DefaultTTL, c.Grants.MaxTTL)
	}

	switch c.Replay.Backend {
	case ReplaySQLite, ReplayMemory:
	case ReplayBadger:
		// An empty badger_dir runs badger in memory.
	default:
		return fmt.Errorf("replay.backend %q must be one of sqlite, memory, badger", c.Replay.Backend)
	}
	if c.Replay.MaxSize < 0 {
		return fmt.Errorf("replay.max_size must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.timestamp_tolerance", cfg.Auth.TimestampToleranceRaw, &cfg.Auth.TimestampTolerance},
		{"auth.store_timeout", cfg.Auth.StoreTimeoutRaw, &cfg.Auth.StoreTimeout},
		{"grants.max_ttl", cfg.Grants.MaxTTLRaw, &cfg.Grants.MaxTTL},
		{"grants.default_ttl", cfg.Grants.DefaultTTLRaw, &cfg.Grants.DefaultTTL},
		{"replay.purge_interval", cfg.Replay.PurgeIntervalRaw, &cfg.Replay.PurgeInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Example is written by `agentdrop-gateway init`.
const Example = `# agentdrop-gateway configuration

server:
  http_addr: "127.0.0.1:8080"

database:
  path: "./agentdrop.db"

auth:
  session_secret: "${AGENTDROP_SESSION_SECRET}"
  timestamp_tolerance: "5m"
  store_timeout: "5s"

grants:
  signing_key_path: "./grant-signing.jwk"
  issuer: "agentdrop"
  key_id: "agentdrop-signing-key-1"
  max_ttl: "24h"
  default_ttl: "5m"

replay:
  backend: "sqlite"    # sqlite, memory, badger
  badger_dir: ""       # empty runs badger in memory
  purge_interval: "1m"

files:
  download_base_url: "https://files.example.com"

logging:
  level: "info"    # debug, info, warn, error
  format: "text"   # text, json
`
