// ABOUTME: Agent CLI configuration loaded from TOML with ${VAR} expansion
// ABOUTME: Locates the gateway URL and the agent's private key file

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

const defaultAPIURL = "http://127.0.0.1:8080"

// Config is the agent's agent.toml.
type Config struct {
	APIURL  string `toml:"api_url"`
	KeyPath string `toml:"key_path"`
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "agentdrop")
}

// defaultConfigPath returns $AGENTDROP_AGENT_CONFIG or <config dir>/agent.toml.
func defaultConfigPath() string {
	if p := os.Getenv("AGENTDROP_AGENT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(configDir(), "agent.toml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

// loadConfig reads path. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if _, err := toml.Decode(expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(configDir(), "agent_ed25519")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the gateway URL.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("api_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url must use http or https scheme")
	}
	return nil
}
