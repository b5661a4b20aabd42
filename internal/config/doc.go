// Package config handles configuration loading for agentdrop-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENTDROP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/agentdrop/gateway.yaml
//  3. ~/.config/agentdrop/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  session_secret: "${AGENTDROP_SESSION_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  timestamp_tolerance: "5m"
//	replay:
//	  purge_interval: "1m"
//
// # Validation
//
// Load() validates:
//
//   - session secret minimum length (32 bytes)
//   - a grant signing key is configured
//   - duration format validity and default_ttl <= max_ttl
//   - replay backend and logging values
//
// See Example for a complete file.
package config
