// ABOUTME: Tests for the colored slog handler used by the gateway binary
// ABOUTME: Output is checked with color disabled so assertions match plain text

package main

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(&colorHandler{out: &buf, mu: &sync.Mutex{}, level: slog.LevelInfo})

	logger.Debug("hidden")
	logger.With("component", "auth").WithGroup("req").Warn("agent rejected", "code", "BAD_SIGNATURE")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN agent rejected")
	assert.Contains(t, out, "component=auth")
	assert.Contains(t, out, "req.code=BAD_SIGNATURE")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything"))
}
