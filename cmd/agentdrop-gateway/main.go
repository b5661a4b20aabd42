// ABOUTME: Entry point for agentdrop-gateway, the AgentDrop HTTP server
// ABOUTME: Subcommands serve the API, scaffold config, mint signing keys and sessions

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/config"
	"github.com/2389/agentdrop/internal/gateway"
	"github.com/2389/agentdrop/internal/grants"
	"github.com/2389/agentdrop/internal/jwk"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _      _
  __ _  __ _  ___ _ __ | |_ __| |_ __ ___  _ __
 / _' |/ _' |/ _ \ '_ \| __/ _' | '__/ _ \| '_ \
| (_| | (_| |  __/ | | | || (_| | | | (_) | |_) |
 \__,_|\__, |\___|_| |_|\__\__,_|_|  \___/| .__/
       |___/                              |_|
`

const usage = `Usage: agentdrop-gateway <command> [flags]

Commands:
  serve                      Start the gateway server
  init [--force]             Write an example config file
  keygen [--out FILE]        Generate a grant signing key (private JWK)
  session --user ID          Mint a human session token
  health                     Check gateway health
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "keygen":
		err = runKeygen(args)
	case "session":
		err = runSession(args)
	case "health":
		err = runHealth(ctx)
	case "version", "--version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Replay:    %s\n", cfg.Replay.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Tolerance: %s\n\n", cfg.Auth.TimestampTolerance)

	logger.Info("starting agentdrop-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"replay_backend", cfg.Replay.Backend,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runInit(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	path := fs.String("path", config.DefaultPath(), "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *path)
	}
	if err := os.MkdirAll(filepath.Dir(*path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(*path, []byte(config.Example), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.Green("  ✓ Wrote %s", *path)
	fmt.Println()
	color.Yellow("  Next:")
	fmt.Println("    export AGENTDROP_SESSION_SECRET=$(openssl rand -base64 32)")
	fmt.Println("    agentdrop-gateway keygen --out ./grant-signing.jwk")
	fmt.Println("    agentdrop-gateway serve")
	return nil
}

func runKeygen(args []string) error {
	fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	out := fs.StringP("out", "o", "", "write the private JWK here instead of stdout")
	kid := fs.String("kid", grants.DefaultKeyID, "key id recorded in the JWK")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	priv, err := grants.GenerateSigningKey()
	if err != nil {
		return err
	}
	key := jwk.FromPrivateKey(priv)
	key.Kid = *kid
	key.Use = jwk.UseSignature
	key.Alg = jwk.AlgEdDSA

	if *out == "" {
		fmt.Println(key.String())
		return nil
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *out)
	}
	if err := os.WriteFile(*out, []byte(key.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}

	pub := key
	pub.D = ""
	color.Green("  ✓ Wrote %s", *out)
	fmt.Printf("  Public JWK: %s\n", pub.String())
	return nil
}

func runSession(args []string) error {
	fs := pflag.NewFlagSet("session", pflag.ContinueOnError)
	user := fs.StringP("user", "u", "", "user id placed in the token subject")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("--user is required")
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	sessions, err := auth.NewSessionVerifier([]byte(cfg.Auth.SessionSecret))
	if err != nil {
		return fmt.Errorf("creating session verifier: %w", err)
	}
	token, err := sessions.Generate(*user, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+cfg.Server.HTTPAddr+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}
