// ABOUTME: Gateway orchestrator that wires the store, key registry, grant authority and HTTP server
// ABOUTME: Manages the replay ledger, nonce purger and graceful shutdown lifecycle

package gateway

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/agentdrop/internal/auth"
	"github.com/2389/agentdrop/internal/config"
	"github.com/2389/agentdrop/internal/grants"
	"github.com/2389/agentdrop/internal/jwk"
	"github.com/2389/agentdrop/internal/keys"
	"github.com/2389/agentdrop/internal/replay"
	"github.com/2389/agentdrop/internal/store"
)

// Gateway serves the agentdrop HTTP API.
type Gateway struct {
	config     *config.Config
	store      store.Store
	keys       *keys.Registry
	grants     *grants.Authority
	ledger     replay.Ledger
	auth       *auth.Middleware
	httpServer *http.Server
	logger     *slog.Logger

	now func() time.Time
}

// initStore opens the SQLite store named by config or AGENTDROP_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGENTDROP_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// loadSigningKey returns the grant signing key, inline JWK first.
func loadSigningKey(cfg config.GrantsConfig) (ed25519.PrivateKey, error) {
	if cfg.SigningKey != "" {
		key, err := jwk.ParsePrivate([]byte(cfg.SigningKey))
		if err != nil {
			return nil, fmt.Errorf("parsing grants.signing_key: %w", err)
		}
		return key, nil
	}
	return grants.LoadSigningKey(cfg.SigningKeyPath)
}

// newLedger builds the replay ledger selected by replay.backend.
func newLedger(cfg *config.Config, nonces store.NonceStore) (replay.Ledger, error) {
	ttl := replay.TTL(cfg.Auth.TimestampTolerance)

	switch cfg.Replay.Backend {
	case config.ReplayMemory:
		return replay.NewMemoryLedger(ttl, cfg.Replay.MaxSize, cfg.Replay.PurgeInterval), nil
	case config.ReplayBadger:
		l, err := replay.OpenBadgerLedger(cfg.Replay.BadgerDir, ttl)
		if err != nil {
			return nil, fmt.Errorf("opening badger ledger: %w", err)
		}
		return l, nil
	default:
		return replay.NewStoreLedger(nonces, ttl), nil
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	key, err := loadSigningKey(cfg.Grants)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw, err := newGateway(cfg, s, key, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires every component over an already-open store.
func newGateway(cfg *config.Config, s store.Store, signingKey ed25519.PrivateKey, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := auth.NewSessionVerifier([]byte(cfg.Auth.SessionSecret))
	if err != nil {
		return nil, fmt.Errorf("creating session verifier: %w", err)
	}

	authority, err := grants.NewAuthority(signingKey, grants.Config{
		Issuer:     cfg.Grants.Issuer,
		KeyID:      cfg.Grants.KeyID,
		MaxTTL:     cfg.Grants.MaxTTL,
		DefaultTTL: cfg.Grants.DefaultTTL,
	}, s, s, logger)
	if err != nil {
		return nil, fmt.Errorf("creating grant authority: %w", err)
	}
	authority.SetStoreTimeout(cfg.Auth.StoreTimeout)

	ledger, err := newLedger(cfg, s)
	if err != nil {
		return nil, err
	}

	registry := keys.NewRegistry(s, logger)
	verifier := auth.NewAgentVerifier(registry, ledger,
		auth.WithTolerance(cfg.Auth.TimestampTolerance),
		auth.WithStoreTimeout(cfg.Auth.StoreTimeout),
	)
	authenticator := auth.NewAuthenticator(
		&auth.AgentStrategy{Verifier: verifier},
		&auth.HumanStrategy{Verifier: sessions},
	)

	gw := &Gateway{
		config: cfg,
		store:  s,
		keys:   registry,
		grants: authority,
		ledger: ledger,
		auth:   auth.NewMiddleware(authenticator, logger),
		logger: logger.With("component", "gateway"),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on server.http_addr and serves until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server and the nonce purger on ln until ctx is canceled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	if g.config.Replay.Backend == config.ReplaySQLite {
		go replay.RunPurger(purgeCtx, g.store, g.config.Replay.PurgeInterval, g.logger)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases the ledger and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if c, ok := g.ledger.(io.Closer); ok {
		errs = appendCloseError(errs, "ledger close", c.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
