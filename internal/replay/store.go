// ABOUTME: Nonce ledger on top of the persistent store's unique insert
// ABOUTME: Also runs the background purge of expired nonce rows

package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/agentdrop/internal/store"
)

// StoreLedger is a Ledger backed by a store.NonceStore. Atomicity comes from
// the store's first-write-wins InsertNonce.
type StoreLedger struct {
	nonces store.NonceStore
	ttl    time.Duration
	now    func() time.Time
}

// StoreOption configures a StoreLedger.
type StoreOption func(*StoreLedger)

// WithStoreClock overrides the time source used to stamp nonce rows.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(l *StoreLedger) { l.now = now }
}

// NewStoreLedger creates a ledger that remembers nonces for ttl.
func NewStoreLedger(nonces store.NonceStore, ttl time.Duration, opts ...StoreOption) *StoreLedger {
	l := &StoreLedger{
		nonces: nonces,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume inserts the nonce row and reports whether this call created it.
func (l *StoreLedger) Consume(ctx context.Context, nonce, keyHash string) (bool, error) {
	now := l.now()
	return l.nonces.InsertNonce(ctx, &store.Nonce{
		Nonce:     nonce,
		KeyHash:   keyHash,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	})
}

// RunPurger deletes expired nonce rows every interval until ctx is done.
// Only rows whose expiry is already in the past are removed, so a purge can
// never free a nonce that is still inside its replay window.
func RunPurger(ctx context.Context, nonces store.NonceStore, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "replay.purger")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := nonces.PurgeExpiredNonces(ctx, time.Now())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("nonce purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired nonces", "count", n)
			}
		}
	}
}
