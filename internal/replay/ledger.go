// ABOUTME: Replay guard contract shared by every nonce ledger backend
// ABOUTME: Consume is first-write-wins and entries outlive the freshness window twice over

package replay

import (
	"context"
	"errors"
	"time"
)

// ErrLedgerFull is returned when an in-memory ledger reaches capacity.
// Callers must treat it as transient and reject the request.
var ErrLedgerFull = errors.New("nonce ledger full")

// Ledger records single-use nonces.
//
// Consume inserts the (keyHash, nonce) pair if and only if it has not been
// recorded and returns true on insert. A replay, or the losing side of a
// concurrent race on the same pair, returns false with a nil error. A non-nil
// error means the ledger could not decide and the request must not proceed.
type Ledger interface {
	Consume(ctx context.Context, nonce, keyHash string) (bool, error)
}

// TTL returns how long a nonce must be remembered for a given timestamp
// tolerance. Freshness is checked in whole seconds, so a request stamped ts is
// accepted from ts-tolerance until the end of second ts+tolerance: up to
// 2×tolerance plus one second after its nonce was first consumed. One more
// second covers backends that truncate expiry to whole seconds.
func TTL(tolerance time.Duration) time.Duration {
	return 2*tolerance + 2*time.Second
}

// expired reports whether an entry expiring at expiresAt is gone at now.
// Expiry is compared in whole seconds, matching the SQLite purge.
func expired(now, expiresAt time.Time) bool {
	return now.Unix() > expiresAt.Unix()
}
