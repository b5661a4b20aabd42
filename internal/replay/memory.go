// ABOUTME: Thread-safe in-memory nonce ledger with per-entry expiry
// ABOUTME: Used for single-process deployments and tests

package replay

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry stores the expiry and list element for a recorded nonce.
type memoryEntry struct {
	expiresAt time.Time
	element   *list.Element
}

// MemoryLedger is a Ledger held in process memory. Entries are kept in
// insertion order so expired ones can be swept from the front.
//
// The ledger never evicts a live entry to make room: when full it refuses new
// nonces with ErrLedgerFull, since dropping a live nonce would allow it to be
// replayed.
type MemoryLedger struct {
	mu      sync.Mutex
	seen    map[string]*memoryEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithClock overrides the ledger's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) { l.now = now }
}

// NewMemoryLedger creates a ledger remembering nonces for ttl, holding at most
// maxSize live entries. A background goroutine sweeps expired entries every
// sweepInterval; zero disables the sweeper (expired entries are still
// reclaimed lazily on insert).
func NewMemoryLedger(ttl time.Duration, maxSize int, sweepInterval time.Duration, opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		seen:    make(map[string]*memoryEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if sweepInterval > 0 {
		go l.cleanup(sweepInterval)
	}
	return l
}

func ledgerKey(keyHash, nonce string) string {
	return keyHash + "\x00" + nonce
}

// Consume atomically checks and records the nonce under a single lock.
func (l *MemoryLedger) Consume(ctx context.Context, nonce, keyHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := ledgerKey(keyHash, nonce)

	if entry, ok := l.seen[key]; ok {
		if !expired(now, entry.expiresAt) {
			return false, nil
		}
		l.order.Remove(entry.element)
		delete(l.seen, key)
	}

	if len(l.seen) >= l.maxSize {
		l.sweepLocked(now)
		if len(l.seen) >= l.maxSize {
			return false, ErrLedgerFull
		}
	}

	elem := l.order.PushBack(key)
	l.seen[key] = &memoryEntry{
		expiresAt: now.Add(l.ttl),
		element:   elem,
	}
	return true, nil
}

// Len returns the number of recorded entries, expired or not.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// sweepLocked drops expired entries from the front of the insertion list.
// All entries share one ttl, so insertion order is expiry order and the sweep
// stops at the first live entry. Must be called with mu held.
func (l *MemoryLedger) sweepLocked(now time.Time) int {
	removed := 0
	for front := l.order.Front(); front != nil; front = l.order.Front() {
		key, _ := front.Value.(string)
		entry := l.seen[key]
		if entry != nil && !expired(now, entry.expiresAt) {
			break
		}
		l.order.Remove(front)
		delete(l.seen, key)
		removed++
	}
	return removed
}

// Sweep removes expired entries and returns how many were dropped.
func (l *MemoryLedger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *MemoryLedger) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.done:
			return
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
	return nil
}
