// ABOUTME: Nonce ledger persisted in BadgerDB with native per-key TTL
// ABOUTME: Optimistic transactions make concurrent identical inserts collide

package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "nonce/"

// BadgerLedger is a Ledger backed by an embedded BadgerDB. Each nonce is a key
// written with a TTL, so expired nonces disappear without a purge loop.
type BadgerLedger struct {
	db     *badger.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// OpenBadgerLedger opens (or creates) a ledger in dir. An empty dir opens an
// in-memory database.
func OpenBadgerLedger(dir string, ttl time.Duration) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger ledger: %w", err)
	}

	return &BadgerLedger{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "replay.badger"),
	}, nil
}

// Consume records the nonce in a read-write transaction. If another
// transaction writes the same key between our read and commit, badger rejects
// the commit with ErrConflict and this call reports a replay.
func (l *BadgerLedger) Consume(ctx context.Context, nonce, keyHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := []byte(badgerKeyPrefix + ledgerKey(keyHash, nonce))
	fresh := false

	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		value := []byte(strconv.FormatInt(l.now().Unix(), 10))
		if err := txn.SetEntry(badger.NewEntry(key, value).WithTTL(l.ttl)); err != nil {
			return err
		}
		fresh = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		l.logger.Debug("concurrent nonce insert lost", "key_hash", keyHash)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recording nonce: %w", err)
	}
	return fresh, nil
}

// Close flushes and closes the database.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}
