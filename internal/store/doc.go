// Package store provides persistent storage for agentdrop using SQLite.
//
// # Architecture
//
// The store package splits persistence into small interfaces, one per
// concern:
//
//   - KeyStore: registered agent public keys
//   - NonceStore: consumed request nonces (replay ledger)
//   - GrantStore: file access grants
//   - FileStore: file metadata records
//   - AuditStore: append-only audit log
//
// Store composes all of them. SQLiteStore implements Store in a single
// struct; MockStore is an in-memory implementation for unit tests.
//
// # Atomicity
//
// InsertNonce is first-write-wins. Both implementations decide uniqueness of
// a (key hash, nonce) pair in a single step, so concurrent inserts of the
// same pair produce exactly one true result.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Time columns are stored as fixed-width UTC RFC 3339 strings so they sort
// lexically. Nonce times are Unix seconds.
//
// # Errors
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: unique constraint rejected an insert
//   - ErrAlreadyRevoked: revocation of an already revoked row
//
// All methods accept context.Context for cancellation support.
package store
