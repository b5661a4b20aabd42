// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type nonceKey struct {
	keyHash string
	nonce   string
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	keys      map[string]*AgentKey // keyed by ID
	keyByHash map[string]string    // key hash -> ID
	nonces    map[nonceKey]*Nonce
	grants    map[string]*Grant
	files     map[string]*File
	audit     []AuditEntry

	// Err, when set, is returned by every method. Used to simulate an
	// unavailable backend.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		keys:      make(map[string]*AgentKey),
		keyByHash: make(map[string]string),
		nonces:    make(map[nonceKey]*Nonce),
		grants:    make(map[string]*Grant),
		files:     make(map[string]*File),
	}
}

// SetErr makes every subsequent call fail with err (nil restores normal behavior).
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyKey(k *AgentKey) *AgentKey {
	c := *k
	c.RevokedAt = copyTime(k.RevokedAt)
	return &c
}

func copyGrant(g *Grant) *Grant {
	c := *g
	c.Permissions = append([]string(nil), g.Permissions...)
	c.RevokedAt = copyTime(g.RevokedAt)
	return &c
}

func copyFile(f *File) *File {
	c := *f
	c.DeletedAt = copyTime(f.DeletedAt)
	return &c
}

// CreateAgentKey stores a new key.
func (m *MockStore) CreateAgentKey(ctx context.Context, key *AgentKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.keys[key.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.keyByHash[key.KeyHash]; ok {
		return ErrDuplicate
	}
	m.keys[key.ID] = copyKey(key)
	m.keyByHash[key.KeyHash] = key.ID
	return nil
}

// GetAgentKey retrieves a key by ID.
func (m *MockStore) GetAgentKey(ctx context.Context, id string) (*AgentKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	k, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyKey(k), nil
}

// GetAgentKeyByHash retrieves a key by thumbprint.
func (m *MockStore) GetAgentKeyByHash(ctx context.Context, keyHash string) (*AgentKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	id, ok := m.keyByHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	return copyKey(m.keys[id]), nil
}

// ListAgentKeys returns a user's keys, oldest first.
func (m *MockStore) ListAgentKeys(ctx context.Context, userID string) ([]*AgentKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	keys := []*AgentKey{}
	for _, k := range m.keys {
		if k.UserID == userID {
			keys = append(keys, copyKey(k))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

// RevokeAgentKey marks a key revoked.
func (m *MockStore) RevokeAgentKey(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	if k.RevokedAt != nil {
		return ErrAlreadyRevoked
	}
	k.RevokedAt = &at
	return nil
}

// InsertNonce records a nonce under the write lock, first write wins.
func (m *MockStore) InsertNonce(ctx context.Context, n *Nonce) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}

	k := nonceKey{keyHash: n.KeyHash, nonce: n.Nonce}
	if _, ok := m.nonces[k]; ok {
		return false, nil
	}
	c := *n
	m.nonces[k] = &c
	return true, nil
}

// PurgeExpiredNonces removes nonces that expired before the given time,
// compared in whole seconds like the SQLite store.
func (m *MockStore) PurgeExpiredNonces(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}

	var n int64
	for k, v := range m.nonces {
		if v.ExpiresAt.Unix() < before.Unix() {
			delete(m.nonces, k)
			n++
		}
	}
	return n, nil
}

// NonceCount returns the number of stored nonces.
func (m *MockStore) NonceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nonces)
}

// CreateGrant stores a new grant.
func (m *MockStore) CreateGrant(ctx context.Context, g *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.grants[g.ID]; ok {
		return ErrDuplicate
	}
	m.grants[g.ID] = copyGrant(g)
	return nil
}

// GetGrant retrieves a grant by ID.
func (m *MockStore) GetGrant(ctx context.Context, id string) (*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	g, ok := m.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

// RevokeGrant marks a grant revoked.
func (m *MockStore) RevokeGrant(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	g, ok := m.grants[id]
	if !ok {
		return ErrNotFound
	}
	if g.RevokedAt != nil {
		return ErrAlreadyRevoked
	}
	g.RevokedAt = &at
	return nil
}

// ListGrantsByGrantee returns grants for a key hash, oldest first.
func (m *MockStore) ListGrantsByGrantee(ctx context.Context, keyHash string) ([]*Grant, error) {
	return m.listGrants(func(g *Grant) bool { return g.GranteeKeyHash == keyHash })
}

// ListGrantsByFile returns grants for a file, oldest first.
func (m *MockStore) ListGrantsByFile(ctx context.Context, fileID string) ([]*Grant, error) {
	return m.listGrants(func(g *Grant) bool { return g.FileID == fileID })
}

func (m *MockStore) listGrants(match func(*Grant) bool) ([]*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	grants := []*Grant{}
	for _, g := range m.grants {
		if match(g) {
			grants = append(grants, copyGrant(g))
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].CreatedAt.Before(grants[j].CreatedAt) })
	return grants, nil
}

// CreateFile stores a new file record.
func (m *MockStore) CreateFile(ctx context.Context, f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.files[f.ID]; ok {
		return ErrDuplicate
	}
	if f.State == "" {
		f.State = FilePending
	}
	m.files[f.ID] = copyFile(f)
	return nil
}

// GetFile retrieves a file record by ID.
func (m *MockStore) GetFile(ctx context.Context, id string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFile(f), nil
}

// ConfirmFile marks a live file confirmed.
func (m *MockStore) ConfirmFile(ctx context.Context, id, sha256 string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	f, ok := m.files[id]
	if !ok || f.DeletedAt != nil {
		return ErrNotFound
	}
	f.State = FileConfirmed
	f.SHA256 = sha256
	return nil
}

// DeleteFile soft-deletes a live file.
func (m *MockStore) DeleteFile(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	f, ok := m.files[id]
	if !ok || f.DeletedAt != nil {
		return ErrNotFound
	}
	f.DeletedAt = &at
	return nil
}

// ListFilesByOwner returns an owner's live files, newest first.
func (m *MockStore) ListFilesByOwner(ctx context.Context, ownerID string) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	files := []*File{}
	for _, f := range m.files {
		if f.OwnerID == ownerID && f.DeletedAt == nil {
			files = append(files, copyFile(f))
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })
	return files, nil
}

// AppendAuditLog appends an entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		if matchesAuditFilter(&m.audit[i], f) {
			entries = append(entries, m.audit[i])
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })

	if limit := normalizeAuditLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface check
var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
