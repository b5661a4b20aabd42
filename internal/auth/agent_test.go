// ABOUTME: Tests for signed agent request verification
// ABOUTME: Covers the replay scenario, freshness window, revocation, tampering and concurrency

package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdrop/internal/jwk"
	"github.com/2389/agentdrop/internal/keys"
	"github.com/2389/agentdrop/internal/replay"
	"github.com/2389/agentdrop/internal/signing"
	"github.com/2389/agentdrop/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type agentFixture struct {
	store    *store.MockStore
	registry *keys.Registry
	verifier *AgentVerifier
	priv     ed25519.PrivateKey
	key      *store.AgentKey
	now      time.Time
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()

	f := &agentFixture{store: store.NewMockStore(), now: t0}
	f.registry = keys.NewRegistry(f.store, nil)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	f.priv = priv

	f.key, err = f.registry.Register(context.Background(), "user-1", "agent", jwk.FromPublicKey(pub).String())
	require.NoError(t, err)

	f.verifier = NewAgentVerifier(
		f.registry,
		replay.NewStoreLedger(f.store, replay.TTL(DefaultTolerance)),
		WithNow(func() time.Time { return f.now }),
	)
	return f
}

// signAt signs a request with an explicit timestamp and nonce.
func signAt(t *testing.T, priv ed25519.PrivateKey, method, path string, ts time.Time, nonce string, body []byte) signing.Headers {
	t.Helper()
	return signRaw(t, priv, method, path, strconv.FormatInt(ts.Unix(), 10), nonce, body)
}

// signRaw signs with the timestamp header exactly as given.
func signRaw(t *testing.T, priv ed25519.PrivateKey, method, path, timestamp, nonce string, body []byte) signing.Headers {
	t.Helper()
	sig, err := signing.SignCanonical(priv, signing.CanonicalString(method, path, timestamp, nonce, signing.HashBody(body)))
	require.NoError(t, err)
	return signing.Headers{
		KeyHash:   jwk.Thumbprint(priv.Public().(ed25519.PublicKey)),
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: sig,
	}
}

func (f *agentFixture) verify(h signing.Headers, method, path string, body []byte) (*Agent, error) {
	return f.verifier.Verify(context.Background(), SignedRequest{Headers: h, Method: method, Path: path, Body: body})
}

func TestAgentVerifier_Accepts(t *testing.T) {
	f := newAgentFixture(t)
	body := []byte(`{"filename":"a.txt"}`)

	agent, err := f.verify(signAt(t, f.priv, "POST", "/api/upload", f.now, "n1", body), "POST", "/api/upload", body)
	require.NoError(t, err)
	assert.Equal(t, f.key.KeyHash, agent.KeyHash)
	assert.Equal(t, f.key.ID, agent.KeyID)
	assert.Equal(t, "user-1", agent.UserID)
	assert.True(t, f.priv.Public().(ed25519.PublicKey).Equal(agent.PublicKey))
}

func TestAgentVerifier_SignerRoundTrip(t *testing.T) {
	f := newAgentFixture(t)
	f.now = time.Now()

	h, err := signing.NewSigner(f.priv).Sign("GET", "/api/files", nil)
	require.NoError(t, err)

	agent, err := f.verify(h, "GET", "/api/files", nil)
	require.NoError(t, err)
	assert.Equal(t, f.key.KeyHash, agent.KeyHash)
}

func TestAgentVerifier_ReplayScenario(t *testing.T) {
	f := newAgentFixture(t)

	// Agent signs GET /api/files at T with nonce n1: accepted.
	h1 := signAt(t, f.priv, "GET", "/api/files", t0, "n1", nil)
	_, err := f.verify(h1, "GET", "/api/files", nil)
	require.NoError(t, err)

	// The identical bytes replayed at T+1: rejected as a replay.
	f.now = t0.Add(time.Second)
	_, err = f.verify(h1, "GET", "/api/files", nil)
	assert.Equal(t, CodeReplayedNonce, CodeOf(err))

	// Re-signed at T+1 with a fresh nonce n2: accepted.
	h2 := signAt(t, f.priv, "GET", "/api/files", f.now, "n2", nil)
	_, err = f.verify(h2, "GET", "/api/files", nil)
	require.NoError(t, err)
}

func TestAgentVerifier_Freshness(t *testing.T) {
	tests := []struct {
		name      string
		offset    time.Duration
		timestamp string // overrides offset when set
		want      Code
	}{
		{"exactly at past edge", -DefaultTolerance, "", ""},
		{"exactly at future edge", DefaultTolerance, "", ""},
		{"one second too old", -DefaultTolerance - time.Second, "", CodeStaleRequest},
		{"one second too far ahead", DefaultTolerance + time.Second, "", CodeStaleRequest},
		{"an hour old", -time.Hour, "", CodeStaleRequest},
		{"skew overflows int64", 0, strconv.FormatInt(t0.Unix()-math.MaxInt64-1, 10), CodeStaleRequest},
		{"min int64", 0, strconv.FormatInt(math.MinInt64, 10), CodeStaleRequest},
		{"max int64", 0, strconv.FormatInt(math.MaxInt64, 10), CodeStaleRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAgentFixture(t)
			timestamp := tt.timestamp
			if timestamp == "" {
				timestamp = strconv.FormatInt(t0.Add(tt.offset).Unix(), 10)
			}
			h := signRaw(t, f.priv, "GET", "/api/files", timestamp, "n", nil)

			_, err := f.verify(h, "GET", "/api/files", nil)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}
}

func TestAgentVerifier_StaleDoesNotConsumeNonce(t *testing.T) {
	f := newAgentFixture(t)

	_, err := f.verify(signAt(t, f.priv, "GET", "/x", t0.Add(-time.Hour), "n1", nil), "GET", "/x", nil)
	require.Equal(t, CodeStaleRequest, CodeOf(err))
	assert.Zero(t, f.store.NonceCount())
}

func TestAgentVerifier_RevokedKey(t *testing.T) {
	f := newAgentFixture(t)
	_, err := f.registry.Revoke(context.Background(), f.key.ID, "user-1")
	require.NoError(t, err)

	// Mathematically valid signature, revoked key.
	_, err = f.verify(signAt(t, f.priv, "GET", "/api/files", t0, "n1", nil), "GET", "/api/files", nil)
	assert.Equal(t, CodeUnknownOrRevokedKey, CodeOf(err))
}

func TestAgentVerifier_UnknownKey(t *testing.T) {
	f := newAgentFixture(t)
	_, stranger, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = f.verify(signAt(t, stranger, "GET", "/api/files", t0, "n1", nil), "GET", "/api/files", nil)
	assert.Equal(t, CodeUnknownOrRevokedKey, CodeOf(err))
}

func TestAgentVerifier_Tampering(t *testing.T) {
	body := []byte(`{"a":1}`)

	tests := []struct {
		name   string
		mutate func(h *signing.Headers, method, path *string, body *[]byte)
	}{
		{"method", func(_ *signing.Headers, m, _ *string, _ *[]byte) { *m = "DELETE" }},
		{"path", func(_ *signing.Headers, _, p *string, _ *[]byte) { *p = "/api/files/other" }},
		{"timestamp", func(h *signing.Headers, _, _ *string, _ *[]byte) {
			h.Timestamp = strconv.FormatInt(t0.Unix()+1, 10)
		}},
		{"nonce", func(h *signing.Headers, _, _ *string, _ *[]byte) { h.Nonce = "n-other" }},
		{"body", func(_ *signing.Headers, _, _ *string, b *[]byte) { *b = []byte(`{"a":2}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAgentFixture(t)
			h := signAt(t, f.priv, "POST", "/api/files", t0, "n1", body)
			method, path, b := "POST", "/api/files", append([]byte(nil), body...)

			tt.mutate(&h, &method, &path, &b)

			_, err := f.verify(h, method, path, b)
			assert.Equal(t, CodeBadSignature, CodeOf(err))
			assert.Zero(t, f.store.NonceCount(), "a bad signature must not consume the nonce")
		})
	}
}

func TestAgentVerifier_BadSignatureDoesNotBurnNonce(t *testing.T) {
	f := newAgentFixture(t)

	forged := signAt(t, f.priv, "GET", "/api/files", t0, "n1", nil)
	forged.Signature = signAt(t, f.priv, "GET", "/elsewhere", t0, "n1", nil).Signature

	_, err := f.verify(forged, "GET", "/api/files", nil)
	require.Equal(t, CodeBadSignature, CodeOf(err))

	// The legitimate request with the same nonce still goes through.
	_, err = f.verify(signAt(t, f.priv, "GET", "/api/files", t0, "n1", nil), "GET", "/api/files", nil)
	assert.NoError(t, err)
}

func TestAgentVerifier_MalformedHeaders(t *testing.T) {
	f := newAgentFixture(t)
	good := signAt(t, f.priv, "GET", "/x", t0, "n1", nil)

	tests := []struct {
		name   string
		mutate func(h *signing.Headers)
		want   Code
	}{
		{"missing key hash", func(h *signing.Headers) { h.KeyHash = "" }, CodeMalformedRequest},
		{"missing timestamp", func(h *signing.Headers) { h.Timestamp = "" }, CodeMalformedRequest},
		{"missing nonce", func(h *signing.Headers) { h.Nonce = "" }, CodeMalformedRequest},
		{"missing signature", func(h *signing.Headers) { h.Signature = "" }, CodeMalformedRequest},
		{"non-numeric timestamp", func(h *signing.Headers) { h.Timestamp = "yesterday" }, CodeMalformedRequest},
		{"garbage signature", func(h *signing.Headers) { h.Signature = "not-a-jws" }, CodeBadSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := good
			tt.mutate(&h)
			_, err := f.verify(h, "GET", "/x", nil)
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}
}

func TestAgentVerifier_ConcurrentDuplicates(t *testing.T) {
	f := newAgentFixture(t)
	h := signAt(t, f.priv, "GET", "/api/files", t0, "captured", nil)

	const copies = 20
	var accepted, replayed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range copies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.verify(h, "GET", "/api/files", nil)
			switch CodeOf(err) {
			case CodeReplayedNonce:
				replayed.Add(1)
			default:
				if err == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(copies-1), replayed.Load())
}

func TestAgentVerifier_StoreFailureIsUnavailable(t *testing.T) {
	f := newAgentFixture(t)
	f.store.SetErr(context.DeadlineExceeded)

	_, err := f.verify(signAt(t, f.priv, "GET", "/x", t0, "n1", nil), "GET", "/x", nil)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingLedger struct{}

func (failingLedger) Consume(context.Context, string, string) (bool, error) {
	return false, replay.ErrLedgerFull
}

func TestAgentVerifier_LedgerFailureIsUnavailable(t *testing.T) {
	f := newAgentFixture(t)
	f.verifier.ledger = failingLedger{}

	_, err := f.verify(signAt(t, f.priv, "GET", "/x", t0, "n1", nil), "GET", "/x", nil)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.ErrorIs(t, err, replay.ErrLedgerFull)
}

func TestAgentVerifier_CustomTolerance(t *testing.T) {
	f := newAgentFixture(t)
	f.verifier = NewAgentVerifier(f.registry, replay.NewMemoryLedger(time.Minute, 100, 0),
		WithTolerance(30*time.Second),
		WithStoreTimeout(time.Second),
		WithNow(func() time.Time { return t0 }),
	)
	assert.Equal(t, 30*time.Second, f.verifier.Tolerance())

	_, err := f.verify(signAt(t, f.priv, "GET", "/x", t0.Add(-time.Minute), "n1", nil), "GET", "/x", nil)
	assert.Equal(t, CodeStaleRequest, CodeOf(err))
}

// A request stays fresh until the end of second ts+tolerance. Its nonce must
// still be remembered then, whichever ledger backs the verifier.
func TestAgentVerifier_ReplayAtLastFreshSecond(t *testing.T) {
	backends := []struct {
		name   string
		ledger func(f *agentFixture, now func() time.Time) replay.Ledger
	}{
		{"memory", func(_ *agentFixture, now func() time.Time) replay.Ledger {
			return replay.NewMemoryLedger(replay.TTL(DefaultTolerance), 100, 0, replay.WithClock(now))
		}},
		{"store", func(f *agentFixture, now func() time.Time) replay.Ledger {
			return replay.NewStoreLedger(f.store, replay.TTL(DefaultTolerance), replay.WithStoreClock(now))
		}},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			f := newAgentFixture(t)
			clock := func() time.Time { return f.now }
			f.verifier = NewAgentVerifier(f.registry, b.ledger(f, clock), WithNow(clock))

			// Stamped at the far future edge and consumed as early as possible.
			ts := t0.Add(DefaultTolerance)
			h := signAt(t, f.priv, "GET", "/api/files", ts, "n1", nil)
			f.now = t0.Add(900 * time.Millisecond)
			_, err := f.verify(h, "GET", "/api/files", nil)
			require.NoError(t, err)

			// Last instant the timestamp is still fresh.
			f.now = ts.Add(DefaultTolerance + 950*time.Millisecond)
			_, err = f.store.PurgeExpiredNonces(context.Background(), f.now)
			require.NoError(t, err)
			_, err = f.verify(h, "GET", "/api/files", nil)
			assert.Equal(t, CodeReplayedNonce, CodeOf(err))

			// One second later the request itself is stale.
			f.now = f.now.Add(time.Second)
			_, err = f.verify(h, "GET", "/api/files", nil)
			assert.Equal(t, CodeStaleRequest, CodeOf(err))
		})
	}
}

// Badger expires keys on its own wall clock, so this runs in real time.
func TestAgentVerifier_ReplayAtLastFreshSecond_Badger(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the freshness window to close")
	}
	f := newAgentFixture(t)
	tolerance := time.Second

	ledger, err := replay.OpenBadgerLedger("", replay.TTL(tolerance))
	require.NoError(t, err)
	defer ledger.Close()
	f.verifier = NewAgentVerifier(f.registry, ledger, WithTolerance(tolerance))

	start := time.Now().Unix()
	ts := time.Unix(start+1, 0)
	h := signAt(t, f.priv, "GET", "/api/files", ts, "n1", nil)
	_, err = f.verify(h, "GET", "/api/files", nil)
	require.NoError(t, err)

	time.Sleep(time.Until(ts.Add(tolerance + 900*time.Millisecond)))
	_, err = f.verify(h, "GET", "/api/files", nil)
	assert.Equal(t, CodeReplayedNonce, CodeOf(err))
}
