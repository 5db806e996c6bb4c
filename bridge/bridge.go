package bridge

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	// DefaultRetention is how long an unclaimed artifact survives.
	DefaultRetention = 20 * time.Minute
	// DefaultReclaimInterval is the period of the background sweep.
	DefaultReclaimInterval = 1 * time.Minute
)

type artifactEntry struct {
	path   string
	expiry time.Time
}

// Bridge mediates the one-time handoff of a temporary artifact between the
// untrusted receiving boundary and the trusted processing stage. It also
// owns the replay-nonce ledger, since both maps share the same lifecycle.
//
// Bridge is safe for concurrent use by multiple goroutines, including the
// background reclaimer.
type Bridge struct {
	mu             sync.Mutex
	log            *slog.Logger
	retention      time.Duration
	nonceRetention time.Duration
	artifacts      map[string]artifactEntry
	nonces         map[string]time.Time
	now            func() time.Time
}

// New builds a bridge. nonceRetention must cover at least the upload token
// lifetime, otherwise a replayed token could slip in after its nonce was
// reclaimed; callers passing zero get the artifact retention window.
func New(log *slog.Logger, retention, nonceRetention time.Duration) *Bridge {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if nonceRetention <= 0 {
		nonceRetention = retention
	}
	return &Bridge{
		log:            log,
		retention:      retention,
		nonceRetention: nonceRetention,
		artifacts:      make(map[string]artifactEntry),
		nonces:         make(map[string]time.Time),
		now:            time.Now,
	}
}

// Register stores a claim token for a freshly persisted artifact.
func (b *Bridge) Register(claimToken, artifactPath string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artifacts[claimToken] = artifactEntry{
		path:   artifactPath,
		expiry: b.now().Add(b.retention),
	}
}

// Claim atomically removes the entry so that exactly one of N racing
// claimers succeeds. An entry found past its expiry is treated as lost:
// the artifact is deleted and the claim reports not found.
func (b *Bridge) Claim(claimToken string) (string, bool) {
	b.mu.Lock()
	entry, found := b.artifacts[claimToken]
	if found {
		delete(b.artifacts, claimToken)
	}
	b.mu.Unlock()

	if !found {
		return "", false
	}
	if b.now().After(entry.expiry) {
		// The file may already be gone; nothing useful to do about it.
		_ = os.Remove(entry.path)
		b.log.Warn("Expired artifact claimed, deleted instead", "claim_token", claimToken)
		return "", false
	}
	return entry.path, true
}

// RegisterNonce inserts the id if absent and reports whether the insert won.
// A false return means the signed token was already presented: a replay.
// Nonces are never removed explicitly, only reclaimed after their window.
func (b *Bridge) RegisterNonce(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, used := b.nonces[id]; used {
		return false
	}
	b.nonces[id] = b.now().Add(b.nonceRetention)
	return true
}

// Reclaim sweeps both maps once. Expired artifacts are removed from the map
// and from disk; expired nonces are pure memory cleanup. The lock is held
// only for the scan and mutation, never for filesystem work.
func (b *Bridge) Reclaim() {
	now := b.now()

	b.mu.Lock()
	var orphaned []string
	for token, entry := range b.artifacts {
		if now.After(entry.expiry) {
			orphaned = append(orphaned, entry.path)
			delete(b.artifacts, token)
		}
	}
	for id, expiry := range b.nonces {
		if now.After(expiry) {
			delete(b.nonces, id)
		}
	}
	b.mu.Unlock()

	for _, path := range orphaned {
		// Swallow filesystem errors: the file may already be gone or locked.
		_ = os.Remove(path)
	}
	if len(orphaned) > 0 {
		b.log.Info("Reclaimed abandoned artifacts", "count", len(orphaned))
	}
}

// Size returns the number of live artifact entries, for monitoring.
func (b *Bridge) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.artifacts)
}
