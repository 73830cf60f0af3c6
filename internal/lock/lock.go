// Package lock implements the exclusive per-opportunity execution lease
// described in spec §4.3: a Redis-backed compare-and-set primitive with TTL,
// plus stale-holder recovery after repeated conflicts. Grounded on
// jeongkyun-oh-klaytn's github.com/go-redis/redis/v7 dependency; the CAS
// semantics follow the classic SET NX + Lua-guarded DEL pattern go-redis
// examples use for distributed locks.
package lock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
)

const keyPrefix = "lock:opportunity:"

// releaseScript deletes key only if its value still equals token, preventing
// a holder from releasing a lock it no longer owns (no friendly-fire).
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DefaultTTL is the lock lifetime used when callers don't override it.
const DefaultTTL = 60 * time.Second

// ExecutionTTL is 2x the default execution timeout (spec §4.3: per-opportunity
// execution uses 120s = 2x the 55s-ish execution timeout, rounded).
const ExecutionTTL = 120 * time.Second

// ConflictWindow and ConflictThreshold implement spec §4.3's stale-holder
// recovery: after >=3 conflicts within 30s, the orchestrator force-deletes.
const (
	ConflictWindow    = 30 * time.Second
	ConflictThreshold = 3
)

// Manager issues and releases leases keyed by resourceId (an opportunity ID).
type Manager struct {
	rdb redis.Cmdable

	mu        sync.Mutex
	conflicts map[string][]time.Time
}

// New builds a Manager against an existing redis client/cluster handle.
func New(rdb redis.Cmdable) *Manager {
	return &Manager{rdb: rdb, conflicts: make(map[string][]time.Time)}
}

// Acquire attempts to set resourceId's key if absent, with the given TTL. On
// success it returns a random token that must be presented to Release. On
// conflict (key already held), it returns ok=false and records the conflict
// for stale-holder tracking.
func (m *Manager) Acquire(resourceID string, ttl time.Duration) (token string, ok bool, err error) {
	token, err = newToken()
	if err != nil {
		return "", false, fmt.Errorf("generate lock token: %w", err)
	}

	key := keyPrefix + resourceID
	set, err := m.rdb.SetNX(key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", resourceID, err)
	}
	if !set {
		m.recordConflict(resourceID)
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes resourceId's key only if it still holds token.
func (m *Manager) Release(resourceID, token string) error {
	key := keyPrefix + resourceID
	if err := releaseScript.Run(m.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", resourceID, err)
	}
	return nil
}

// ConflictCount reports how many Acquire conflicts resourceId has
// accumulated within the rolling ConflictWindow.
func (m *Manager) ConflictCount(resourceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(resourceID)
	return len(m.conflicts[resourceID])
}

func (m *Manager) recordConflict(resourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(resourceID)
	m.conflicts[resourceID] = append(m.conflicts[resourceID], time.Now())
}

func (m *Manager) pruneLocked(resourceID string) {
	cutoff := time.Now().Add(-ConflictWindow)
	kept := m.conflicts[resourceID][:0]
	for _, t := range m.conflicts[resourceID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.conflicts, resourceID)
	} else {
		m.conflicts[resourceID] = kept
	}
}

// ForceDelete removes resourceId's key unconditionally (ignoring the token
// check) and clears its conflict history. Used once ConflictCount reaches
// ConflictThreshold within ConflictWindow, per spec §4.3's recovery rule for
// a holder that crashed without releasing.
func (m *Manager) ForceDelete(resourceID string) error {
	key := keyPrefix + resourceID
	if err := m.rdb.Del(key).Err(); err != nil {
		return fmt.Errorf("force-delete lock %s: %w", resourceID, err)
	}
	m.mu.Lock()
	delete(m.conflicts, resourceID)
	m.mu.Unlock()
	return nil
}

// ShouldForceRecover reports whether resourceId has crossed the
// stale-holder-recovery threshold.
func (m *Manager) ShouldForceRecover(resourceID string) bool {
	return m.ConflictCount(resourceID) >= ConflictThreshold
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
