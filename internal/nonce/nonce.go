// Package nonce allocates per-chain monotonic transaction nonces, tracking
// outstanding ("pending") allocations until they are confirmed or explicitly
// failed. Centralizes what was previously an inline nonce fetch on every
// send into a dedicated, mutex-guarded per-chain counter.
package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ChainNonceSource fetches the next pending nonce from the chain, used only
// to seed a chain's counter the first time it is allocated from.
type ChainNonceSource interface {
	PendingNonceAt(ctx context.Context, chain string) (uint64, error)
}

type pendingEntry struct {
	nonce     uint64
	allocated time.Time
}

type chainState struct {
	mu        sync.Mutex
	next      uint64
	seeded    bool
	pending   map[uint64]pendingEntry
	available chan struct{} // buffered signal: a pending slot freed up
}

// Manager allocates and tracks nonces for every configured chain.
type Manager struct {
	source ChainNonceSource

	maxPending  int
	pendingTTL  time.Duration
	mu          sync.Mutex
	chains      map[string]*chainState
}

// New builds a Manager. maxPending bounds outstanding allocations per chain
// (default 10 per spec §4.2); pendingTTL evicts stale pending entries
// (default 5 min).
func New(source ChainNonceSource, maxPending int, pendingTTL time.Duration) *Manager {
	if maxPending <= 0 {
		maxPending = 10
	}
	if pendingTTL <= 0 {
		pendingTTL = 5 * time.Minute
	}
	return &Manager{
		source:     source,
		maxPending: maxPending,
		pendingTTL: pendingTTL,
		chains:     make(map[string]*chainState),
	}
}

func (m *Manager) stateFor(chain string) *chainState {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.chains[chain]
	if !ok {
		cs = &chainState{pending: make(map[uint64]pendingEntry), available: make(chan struct{}, m.maxPending)}
		m.chains[chain] = cs
	}
	return cs
}

// Allocate returns the next nonce for chain, atomic with respect to other
// allocations on the same chain. Blocks until a pending slot is available if
// the chain already has maxPending outstanding allocations.
func (m *Manager) Allocate(ctx context.Context, chain string) (uint64, error) {
	cs := m.stateFor(chain)

	for {
		cs.mu.Lock()
		m.evictExpiredLocked(cs)

		if !cs.seeded {
			seed, err := m.source.PendingNonceAt(ctx, chain)
			if err != nil {
				cs.mu.Unlock()
				return 0, fmt.Errorf("seed nonce for chain %s: %w", chain, err)
			}
			cs.next = seed
			cs.seeded = true
		}

		if len(cs.pending) < m.maxPending {
			n := cs.next
			cs.next++
			cs.pending[n] = pendingEntry{nonce: n, allocated: time.Now()}
			cs.mu.Unlock()
			return n, nil
		}
		cs.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-cs.available:
		case <-time.After(time.Second):
			// periodic wake to re-check for TTL-evicted slots
		}
	}
}

// Confirm marks nonce as settled by txHash, freeing its pending slot.
func (m *Manager) Confirm(chain string, n uint64, txHash string) {
	cs := m.stateFor(chain)
	cs.mu.Lock()
	delete(cs.pending, n)
	cs.mu.Unlock()
	m.signalAvailable(cs)
}

// Fail releases n for reuse when no transaction was ever broadcast for it
// (reason describes why); otherwise the caller should call Confirm once the
// replacement transaction lands, since the chain has already advanced past
// this nonce on-chain.
func (m *Manager) Fail(chain string, n uint64, reason string) {
	cs := m.stateFor(chain)
	cs.mu.Lock()
	delete(cs.pending, n)
	if n == cs.next-1 {
		cs.next = n // only the most recent allocation can be safely rewound
	}
	cs.mu.Unlock()
	m.signalAvailable(cs)
}

func (m *Manager) signalAvailable(cs *chainState) {
	select {
	case cs.available <- struct{}{}:
	default:
	}
}

// evictExpiredLocked drops pending entries older than pendingTTL. Caller
// must hold cs.mu.
func (m *Manager) evictExpiredLocked(cs *chainState) {
	if len(cs.pending) == 0 {
		return
	}
	cutoff := time.Now().Add(-m.pendingTTL)
	for n, entry := range cs.pending {
		if entry.allocated.Before(cutoff) {
			delete(cs.pending, n)
		}
	}
}

// PendingCount reports the number of outstanding allocations for chain.
func (m *Manager) PendingCount(chain string) int {
	cs := m.stateFor(chain)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.pending)
}
