package orchestrator

import "sync"

// activationGate runs a func exactly once across any number of concurrent
// callers and hands every caller the same result — the "Promise/Future-based
// at-most-one-concurrent mutex" standby activation of spec §4.12. A second
// call after the first completes is a no-op that replays the cached result,
// making Activate idempotent for the life of the Orchestrator.
type activationGate struct {
	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

func (g *activationGate) run(fn func() error) error {
	g.mu.Lock()
	if g.started {
		done := g.done
		g.mu.Unlock()
		<-done
		return g.err
	}
	g.started = true
	g.done = make(chan struct{})
	g.mu.Unlock()

	err := fn()
	g.err = err
	close(g.done)
	return err
}
