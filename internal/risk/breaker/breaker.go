// Package breaker implements a consecutive-failure circuit breaker:
// CLOSED -> OPEN -> HALF_OPEN with a cooldown and bounded half-open
// attempts. Reworked from a windowed error-rate tracker shape into a
// consecutive-failure state machine, since the strategy layer (not the
// breaker) already owns per-error classification.
package breaker

import (
	"sync"
	"time"
)

// State is the closed circuit-breaker state enum.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// DefaultFailureThreshold, DefaultCooldown and DefaultHalfOpenMaxAttempts
// are the §4.10 defaults.
const (
	DefaultFailureThreshold   = 5
	DefaultCooldown           = 5 * time.Minute
	DefaultHalfOpenMaxAttempts = 1
)

// StateChange is published to a monitoring stream on every transition.
type StateChange struct {
	PreviousState        State
	NewState             State
	Reason               string
	ConsecutiveFailures  int
	CooldownRemainingMs  int64
	Timestamp            time.Time
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	failureThreshold    int
	cooldown            time.Duration
	halfOpenMaxAttempts int

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	cooldownUntil       time.Time
	halfOpenAttemptsLeft int

	onStateChange func(StateChange)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold, WithCooldown and WithHalfOpenMaxAttempts override
// the §4.10 defaults.
func WithFailureThreshold(n int) Option { return func(b *Breaker) { b.failureThreshold = n } }
func WithCooldown(d time.Duration) Option { return func(b *Breaker) { b.cooldown = d } }
func WithHalfOpenMaxAttempts(n int) Option { return func(b *Breaker) { b.halfOpenMaxAttempts = n } }

// WithOnStateChange registers a callback invoked (outside the lock) on every
// state transition, for publishing to the circuit-breaker output stream.
func WithOnStateChange(fn func(StateChange)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// New builds a Breaker starting CLOSED.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		failureThreshold:    DefaultFailureThreshold,
		cooldown:            DefaultCooldown,
		halfOpenMaxAttempts: DefaultHalfOpenMaxAttempts,
		state:               Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CanExecute reports whether a new execution may proceed. OPEN blocks until
// cooldown elapses, at which point it transitions to HALF_OPEN and allows up
// to halfOpenMaxAttempts through.
func (b *Breaker) CanExecute(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Before(b.cooldownUntil) {
			return false
		}
		b.transitionLocked(HalfOpen, "cooldown elapsed", now)
		b.halfOpenAttemptsLeft = b.halfOpenMaxAttempts
		fallthrough
	case HalfOpen:
		if b.halfOpenAttemptsLeft <= 0 {
			return false
		}
		b.halfOpenAttemptsLeft--
		return true
	}
	return false
}

// RecordSuccess resets the failure counter and closes the breaker if it was
// HALF_OPEN.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state != Closed {
		b.transitionLocked(Closed, "execution succeeded", now)
	}
}

// RecordFailure increments the consecutive-failure counter. At the
// threshold, CLOSED transitions to OPEN with a fresh cooldown. Any failure
// while HALF_OPEN immediately re-opens.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.cooldownUntil = now.Add(b.cooldown)
		b.transitionLocked(Open, "half-open attempt failed", now)
		return
	}

	b.consecutiveFailures++
	if b.state == Closed && b.consecutiveFailures >= b.failureThreshold {
		b.cooldownUntil = now.Add(b.cooldown)
		b.transitionLocked(Open, "consecutive failure threshold reached", now)
	}
}

// ForceClose resets the breaker to CLOSED unconditionally (used by tests and
// operator overrides).
func (b *Breaker) ForceClose(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.transitionLocked(Closed, "force-closed", now)
}

func (b *Breaker) transitionLocked(next State, reason string, now time.Time) {
	if next == b.state {
		return
	}
	prev := b.state
	b.state = next

	if b.onStateChange != nil {
		remaining := int64(0)
		if next == Open {
			remaining = b.cooldownUntil.Sub(now).Milliseconds()
		}
		change := StateChange{
			PreviousState:       prev,
			NewState:            next,
			Reason:              reason,
			ConsecutiveFailures: b.consecutiveFailures,
			CooldownRemainingMs: remaining,
			Timestamp:           now,
		}
		cb := b.onStateChange
		b.mu.Unlock()
		cb(change)
		b.mu.Lock()
	}
}

// State reports the current state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures reports the current streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
