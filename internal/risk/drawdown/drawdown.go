// Package drawdown implements a capital-loss state machine:
// NORMAL -> CAUTION -> RECOVERY -> HALT, gating position-size multipliers on
// percentage drawdown from a monotonically increasing peak. A windowed state
// tracker with explicit enter/exit conditions, generalized from error-rate
// tracking to capital-based drawdown.
package drawdown

import (
	"sync"
	"time"
)

// State is the closed drawdown state-machine enum.
type State string

const (
	Normal   State = "NORMAL"
	Caution  State = "CAUTION"
	Recovery State = "RECOVERY"
	Halt     State = "HALT"
)

// Thresholds configures the state boundaries and their size multipliers.
type Thresholds struct {
	CautionPct  float64 // e.g. 0.05
	RecoveryPct float64 // e.g. 0.10
	HaltPct     float64 // e.g. 0.20
	CooldownMs  int64   // how long HALT must persist before an automatic reset is allowed
}

// DefaultThresholds matches the §4.8 table's example multipliers.
var DefaultThresholds = Thresholds{CautionPct: 0.05, RecoveryPct: 0.10, HaltPct: 0.20, CooldownMs: 30 * 60 * 1000}

// Status is the read-only view returned by IsTradingAllowed.
type Status struct {
	Allowed        bool
	State          State
	SizeMultiplier float64
	Reason         string
}

// Breaker tracks capital history and derives the current drawdown state.
type Breaker struct {
	thresholds Thresholds

	mu             sync.Mutex
	peakCapital    float64
	currentCapital float64
	state          State
	enteredAt      time.Time
}

// New builds a Breaker seeded with startingCapital as both peak and current.
func New(startingCapital float64, thresholds Thresholds) *Breaker {
	return &Breaker{
		thresholds:     thresholds,
		peakCapital:    startingCapital,
		currentCapital: startingCapital,
		state:          Normal,
		enteredAt:      time.Now(),
	}
}

// RecordOutcome applies a realized pnl (positive or negative) to current
// capital, advances peak capital monotonically, recomputes drawdown, and
// transitions state per the §4.8 table.
func (b *Breaker) RecordOutcome(pnl float64, now time.Time) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.currentCapital += pnl
	if b.currentCapital > b.peakCapital {
		b.peakCapital = b.currentCapital
	}

	drawdownPct := b.drawdownPctLocked()
	b.transitionLocked(drawdownPct, now)
	return b.statusLocked(drawdownPct)
}

func (b *Breaker) drawdownPctLocked() float64 {
	if b.peakCapital <= 0 {
		return 0
	}
	dd := (b.peakCapital - b.currentCapital) / b.peakCapital
	if dd < 0 {
		return 0
	}
	return dd
}

func (b *Breaker) transitionLocked(drawdownPct float64, now time.Time) {
	var next State
	switch {
	case drawdownPct > b.thresholds.HaltPct:
		next = Halt
	case drawdownPct > b.thresholds.RecoveryPct:
		next = Recovery
	case drawdownPct > b.thresholds.CautionPct:
		next = Caution
	default:
		next = Normal
	}
	if next != b.state {
		b.state = next
		b.enteredAt = now
	}
}

func (b *Breaker) statusLocked(drawdownPct float64) Status {
	switch b.state {
	case Normal:
		return Status{Allowed: true, State: Normal, SizeMultiplier: 1.0}
	case Caution:
		return Status{Allowed: true, State: Caution, SizeMultiplier: 0.5, Reason: "drawdown in caution band"}
	case Recovery:
		return Status{Allowed: true, State: Recovery, SizeMultiplier: 0.25, Reason: "drawdown in recovery band"}
	default: // Halt
		return Status{Allowed: false, State: Halt, SizeMultiplier: 0, Reason: "drawdown exceeds halt threshold"}
	}
}

// IsTradingAllowed returns the current status without mutating state.
func (b *Breaker) IsTradingAllowed(now time.Time) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked(b.drawdownPctLocked())
}

// ForceReset manually exits HALT (or any state) back to NORMAL, re-anchoring
// peak capital at the current level so drawdown recomputes from zero.
func (b *Breaker) ForceReset(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peakCapital = b.currentCapital
	b.state = Normal
	b.enteredAt = now
}

// TryAutoReset exits HALT once CooldownMs has elapsed since entry, per the
// "manual reset after cooldown" exit condition in §4.8. Returns true if a
// reset occurred.
func (b *Breaker) TryAutoReset(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Halt {
		return false
	}
	if now.Sub(b.enteredAt) < time.Duration(b.thresholds.CooldownMs)*time.Millisecond {
		return false
	}
	b.peakCapital = b.currentCapital
	b.state = Normal
	b.enteredAt = now
	return true
}

// CurrentCapital and PeakCapital expose the raw tracked values for metrics.
func (b *Breaker) CurrentCapital() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentCapital
}

func (b *Breaker) PeakCapital() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peakCapital
}
