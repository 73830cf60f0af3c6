// Package simulator forwards a built transaction to an external fork/trace
// provider and classifies the outcome. It is skipped for low-value or
// time-critical opportunities and degrades gracefully on provider error.
// Built around a pluggable ForkProvider rather than AMM tick math, since
// execution forecasting — not concentrated-liquidity pricing — is what this
// engine needs here.
package simulator

import (
	"context"
	"time"

	"github.com/duneflow/arbengine"
)

// DefaultMinProfitForSimulation and DefaultTimeCriticalThreshold are the
// spec §4.7 skip thresholds.
const (
	DefaultMinProfitForSimulation = 50.0
	DefaultTimeCriticalThreshold  = 2 * time.Second
)

// Result is the classified simulation outcome.
type Result struct {
	WouldRevert   bool
	RevertReason  string
	GasUsed       uint64
	Provider      string
	LatencyMs     int64
}

// SkipReason explains why CheckSafe didn't call the fork provider.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipProviderUnavailable SkipReason = "provider_unavailable"
	SkipBelowMinProfit    SkipReason = "below_min_profit"
	SkipTimeCritical      SkipReason = "time_critical"
)

// ForkProvider forwards a raw transaction to an external simulation backend
// (e.g. Tenderly, Anvil fork, debug_traceCall) and reports the outcome.
type ForkProvider interface {
	Name() string
	Simulate(ctx context.Context, chain string, rawTx []byte) (wouldRevert bool, revertReason string, gasUsed uint64, err error)
}

// Simulator gates execution behind a pre-flight forecast.
type Simulator struct {
	provider                ForkProvider
	minProfitForSimulation  float64
	timeCriticalThreshold   time.Duration

	simulationErrors uint64
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithThresholds overrides the default skip thresholds.
func WithThresholds(minProfit float64, timeCritical time.Duration) Option {
	return func(s *Simulator) {
		s.minProfitForSimulation = minProfit
		s.timeCriticalThreshold = timeCritical
	}
}

// New builds a Simulator. provider may be nil, meaning simulation is always
// skipped (treated as provider unavailable).
func New(provider ForkProvider, opts ...Option) *Simulator {
	s := &Simulator{
		provider:               provider,
		minProfitForSimulation: DefaultMinProfitForSimulation,
		timeCriticalThreshold:  DefaultTimeCriticalThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckSafe decides whether to simulate opp's built rawTx and, if simulated
// and it predicts a revert, returns a non-nil error wrapping ERR_SIMULATION_REVERT.
// A nil provider, low-value opportunity, or stale opportunity all skip
// simulation (nil result, a non-empty SkipReason, nil error). A provider error is
// graceful degradation: the caller proceeds, and SimulationErrors is
// incremented.
func (s *Simulator) CheckSafe(ctx context.Context, opp *arbengine.Opportunity, rawTx []byte, now time.Time) (*Result, SkipReason, error) {
	if s.provider == nil {
		return nil, SkipProviderUnavailable, nil
	}
	if opp.ExpectedProfitUsd < s.minProfitForSimulation {
		return nil, SkipBelowMinProfit, nil
	}
	if opp.Age(now) > s.timeCriticalThreshold {
		return nil, SkipTimeCritical, nil
	}

	start := time.Now()
	wouldRevert, reason, gasUsed, err := s.provider.Simulate(ctx, opp.BuyChain, rawTx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		s.simulationErrors++
		return nil, SkipNone, nil // graceful degradation: proceed despite provider error
	}

	result := &Result{WouldRevert: wouldRevert, RevertReason: reason, GasUsed: gasUsed, Provider: s.provider.Name(), LatencyMs: latency}
	if wouldRevert {
		return result, SkipNone, arbengine.NewExecError(arbengine.ErrSimulationRevert, "simulation predicts revert: %s", reason)
	}
	return result, SkipNone, nil
}

// SimulationErrors reports the count of provider errors encountered so far.
func (s *Simulator) SimulationErrors() uint64 { return s.simulationErrors }
