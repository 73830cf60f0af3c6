// Package sizing implements the expected-value gate and Kelly-fraction
// position sizer: percentage/fraction helpers reworked around EV/Kelly math
// instead of AMM tick calculations, since this engine's risk pipeline — not
// its pool pricing — is what needs those calculations.
package sizing

import (
	"fmt"
)

// ExecutionProbabilitySource supplies the historical success probability p
// for a given (chain, dex, pathLength) key, per spec §4.9.
type ExecutionProbabilitySource interface {
	Probability(chain, dex string, pathLength int) float64
}

// EVResult is the outcome of the expected-value gate.
type EVResult struct {
	Accepted      bool
	ExpectedValue float64
	Probability   float64
	Reason        string
}

// DefaultMinEvUsd is the minimum expected value required to proceed.
const DefaultMinEvUsd = 0.0

// EVFilter computes expectedValue = p*profit - (1-p)*loss - gasCostEstimate
// and rejects when EV < 0 or EV < minEvUsd.
type EVFilter struct {
	probabilities ExecutionProbabilitySource
	minEvUsd      float64
}

// NewEVFilter builds an EVFilter. minEvUsd defaults to 0 when negative.
func NewEVFilter(probabilities ExecutionProbabilitySource, minEvUsd float64) *EVFilter {
	if minEvUsd < 0 {
		minEvUsd = DefaultMinEvUsd
	}
	return &EVFilter{probabilities: probabilities, minEvUsd: minEvUsd}
}

// Evaluate computes and gates the expected value for one opportunity attempt.
func (f *EVFilter) Evaluate(chain, dex string, pathLength int, profitUsd, lossUsd, gasCostUsd float64) EVResult {
	p := f.probabilities.Probability(chain, dex, pathLength)
	ev := p*profitUsd - (1-p)*lossUsd - gasCostUsd

	threshold := f.minEvUsd
	if threshold < 0 {
		threshold = 0
	}
	if ev < 0 {
		return EVResult{Accepted: false, ExpectedValue: ev, Probability: p, Reason: fmt.Sprintf("EV %.4f is negative", ev)}
	}
	if ev < threshold {
		return EVResult{Accepted: false, ExpectedValue: ev, Probability: p, Reason: fmt.Sprintf("EV %.4f below minimum %.4f", ev, threshold)}
	}
	return EVResult{Accepted: true, ExpectedValue: ev, Probability: p}
}

// KellyResult is the outcome of the Kelly-fraction sizer.
type KellyResult struct {
	Accepted           bool
	RecommendedFraction float64
	RecommendedSizeUsd float64
	Reason             string
}

// KellyConfig bounds and scales the raw Kelly fraction.
type KellyConfig struct {
	SafetyFactor float64 // multiplies the raw Kelly fraction down (e.g. 0.5 = half-Kelly)
	MinFraction  float64
	MaxFraction  float64
	MinSizeUsd   float64
}

// DefaultKellyConfig is a conservative half-Kelly profile.
var DefaultKellyConfig = KellyConfig{SafetyFactor: 0.5, MinFraction: 0.0, MaxFraction: 0.25, MinSizeUsd: 10}

// Sizer recommends a position size from a Kelly fraction, scaled by the
// drawdown breaker's size multiplier (C8) and clamped to configured bounds.
type Sizer struct {
	cfg KellyConfig
}

// NewSizer builds a Sizer with cfg (falls back to DefaultKellyConfig fields
// left at their zero value only when the caller passes the zero KellyConfig).
func NewSizer(cfg KellyConfig) *Sizer {
	if cfg == (KellyConfig{}) {
		cfg = DefaultKellyConfig
	}
	return &Sizer{cfg: cfg}
}

// Recommend computes recommendedFraction = max(0, (p*b - (1-p))/b) *
// safetyFactor, clamps to [minFraction, maxFraction], multiplies by
// drawdownSizeMultiplier, and converts to USD against capitalUsd. Rejects
// with POSITION_SIZE semantics (Accepted=false) if the resulting size is
// below MinSizeUsd.
func (s *Sizer) Recommend(p, profitUsd, lossUsd, capitalUsd, drawdownSizeMultiplier float64) KellyResult {
	if lossUsd <= 0 || profitUsd <= 0 {
		return KellyResult{Accepted: false, Reason: "profit and loss must be positive to compute an odds ratio"}
	}
	b := profitUsd / lossUsd

	raw := (p*b - (1 - p)) / b
	if raw < 0 {
		raw = 0
	}
	fraction := raw * s.cfg.SafetyFactor
	if fraction < s.cfg.MinFraction {
		fraction = s.cfg.MinFraction
	}
	if fraction > s.cfg.MaxFraction {
		fraction = s.cfg.MaxFraction
	}
	fraction *= drawdownSizeMultiplier

	sizeUsd := fraction * capitalUsd
	if sizeUsd < s.cfg.MinSizeUsd {
		return KellyResult{Accepted: false, RecommendedFraction: fraction, RecommendedSizeUsd: sizeUsd,
			Reason: fmt.Sprintf("recommended size %.2f below minimum %.2f", sizeUsd, s.cfg.MinSizeUsd)}
	}
	return KellyResult{Accepted: true, RecommendedFraction: fraction, RecommendedSizeUsd: sizeUsd}
}
