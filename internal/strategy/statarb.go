package strategy

import (
	"context"
	"time"

	"github.com/duneflow/arbengine"
)

// StatArbStrategy applies the same age/confidence/profit gates as the
// other strategies and then delegates to a registered flash-loan strategy
// with useFlashLoan forced true (spec §4.11 "Statistical arb"). It never
// fabricates a success: if no flash-loan strategy is wired, it returns
// NO_STRATEGY so P&L accounting cannot be corrupted by a fake fill.
type StatArbStrategy struct {
	FlashLoan     Strategy
	MinConfidence float64
	MinProfitUsd  float64
	MaxAge        time.Duration
	Now           func() time.Time
}

func (s *StatArbStrategy) Name() string { return NameStatArb }

func (s *StatArbStrategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *StatArbStrategy) maxAge() time.Duration {
	if s.MaxAge > 0 {
		return s.MaxAge
	}
	return MaxAgeReverify
}

// Execute implements Strategy.
func (s *StatArbStrategy) Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	now := s.now()

	if opp.Age(now) > s.maxAge() {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrQuoteExpired, "statistical opportunity %s aged out", opp.ID), now)
	}
	if opp.Confidence < s.MinConfidence {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrLowEV, "statistical opportunity %s confidence %.2f below threshold", opp.ID, opp.Confidence), now)
	}
	if opp.ExpectedProfitUsd < s.MinProfitUsd {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrLowEV, "statistical opportunity %s profit %.2f below threshold", opp.ID, opp.ExpectedProfitUsd), now)
	}

	if s.FlashLoan == nil {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrNoStrategy, "no flash-loan strategy registered for statistical dispatch"), now)
	}

	delegated := *opp
	delegated.UseFlashLoan = true
	return s.FlashLoan.Execute(ctx, &delegated)
}
