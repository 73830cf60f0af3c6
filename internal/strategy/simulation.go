package strategy

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/duneflow/arbengine"
)

// SimulationConfig is the §6 "simulation (enabled, successRate, latencyMs,
// gasUsed, gasCostMultiplier, profitVariance)" configuration block.
type SimulationConfig struct {
	Enabled            bool
	SuccessRate        float64
	LatencyMs          int
	GasUsed            uint64
	GasCostMultiplier  float64
	ProfitVariance     float64
}

// SimulationStrategy produces a synthetic ExecutionResult for dry-run mode,
// independent of the C7 forward simulator (spec §4.11 "Simulation
// strategy"). The production guard is RequireNonProduction, which
// arbengine.New calls at startup: when RunEnvironment is "production" and
// simulation is enabled without an explicit override, the engine refuses to
// start rather than let this strategy construct fake fills against real
// capital.
type SimulationStrategy struct {
	Cfg  SimulationConfig
	Rand *rand.Rand
	Now  func() time.Time
}

func (s *SimulationStrategy) Name() string { return NameSimulation }

func (s *SimulationStrategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SimulationStrategy) rng() *rand.Rand {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.New(rand.NewSource(1))
}

// Execute implements Strategy.
func (s *SimulationStrategy) Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	now := s.now()
	r := s.rng()

	if s.Cfg.LatencyMs > 0 {
		select {
		case <-ctx.Done():
			return failureResult(opp, arbengine.NewExecError(arbengine.ErrTimeout, "simulation cancelled for %s", opp.ID), now)
		case <-time.After(time.Duration(s.Cfg.LatencyMs) * time.Millisecond):
		}
	}

	if r.Float64() >= s.Cfg.SuccessRate {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "simulated failure for %s", opp.ID), now)
	}

	varianceFactor := 1.0 + (r.Float64()*2-1)*s.Cfg.ProfitVariance
	profitUsd := opp.ExpectedProfitUsd * varianceFactor
	gasUsed := s.Cfg.GasUsed
	gasCostMultiplier := s.Cfg.GasCostMultiplier
	if gasCostMultiplier == 0 {
		gasCostMultiplier = 1.0
	}
	gasCost := big.NewInt(int64(float64(gasUsed) * gasCostMultiplier))

	return successResult(opp, syntheticTxHash(opp, now), big.NewInt(int64(profitUsd)), gasUsed, gasCost, now)
}

// RequireNonProduction returns an error when simulation would run against a
// production deployment without an explicit override — callers invoke this
// once at startup alongside SimulationConfig.Enabled.
func RequireNonProduction(runEnvironment string, simulationEnabled, override bool) error {
	if runEnvironment == "production" && simulationEnabled && !override {
		return fmt.Errorf("refusing to start: simulation strategy enabled in production without override")
	}
	return nil
}

func syntheticTxHash(opp *arbengine.Opportunity, now time.Time) string {
	return fmt.Sprintf("0xsim%s%d", opp.ID, now.UnixNano())
}
