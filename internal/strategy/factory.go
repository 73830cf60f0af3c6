package strategy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/duneflow/arbengine"
)

// Factory dispatches an Opportunity to the strategy named by the §4.12
// dispatch rule: simulation mode wins outright; then flash-loan (explicit
// flag or type); then cross-chain (distinct chains); then backrun; then
// statistical; intra-chain is the fallback.
type Factory struct {
	simulationMode atomic.Bool
	registry       map[string]Strategy
}

// NewFactory builds a Factory over the given named strategies. Unknown or
// nil entries in registry are simply absent from dispatch.
func NewFactory(simulationMode bool, registry map[string]Strategy) *Factory {
	f := &Factory{registry: registry}
	f.simulationMode.Store(simulationMode)
	return f
}

// SetSimulationMode flips dispatch between the simulation strategy and real
// execution, letting standby activation (spec §4.12) disable simulation
// mode on a live Factory without reconstructing it.
func (f *Factory) SetSimulationMode(enabled bool) {
	f.simulationMode.Store(enabled)
}

// Names of the well-known strategies the factory dispatches by.
const (
	NameSimulation  = "simulation"
	NameFlashLoan   = "flash-loan"
	NameCrossChain  = "cross-chain"
	NameBackrun     = "backrun"
	NameStatArb     = "statistical-arb"
	NameIntraChain  = "intra-chain"
)

// SelectName applies the §4.12 dispatch rule and returns the strategy name
// (not yet resolved against the registry).
func (f *Factory) SelectName(opp *arbengine.Opportunity) string {
	switch {
	case f.simulationMode.Load():
		return NameSimulation
	case opp.UseFlashLoan || opp.Type == arbengine.OpportunityFlashLoan || opp.Type == arbengine.OpportunityNHop:
		return NameFlashLoan
	case opp.IsCrossChain():
		return NameCrossChain
	case opp.Type == arbengine.OpportunityBackrun:
		return NameBackrun
	case opp.Type == arbengine.OpportunityStatistical:
		return NameStatArb
	default:
		return NameIntraChain
	}
}

// Dispatch selects and runs the strategy for opp, returning [ERR_NO_STRATEGY]
// when the selected name has no registered implementation.
func (f *Factory) Dispatch(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	name := f.SelectName(opp)
	strat, ok := f.registry[name]
	if !ok || strat == nil {
		return &arbengine.ExecutionResult{
			OpportunityID: opp.ID, Success: false,
			Error:       arbengine.NewExecError(arbengine.ErrNoStrategy, "no strategy registered for %q", name),
			TimestampMs: time.Now().UnixMilli(), Chain: opp.BuyChain, Dex: opp.BuyDex,
		}
	}
	return strat.Execute(ctx, opp)
}
