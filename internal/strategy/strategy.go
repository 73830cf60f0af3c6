// Package strategy implements per-opportunity execution strategies: a
// shared base (gas shaping, price re-verification, nonce lifecycle,
// submit-and-wait) plus one concrete Strategy per dispatch rule, selected
// by the factory in factory.go. Generalizes a Send-then-wait-for-receipt
// execution flow from a single fixed strategy to a pluggable family.
package strategy

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/internal/gasoracle"
	"github.com/duneflow/arbengine/internal/nonce"
	"github.com/duneflow/arbengine/internal/simulator"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// MaxAgeReverify, MinProfitMultiplier are the §4.11 price re-verification
// gates applied immediately before submission.
const (
	MaxAgeReverify      = 10 * time.Second
	MinProfitMultiplier = 1.2
	DynamicGasLimitMultiplierNum = 115
	DynamicGasLimitMultiplierDen = 100
)

// Strategy executes one dispatched opportunity and always returns a
// terminal ExecutionResult — it never lets an error escape (spec §7:
// "exceptions never escape a strategy").
type Strategy interface {
	Name() string
	Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult
}

// Wallet is the signing identity bound to a chain (mirrors providerpool.Wallet
// without importing that package, to avoid a dependency cycle).
type Wallet struct {
	Address    string
	PrivateKey *ecdsa.PrivateKey
}

// ChainAccess is what a strategy needs from the provider pool: a signing
// backend and wallet per chain.
type ChainAccess interface {
	WalletFor(chain string) (Wallet, bool)
	FeeBackend(chain string) (gasoracle.FeeBackend, bool)
}

// Submitter abstracts "broadcast a signed transaction and wait for its
// receipt" so strategies don't depend on a concrete RPC client.
type Submitter interface {
	SubmitAndWait(ctx context.Context, chain string, tx *ethtypes.Transaction) (*ethtypes.Receipt, error)
}

// ExecutionProbabilityTracker implements risk/sizing.ExecutionProbabilitySource,
// keyed by (chain, dex, pathLength), fed by each strategy's own outcomes.
type ExecutionProbabilityTracker struct {
	mu      chan struct{} // 1-buffered mutex substitute kept simple and explicit
	samples map[string][2]int // key -> [successes, attempts]
}

// NewExecutionProbabilityTracker builds an empty tracker.
func NewExecutionProbabilityTracker() *ExecutionProbabilityTracker {
	t := &ExecutionProbabilityTracker{mu: make(chan struct{}, 1), samples: make(map[string][2]int)}
	t.mu <- struct{}{}
	return t
}

func trackerKey(chain, dex string, pathLength int) string {
	return fmt.Sprintf("%s|%s|%d", chain, dex, pathLength)
}

// Record updates the tracker with one outcome.
func (t *ExecutionProbabilityTracker) Record(chain, dex string, pathLength int, success bool) {
	<-t.mu
	defer func() { t.mu <- struct{}{} }()
	k := trackerKey(chain, dex, pathLength)
	cur := t.samples[k]
	cur[1]++
	if success {
		cur[0]++
	}
	t.samples[k] = cur
}

// Probability returns the empirical success rate, defaulting to 0.5 (an
// uninformative prior) when no samples exist yet for the key.
func (t *ExecutionProbabilityTracker) Probability(chain, dex string, pathLength int) float64 {
	<-t.mu
	defer func() { t.mu <- struct{}{} }()
	k := trackerKey(chain, dex, pathLength)
	cur, ok := t.samples[k]
	if !ok || cur[1] == 0 {
		return 0.5
	}
	return float64(cur[0]) / float64(cur[1])
}

// Base is embedded by every concrete strategy and supplies the shared
// machinery spec §4.11 requires of all of them.
type Base struct {
	Chains    ChainAccess
	Nonces    *nonce.Manager
	GasOracle *gasoracle.Oracle
	Submitter Submitter
	Simulator *simulator.Simulator
	Log       *zap.SugaredLogger
}

// CheckSimulation runs the C7 forward simulator against rawTx, when wired,
// before submission. A nil Simulator (no fork provider configured) always
// skips and returns (nil, nil). A provider error degrades gracefully
// (caller proceeds); only a predicted revert returns a non-nil ExecError.
func (b *Base) CheckSimulation(ctx context.Context, opp *arbengine.Opportunity, rawTx []byte, now time.Time) (*simulator.Result, *arbengine.ExecError) {
	if b.Simulator == nil {
		return nil, nil
	}
	result, _, err := b.Simulator.CheckSafe(ctx, opp, rawTx, now)
	if err != nil {
		if execErr, ok := err.(*arbengine.ExecError); ok {
			return nil, execErr
		}
		return nil, arbengine.NewExecError(arbengine.ErrExecution, "simulation failed: %v", err)
	}
	return result, nil
}

// applyGasLimitMultiplier turns a simulator-reported gas usage into the
// dynamic submission gas limit (spec: simulatedGas * 1.15).
func applyGasLimitMultiplier(gasUsed uint64) uint64 {
	return gasUsed * DynamicGasLimitMultiplierNum / DynamicGasLimitMultiplierDen
}

// ReverifyPrice re-checks an opportunity immediately before submission:
// age must still be within MaxAgeReverify, profit must still clear
// 1.2x the original admission threshold, and confidence must still clear
// minConfidence. Returns a typed ExecError on failure, nil on pass.
func (b *Base) ReverifyPrice(opp *arbengine.Opportunity, now time.Time, minConfidence, minProfitThresholdUsd float64) *arbengine.ExecError {
	if opp.Age(now) > MaxAgeReverify {
		return arbengine.NewExecError(arbengine.ErrQuoteExpired, "opportunity %s aged out before submission", opp.ID)
	}
	if opp.ExpectedProfitUsd < minProfitThresholdUsd*MinProfitMultiplier {
		return arbengine.NewExecError(arbengine.ErrLowEV, "re-verified profit %.2f below %.1fx threshold", opp.ExpectedProfitUsd, MinProfitMultiplier)
	}
	if opp.Confidence < minConfidence {
		return arbengine.NewExecError(arbengine.ErrLowEV, "re-verified confidence %.2f below threshold", opp.Confidence)
	}
	return nil
}

// ShapeGas fetches and validates current gas pricing via the gas oracle
// (C6), returning a typed ExecError on a detected spike.
func (b *Base) ShapeGas(ctx context.Context, chain string, now time.Time) (*gasoracle.ShapedTx, *arbengine.ExecError) {
	backend, ok := b.Chains.FeeBackend(chain)
	if !ok {
		return nil, arbengine.NewExecError(arbengine.ErrNoChain, "no fee backend for chain %s", chain)
	}
	shaped, err := b.GasOracle.CheckAndShape(ctx, chain, backend, now)
	if err != nil {
		if spikeErr, isSpike := err.(*gasoracle.SpikeError); isSpike {
			return nil, arbengine.NewExecError(arbengine.ErrGasSpike, "%s", spikeErr.Error())
		}
		return nil, arbengine.NewExecError(arbengine.ErrExecution, "gas shaping failed: %v", err)
	}
	return shaped, nil
}

// AllocateNonce wraps the nonce manager's Allocate for a chain.
func (b *Base) AllocateNonce(ctx context.Context, chain string) (uint64, *arbengine.ExecError) {
	n, err := b.Nonces.Allocate(ctx, chain)
	if err != nil {
		return 0, arbengine.NewExecError(arbengine.ErrNonce, "allocate nonce on %s: %v", chain, err)
	}
	return n, nil
}

// SubmitAndConfirm broadcasts tx and waits for its receipt, releasing (on
// failure) or confirming (on success) the allocated nonce.
func (b *Base) SubmitAndConfirm(ctx context.Context, chain string, n uint64, tx *ethtypes.Transaction) (*ethtypes.Receipt, *arbengine.ExecError) {
	receipt, err := b.Submitter.SubmitAndWait(ctx, chain, tx)
	if err != nil {
		b.Nonces.Fail(chain, n, err.Error())
		return nil, arbengine.NewExecError(arbengine.ErrExecution, "submit/confirm failed: %v", err)
	}
	b.Nonces.Confirm(chain, n, tx.Hash().Hex())
	return receipt, nil
}

// ActualProfit computes realized profit from a receipt against the
// expected gross, net of the gas actually spent. Strategies that can
// observe exact output amounts should override this with an exact figure;
// this is the fallback used when only gas accounting is available.
func ActualProfit(expectedGrossWei *big.Int, receipt *ethtypes.Receipt, effectiveGasPriceWei *big.Int) *big.Int {
	if expectedGrossWei == nil || receipt == nil || effectiveGasPriceWei == nil {
		return big.NewInt(0)
	}
	gasCost := new(big.Int).Mul(effectiveGasPriceWei, new(big.Int).SetUint64(receipt.GasUsed))
	return new(big.Int).Sub(expectedGrossWei, gasCost)
}

// successResult and failureResult are the two terminal-result constructors
// every strategy funnels through, so the wire shape stays consistent.
func successResult(opp *arbengine.Opportunity, txHash string, actualProfit *big.Int, gasUsed uint64, gasCost *big.Int, now time.Time) *arbengine.ExecutionResult {
	return &arbengine.ExecutionResult{
		OpportunityID: opp.ID, Success: true, TransactionHash: txHash,
		ActualProfit: actualProfit, GasUsed: gasUsed, GasCost: gasCost,
		TimestampMs: now.UnixMilli(), Chain: opp.BuyChain, Dex: opp.BuyDex,
	}
}

func failureResult(opp *arbengine.Opportunity, execErr *arbengine.ExecError, now time.Time) *arbengine.ExecutionResult {
	return &arbengine.ExecutionResult{
		OpportunityID: opp.ID, Success: false, Error: execErr,
		TimestampMs: now.UnixMilli(), Chain: opp.BuyChain, Dex: opp.BuyDex,
	}
}
