package strategy

import (
	"context"
	"math/big"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/internal/bridge"
	"github.com/duneflow/arbengine/internal/journal"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// BridgePoller abstracts polling a bridge transfer to completion, so tests
// can inject a fast/deterministic poll loop.
type BridgePoller interface {
	PollUntilTerminal(ctx context.Context, adapter bridge.Adapter, bridgeID string, deadline time.Time) (*bridge.StatusResult, error)
}

// CrossChainStrategy executes a buy-on-source/sell-on-destination arbitrage
// bridged via C13 (spec §4.11 "Cross-chain"). It persists a
// BridgeRecoveryRecord before any source-chain broadcast. Records left
// pending or bridging by a crash stay in the journal; nothing resumes
// polling them after a restart, and startup reconciliation only removes
// records older than journal.MaxAge.
type CrossChainStrategy struct {
	Base
	Router        *bridge.Router
	Journal       *journal.Journal
	Poller        BridgePoller
	Registry      DexRegistry
	MinConfidence float64
	MinProfitUsd  float64
	BridgeDeadline time.Duration
	Now           func() time.Time
}

func (s *CrossChainStrategy) Name() string { return NameCrossChain }

func (s *CrossChainStrategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CrossChainStrategy) deadline() time.Duration {
	if s.BridgeDeadline > 0 {
		return s.BridgeDeadline
	}
	return 10 * time.Minute
}

// Execute implements Strategy.
func (s *CrossChainStrategy) Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	now := s.now()

	if !opp.IsCrossChain() {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "cross-chain strategy received intra-chain opportunity %s", opp.ID), now)
	}
	if execErr := s.ReverifyPrice(opp, now, s.MinConfidence, s.MinProfitUsd); execErr != nil {
		return failureResult(opp, execErr, now)
	}
	if _, ok := s.Chains.WalletFor(opp.BuyChain); !ok {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrNoChain, "no wallet for source chain %s", opp.BuyChain), now)
	}
	if _, ok := s.Chains.WalletFor(opp.SellChain); !ok {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrNoChain, "no wallet for dest chain %s", opp.SellChain), now)
	}

	amountIn, ok := opp.AmountInWei()
	if !ok {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "invalid amountIn for %s", opp.ID), now)
	}

	adapter, ok := s.Router.SelectRoute(opp.BuyChain, opp.SellChain)
	if !ok {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrBridgeFailed, "no bridge route %s->%s", opp.BuyChain, opp.SellChain), now)
	}

	quote, feeUsd, err := s.Router.QuoteUSD(ctx, adapter, opp.BuyChain, opp.SellChain, opp.TokenIn, amountIn)
	if err != nil {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrBridgeFailed, "quote failed: %v", err), now)
	}
	if quote == nil || !quote.Valid || bridge.IsQuoteExpired(quote, now) {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrQuoteExpired, "bridge quote invalid or expired for %s", opp.ID), now)
	}
	if feeUsd >= 0.5*opp.ExpectedProfitUsd {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrBridgeFailed, "bridge fee $%.2f too high vs profit $%.2f", feeUsd, opp.ExpectedProfitUsd), now)
	}

	rec := &journal.Record{
		OpportunityID: opp.ID, SourceChain: opp.BuyChain, DestChain: opp.SellChain,
		BridgeToken: opp.TokenIn, BridgeAmount: amountIn.String(), SellDex: opp.SellDex,
		ExpectedProfit: opp.ExpectedProfitUsd, TokenIn: opp.TokenIn, TokenOut: opp.TokenOut,
		InitiatedAt: now, BridgeProtocol: adapter.Protocol(), Status: journal.StatusPending,
	}
	if err := s.Journal.Write(rec); err != nil {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "persist recovery record: %v", err), now)
	}

	execResult, err := adapter.Execute(ctx, opp.BuyChain, opp.SellChain, opp.TokenIn, amountIn)
	if err != nil || execResult == nil || !execResult.Success {
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, errString(err))
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrBridgeFailed, "source leg submission failed: %v", err), now)
	}
	rec.BridgeID = execResult.BridgeID
	rec.SourceTxHash = execResult.SourceTxHash
	if err := s.Journal.UpdateStatus(opp.ID, journal.StatusBridging, now, ""); err != nil && s.Log != nil {
		s.Log.Warnw("failed to mark recovery record bridging", "opportunity", opp.ID, "error", err)
	}

	status, err := s.Poller.PollUntilTerminal(ctx, adapter, execResult.BridgeID, now.Add(s.deadline()))
	if err != nil || status == nil {
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, errString(err))
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrBridgeFailed, "bridge poll failed: %v", err), now)
	}

	switch status.Status {
	case bridge.StatusCompleted:
		return s.executeDestinationSell(ctx, opp, now)
	case bridge.StatusFailed, bridge.StatusRefunded:
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, status.Error)
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrBridgeFailed, "bridge transfer %s: %s", status.Status, status.Error), now)
	default:
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, "poll deadline exceeded without terminal status")
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrTimeout, "bridge transfer %s still %s at deadline", opp.ID, status.Status), now)
	}
}

// executeDestinationSell submits the destination-chain sell leg once the
// bridged funds have arrived, gated by the gas oracle the same way the
// intra-chain strategy is.
func (s *CrossChainStrategy) executeDestinationSell(ctx context.Context, opp *arbengine.Opportunity, now time.Time) *arbengine.ExecutionResult {
	shaped, execErr := s.ShapeGas(ctx, opp.SellChain, now)
	if execErr != nil {
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, execErr.Error())
		return failureResult(opp, execErr, now)
	}

	router, ok := s.Registry.RouterAddress(opp.SellChain, opp.SellDex)
	if !ok {
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, "no sell-chain router configured")
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrNoChain, "no router for %s/%s", opp.SellChain, opp.SellDex), now)
	}

	n, execErr := s.AllocateNonce(ctx, opp.SellChain)
	if execErr != nil {
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, execErr.Error())
		return failureResult(opp, execErr, now)
	}

	buildSellTx := func(gasLimit uint64) *ethtypes.Transaction {
		if shaped.UseDynamicFee {
			return ethtypes.NewTx(&ethtypes.DynamicFeeTx{Nonce: n, To: &router, Value: big.NewInt(0), Gas: gasLimit, GasFeeCap: shaped.MaxFeePerGas, GasTipCap: shaped.MaxPriorityFeePerGas})
		}
		return ethtypes.NewTransaction(n, router, big.NewInt(0), gasLimit, shaped.GasPrice, nil)
	}

	gasLimit := estimatedGasLimit(false)
	provisionalTx := buildSellTx(gasLimit)
	if rawTx, err := provisionalTx.MarshalBinary(); err == nil {
		simResult, simErr := s.CheckSimulation(ctx, opp, rawTx, now)
		if simErr != nil {
			s.Nonces.Fail(opp.SellChain, n, simErr.Error())
			_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, simErr.Error())
			return failureResult(opp, simErr, now)
		}
		if simResult != nil && simResult.GasUsed > 0 {
			gasLimit = applyGasLimitMultiplier(simResult.GasUsed)
		}
	}
	tx := buildSellTx(gasLimit)

	receipt, execErr := s.SubmitAndConfirm(ctx, opp.SellChain, n, tx)
	if execErr != nil {
		_ = s.Journal.UpdateStatus(opp.ID, journal.StatusFailed, now, execErr.Error())
		return failureResult(opp, execErr, now)
	}

	_ = s.Journal.UpdateStatus(opp.ID, journal.StatusRecovered, now, "")
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), tx.GasPrice())
	return successResult(opp, receipt.TxHash.Hex(), big.NewInt(int64(opp.ExpectedProfitUsd)), receipt.GasUsed, gasCost, now)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
