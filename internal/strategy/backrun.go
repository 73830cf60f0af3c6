package strategy

import (
	"context"
	"math/big"
	"time"

	"github.com/duneflow/arbengine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// BackrunMaxAge, BackrunDefaultSlippageBps and BackrunDefaultMevSharePct are
// the §4.11 "Backrun" defaults.
const (
	BackrunMaxAge             = 2 * time.Second
	BackrunDefaultSlippageBps = 100
	BackrunDefaultMevSharePct = 50
)

// KnownDexRegistry answers whether a router address belongs to a
// recognized DEX, independent of the chain/dex-name DexRegistry (the
// backrun strategy only ever sees a raw router address from the victim tx).
type KnownDexRegistry interface {
	IsKnownRouter(chain string, router ethcommon.Address) bool
}

// BackrunStrategy mirrors a victim swap on Ethereum only (spec §4.11
// "Backrun"): rejects stale/low-profit/high-gas opportunities, validates
// the target router, and submits a reverse V2 swap with slippage.
type BackrunStrategy struct {
	Base
	KnownDexes     KnownDexRegistry
	MaxGasPriceWei *big.Int
	MinProfitUsd   float64
	SlippageBps    int64
	MevSharePct    float64
	Now            func() time.Time
}

func (s *BackrunStrategy) Name() string { return NameBackrun }

func (s *BackrunStrategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *BackrunStrategy) slippageBps() int64 {
	if s.SlippageBps > 0 {
		return s.SlippageBps
	}
	return BackrunDefaultSlippageBps
}

func (s *BackrunStrategy) mevSharePct() float64 {
	if s.MevSharePct > 0 {
		return s.MevSharePct
	}
	return BackrunDefaultMevSharePct
}

// Execute implements Strategy.
func (s *BackrunStrategy) Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	now := s.now()

	if opp.BuyChain != "ethereum" {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "backrun requires ethereum, got %s", opp.BuyChain), now)
	}
	if opp.Age(now) > BackrunMaxAge {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrQuoteExpired, "backrun opportunity %s aged out (>%s)", opp.ID, BackrunMaxAge), now)
	}
	if opp.ExpectedProfitUsd < s.MinProfitUsd {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrLowEV, "backrun profit %.2f below minimum %.2f", opp.ExpectedProfitUsd, s.MinProfitUsd), now)
	}
	if opp.BackrunTarget == nil {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "backrun opportunity %s missing target", opp.ID), now)
	}

	router := ethcommon.HexToAddress(opp.BackrunTarget.RouterAddress)
	if s.KnownDexes != nil && !s.KnownDexes.IsKnownRouter(opp.BuyChain, router) {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrAllowlist, "backrun target router %s unknown", router.Hex()), now)
	}

	shaped, execErr := s.ShapeGas(ctx, opp.BuyChain, now)
	if execErr != nil {
		return failureResult(opp, execErr, now)
	}
	gasPrice := shaped.GasPrice
	if shaped.UseDynamicFee {
		gasPrice = shaped.MaxFeePerGas
	}
	if s.MaxGasPriceWei != nil && gasPrice != nil && gasPrice.Cmp(s.MaxGasPriceWei) > 0 {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrHighFees, "backrun gas price %s exceeds max %s", gasPrice, s.MaxGasPriceWei), now)
	}

	amountIn, ok := opp.AmountInWei()
	if !ok {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "invalid amountIn for %s", opp.ID), now)
	}
	minOut := minOutWithSlippage(amountIn, s.slippageBps())
	data := encodeReverseSwap(opp, amountIn, minOut)

	n, execErr := s.AllocateNonce(ctx, opp.BuyChain)
	if execErr != nil {
		return failureResult(opp, execErr, now)
	}

	gasLimit := estimatedGasLimit(false)
	var tx *ethtypes.Transaction
	if shaped.UseDynamicFee {
		tx = ethtypes.NewTx(&ethtypes.DynamicFeeTx{Nonce: n, To: &router, Value: big.NewInt(0), Gas: gasLimit, GasFeeCap: shaped.MaxFeePerGas, GasTipCap: shaped.MaxPriorityFeePerGas, Data: data})
	} else {
		tx = ethtypes.NewTransaction(n, router, big.NewInt(0), gasLimit, shaped.GasPrice, data)
	}

	receipt, execErr := s.SubmitAndConfirm(ctx, opp.BuyChain, n, tx)
	if execErr != nil {
		return failureResult(opp, execErr, now)
	}

	searcherShareUsd := opp.ExpectedProfitUsd * s.mevSharePct() / 100.0
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), tx.GasPrice())
	return successResult(opp, receipt.TxHash.Hex(), big.NewInt(int64(searcherShareUsd)), receipt.GasUsed, gasCost, now)
}

func minOutWithSlippage(amountIn *big.Int, slippageBps int64) *big.Int {
	out := new(big.Int).Mul(amountIn, big.NewInt(10000-slippageBps))
	return out.Div(out, big.NewInt(10000))
}

func encodeReverseSwap(opp *arbengine.Opportunity, amountIn, minOut *big.Int) []byte {
	// Placeholder for the V2 router's swapExactTokensForTokens calldata,
	// reversing the victim's direction (spec §4.11's "reverse V2 swap").
	return append(amountIn.Bytes(), minOut.Bytes()...)
}
