package strategy

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// DexRegistry answers version/address questions the strategies need about
// a configured DEX (spec §6's "DEX registry (name, factoryAddress,
// routerAddress, feeBps, version-tag)").
type DexRegistry interface {
	RouterAddress(chain, dex string) (ethcommon.Address, bool)
	IsV3(chain, dex string) bool
	FeeBps(chain, dex string) uint32
}

// AllowanceChecker reports and raises ERC-20 allowances, used by the
// intra-chain strategy's pre-flight approval check.
type AllowanceChecker interface {
	Allowance(ctx context.Context, chain, token, owner, spender string) (*big.Int, error)
	BuildApproveTx(ctx context.Context, chain, token, spender string, amount *big.Int) ([]byte, error)
}

// RouterAllowlist gates which router addresses the flash-loan strategy is
// permitted to call per chain (spec §4.11 flash-loan: "Validates
// routers against an allowlist per chain").
type RouterAllowlist interface {
	IsAllowed(chain string, router ethcommon.Address) bool
}

// FlashLoanProviderTable supplies the per-chain flash-loan provider fee
// (spec §6's "flash-loan provider table (chain -> {protocol, poolAddress,
// feeBps})"). AaveV3FeeBps is the default fee used when no override exists.
const AaveV3FeeBps = 9

type FlashLoanProviderTable interface {
	FeeBps(chain string) (bps int64, ok bool)
	PoolAddress(chain string) (ethcommon.Address, bool)
}

// SwapStep mirrors the on-chain `SwapStep{router, tokenIn, tokenOut,
// amountOutMin}` struct the flash-loan strategy's executeArbitrage calldata
// encodes (spec §4.11).
type SwapStep struct {
	Router       ethcommon.Address
	TokenIn      ethcommon.Address
	TokenOut     ethcommon.Address
	AmountOutMin *big.Int
}
