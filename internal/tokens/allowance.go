// Package tokens implements the ERC-20 allowance/approve surface the
// intra-chain strategy needs before a swap (spec §4.11's pre-flight
// approval check). Grounded on pkg/contractclient's Call/Send wrapper
// around the same Backend every strategy already reaches through the
// provider pool.
package tokens

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/duneflow/arbengine/internal/providerpool"
	"github.com/duneflow/arbengine/pkg/contractclient"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// AllowanceChecker implements strategy.AllowanceChecker against the real
// chain via the provider pool's per-chain RPC client.
type AllowanceChecker struct {
	pool *providerpool.Pool
	abi  abi.ABI
}

// New parses the minimal ERC-20 ABI once and binds it to pool.
func New(pool *providerpool.Pool) (*AllowanceChecker, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &AllowanceChecker{pool: pool, abi: parsed}, nil
}

// Allowance reports the current ERC-20 allowance owner has granted spender
// for token on chain.
func (a *AllowanceChecker) Allowance(ctx context.Context, chain, token, owner, spender string) (*big.Int, error) {
	backend, ok := a.pool.Get(chain)
	if !ok {
		return nil, fmt.Errorf("no rpc client for chain %s", chain)
	}
	cc := contractclient.NewContractClient(backend, common.HexToAddress(token), a.abi)
	ownerAddr := common.HexToAddress(owner)
	out, err := cc.Call(&ownerAddr, "allowance", ownerAddr, common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("allowance(%s,%s) on %s: %w", owner, spender, token, err)
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance return type for %s", token)
	}
	return allowance, nil
}

// BuildApproveTx returns the raw calldata for an `approve(spender, amount)`
// call, for the caller to wrap into a signed transaction alongside the
// swap itself.
func (a *AllowanceChecker) BuildApproveTx(ctx context.Context, chain, token, spender string, amount *big.Int) ([]byte, error) {
	data, err := a.abi.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve calldata: %w", err)
	}
	return data, nil
}
