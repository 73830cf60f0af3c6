package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/duneflow/arbengine/internal/gasoracle"
	"github.com/duneflow/arbengine/internal/providerpool"
	"github.com/duneflow/arbengine/internal/strategy"
	"github.com/duneflow/arbengine/pkg/txlistener"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainAccess adapts providerpool.Pool to strategy.ChainAccess, translating
// the pool's common.Address wallet identity into the string form the
// strategy package's Wallet carries.
type ChainAccess struct {
	pool *providerpool.Pool
}

// NewChainAccess builds a ChainAccess over pool.
func NewChainAccess(pool *providerpool.Pool) *ChainAccess {
	return &ChainAccess{pool: pool}
}

func (c *ChainAccess) WalletFor(chain string) (strategy.Wallet, bool) {
	w, ok := c.pool.WalletFor(chain)
	if !ok {
		return strategy.Wallet{}, false
	}
	return strategy.Wallet{Address: w.Address.Hex(), PrivateKey: w.PrivateKey}, true
}

func (c *ChainAccess) FeeBackend(chain string) (gasoracle.FeeBackend, bool) {
	client, ok := c.pool.Get(chain)
	if !ok {
		return nil, false
	}
	return client, true
}

// ChainNonceSource adapts providerpool.Pool to nonce.ChainNonceSource,
// seeding each chain's counter from the bound wallet's on-chain pending
// nonce the first time that chain is allocated from.
type ChainNonceSource struct {
	pool *providerpool.Pool
}

// NewChainNonceSource builds a ChainNonceSource over pool.
func NewChainNonceSource(pool *providerpool.Pool) *ChainNonceSource {
	return &ChainNonceSource{pool: pool}
}

func (s *ChainNonceSource) PendingNonceAt(ctx context.Context, chain string) (uint64, error) {
	wallet, ok := s.pool.WalletFor(chain)
	if !ok {
		return 0, fmt.Errorf("no wallet bound for chain %s", chain)
	}
	client, ok := s.pool.Get(chain)
	if !ok {
		return 0, fmt.Errorf("no rpc client for chain %s", chain)
	}
	return client.PendingNonceAt(ctx, wallet.Address)
}

// TxSubmitter signs, broadcasts, and polls for a transaction's receipt:
// the "submit-and-wait with timeout" base capability every strategy
// builds on. Signs locally with the pool's bound wallet key rather than
// delegating to a remote signer.
type TxSubmitter struct {
	pool         *providerpool.Pool
	chainIDs     map[string]*big.Int
	pollInterval time.Duration
}

// DefaultReceiptPollInterval is how often TxSubmitter re-checks for a mined
// receipt while SubmitAndWait blocks. DefaultReceiptTimeout bounds how long
// it waits before giving up on a broadcast transaction never mining.
const (
	DefaultReceiptPollInterval = 500 * time.Millisecond
	DefaultReceiptTimeout      = 2 * time.Minute
)

// NewTxSubmitter builds a TxSubmitter over pool, signing with the chain IDs
// given in chainIDs.
func NewTxSubmitter(pool *providerpool.Pool, chainIDs map[string]*big.Int) *TxSubmitter {
	return &TxSubmitter{pool: pool, chainIDs: chainIDs, pollInterval: DefaultReceiptPollInterval}
}

func (s *TxSubmitter) SubmitAndWait(ctx context.Context, chain string, tx *types.Transaction) (*types.Receipt, error) {
	wallet, ok := s.pool.WalletFor(chain)
	if !ok {
		return nil, fmt.Errorf("no wallet bound for chain %s", chain)
	}
	chainID, ok := s.chainIDs[chain]
	if !ok {
		return nil, fmt.Errorf("no chain id configured for chain %s", chain)
	}
	client, ok := s.pool.Get(chain)
	if !ok {
		return nil, fmt.Errorf("no rpc client for chain %s", chain)
	}

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, wallet.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("broadcast transaction: %w", err)
	}

	listener := txlistener.NewTxListener(client, txlistener.WithPollInterval(s.pollInterval), txlistener.WithTimeout(DefaultReceiptTimeout))
	receipt, err := listener.WaitForReceipt(ctx, signedTx.Hash())
	if err != nil {
		return nil, fmt.Errorf("wait for receipt: %w", err)
	}
	return receipt, nil
}
