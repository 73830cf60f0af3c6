package strategy

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/internal/gasoracle"
	"github.com/duneflow/arbengine/internal/nonce"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeNonceSource struct{}

func (fakeNonceSource) PendingNonceAt(ctx context.Context, chain string) (uint64, error) {
	return 0, nil
}

type fakeChainAccess struct {
	wallets map[string]Wallet
	feeBackends map[string]gasoracle.FeeBackend
}

func (f *fakeChainAccess) WalletFor(chain string) (Wallet, bool) {
	w, ok := f.wallets[chain]
	return w, ok
}
func (f *fakeChainAccess) FeeBackend(chain string) (gasoracle.FeeBackend, bool) {
	b, ok := f.feeBackends[chain]
	return b, ok
}

type fakeFeeBackend struct {
	gasPrice *big.Int
}

func (f *fakeFeeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f *fakeFeeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return nil, errNoTipCap
}
func (f *fakeFeeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{}, nil
}

var errNoTipCap = &fakeErr{"no tip cap"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

type fakeSubmitter struct {
	receipt *ethtypes.Receipt
	err     error
}

func (f *fakeSubmitter) SubmitAndWait(ctx context.Context, chain string, tx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.receipt, nil
}

type fakeKnownDex struct{ known bool }

func (f fakeKnownDex) IsKnownRouter(chain string, router ethcommon.Address) bool { return f.known }

func newBackrunStrategy(now time.Time, gasPrice *big.Int, known bool, submitErr error) *BackrunStrategy {
	chains := &fakeChainAccess{
		wallets:     map[string]Wallet{"ethereum": {Address: "0xabc"}},
		feeBackends: map[string]gasoracle.FeeBackend{"ethereum": &fakeFeeBackend{gasPrice: gasPrice}},
	}
	receipt := &ethtypes.Receipt{GasUsed: 21000, TxHash: ethcommon.HexToHash("0x01")}
	return &BackrunStrategy{
		Base: Base{
			Chains: chains, Nonces: nonce.New(fakeNonceSource{}, 10, time.Minute),
			GasOracle: gasoracle.New(2.0), Submitter: &fakeSubmitter{receipt: receipt, err: submitErr},
		},
		KnownDexes:   fakeKnownDex{known: known},
		MinProfitUsd: 10,
		Now:          func() time.Time { return now },
	}
}

func validBackrunOpp(now time.Time) *arbengine.Opportunity {
	return &arbengine.Opportunity{
		ID: "o1", BuyChain: "ethereum", TokenIn: "WETH", TokenOut: "USDC",
		AmountIn: "1000000000000000000", ExpectedProfitUsd: 100, Confidence: 0.9,
		TimestampMs: now.UnixMilli(),
		BackrunTarget: &arbengine.BackrunTarget{RouterAddress: "0x0000000000000000000000000000000000001234"},
	}
}

func TestBackrun_RejectsNonEthereum(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newBackrunStrategy(now, big.NewInt(1), true, nil)
	opp := validBackrunOpp(now)
	opp.BuyChain = "arbitrum"

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
}

func TestBackrun_RejectsStale(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newBackrunStrategy(now, big.NewInt(1), true, nil)
	opp := validBackrunOpp(now.Add(-time.Hour))

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrQuoteExpired, result.Error.Code)
}

func TestBackrun_RejectsUnknownRouter(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newBackrunStrategy(now, big.NewInt(1), false, nil)
	opp := validBackrunOpp(now)

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrAllowlist, result.Error.Code)
}

func TestBackrun_RejectsHighGas(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newBackrunStrategy(now, big.NewInt(100), true, nil)
	s.MaxGasPriceWei = big.NewInt(50)
	opp := validBackrunOpp(now)

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrHighFees, result.Error.Code)
}

func TestBackrun_SucceedsAndAppliesMevShare(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newBackrunStrategy(now, big.NewInt(1), true, nil)
	s.MevSharePct = 50
	opp := validBackrunOpp(now)

	result := s.Execute(context.Background(), opp)
	require.True(t, result.Success)
	require.Equal(t, int64(50), result.ActualProfit.Int64())
}

func TestBackrun_SubmitFailurePropagates(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newBackrunStrategy(now, big.NewInt(1), true, &fakeErr{"broadcast failed"})
	opp := validBackrunOpp(now)

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrExecution, result.Error.Code)
}
