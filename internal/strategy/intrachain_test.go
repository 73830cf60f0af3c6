package strategy

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/internal/gasoracle"
	"github.com/duneflow/arbengine/internal/nonce"
	"github.com/duneflow/arbengine/internal/simulator"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeForkProvider struct {
	wouldRevert  bool
	revertReason string
	gasUsed      uint64
}

func (f *fakeForkProvider) Name() string { return "fake-fork" }
func (f *fakeForkProvider) Simulate(ctx context.Context, chain string, rawTx []byte) (bool, string, uint64, error) {
	return f.wouldRevert, f.revertReason, f.gasUsed, nil
}

// capturingSubmitter records the last transaction handed to SubmitAndWait so
// tests can assert on the gas limit the strategy actually built.
type capturingSubmitter struct {
	receipt *ethtypes.Receipt
	err     error
	lastTx  *ethtypes.Transaction
}

func (c *capturingSubmitter) SubmitAndWait(ctx context.Context, chain string, tx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	c.lastTx = tx
	if c.err != nil {
		return nil, c.err
	}
	return c.receipt, nil
}

type fakeDexRegistry struct {
	routers map[string]ethcommon.Address
	v3      map[string]bool
}

func (r *fakeDexRegistry) RouterAddress(chain, dex string) (ethcommon.Address, bool) {
	a, ok := r.routers[chain+"/"+dex]
	return a, ok
}
func (r *fakeDexRegistry) IsV3(chain, dex string) bool { return r.v3[chain+"/"+dex] }
func (r *fakeDexRegistry) FeeBps(chain, dex string) uint32 { return 30 }

type fakeAllowanceChecker struct {
	allowance *big.Int
	err       error
}

func (a *fakeAllowanceChecker) Allowance(ctx context.Context, chain, token, owner, spender string) (*big.Int, error) {
	return a.allowance, a.err
}
func (a *fakeAllowanceChecker) BuildApproveTx(ctx context.Context, chain, token, spender string, amount *big.Int) ([]byte, error) {
	return []byte("approve"), nil
}

func newIntraChainStrategy(now time.Time, allowance *big.Int, submitErr error) *IntraChainStrategy {
	chains := &fakeChainAccess{
		wallets:     map[string]Wallet{"ethereum": {Address: "0xabc"}},
		feeBackends: map[string]gasoracle.FeeBackend{"ethereum": &fakeFeeBackend{gasPrice: big.NewInt(1)}},
	}
	receipt := &ethtypes.Receipt{GasUsed: 150000, TxHash: ethcommon.HexToHash("0x02")}
	registry := &fakeDexRegistry{
		routers: map[string]ethcommon.Address{"ethereum/uniswap": ethcommon.HexToAddress("0x01")},
		v3:      map[string]bool{},
	}
	return &IntraChainStrategy{
		Base: Base{
			Chains: chains, Nonces: nonce.New(fakeNonceSource{}, 10, time.Minute),
			GasOracle: gasoracle.New(2.0), Submitter: &fakeSubmitter{receipt: receipt, err: submitErr},
		},
		Registry:      registry,
		Allowance:     &fakeAllowanceChecker{allowance: allowance},
		MinConfidence: 0.5,
		MinProfitUsd:  10,
		Now:           func() time.Time { return now },
	}
}

func validIntraChainOpp(now time.Time) *arbengine.Opportunity {
	return &arbengine.Opportunity{
		ID: "o1", BuyChain: "ethereum", SellChain: "ethereum", BuyDex: "uniswap",
		TokenIn: "WETH", TokenOut: "USDC", AmountIn: "1000000000000000000",
		ExpectedProfitUsd: 100, Confidence: 0.9, TimestampMs: now.UnixMilli(),
	}
}

func TestIntraChain_RejectsCrossChainOpportunity(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(1e30), nil)
	opp := validIntraChainOpp(now)
	opp.SellChain = "arbitrum"

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
}

func TestIntraChain_SufficientAllowanceSkipsApproval(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(1e30), nil)
	opp := validIntraChainOpp(now)

	result := s.Execute(context.Background(), opp)
	require.True(t, result.Success)
	require.Equal(t, uint64(150000), result.GasUsed)
}

func TestIntraChain_InsufficientAllowanceTriggersApprovalThenSwap(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(0), nil)
	opp := validIntraChainOpp(now)

	result := s.Execute(context.Background(), opp)
	require.True(t, result.Success)
}

func TestIntraChain_RejectsStaleOpportunity(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(1e30), nil)
	opp := validIntraChainOpp(now.Add(-time.Minute))

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrQuoteExpired, result.Error.Code)
}

func TestIntraChain_SubmitFailureReleasesNonce(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(1e30), &fakeErr{"broadcast failed"})
	opp := validIntraChainOpp(now)

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrExecution, result.Error.Code)
}

func TestIntraChain_MissingRouterFails(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(1e30), nil)
	opp := validIntraChainOpp(now)
	opp.BuyDex = "unknown-dex"

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
}

func TestIntraChain_SimulationRevertBlocksSubmission(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(1e30), nil)
	s.Base.Simulator = simulator.New(&fakeForkProvider{wouldRevert: true, revertReason: "INSUFFICIENT_OUTPUT"})
	opp := validIntraChainOpp(now)

	result := s.Execute(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrSimulationRevert, result.Error.Code)
}

func TestIntraChain_SimulatedGasDrivesDynamicGasLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newIntraChainStrategy(now, big.NewInt(1e30), nil)
	s.Base.Simulator = simulator.New(&fakeForkProvider{gasUsed: 100000})
	capture := &capturingSubmitter{receipt: &ethtypes.Receipt{GasUsed: 150000, TxHash: ethcommon.HexToHash("0x02")}}
	s.Base.Submitter = capture
	opp := validIntraChainOpp(now)

	result := s.Execute(context.Background(), opp)
	require.True(t, result.Success)
	require.NotNil(t, capture.lastTx)
	require.Equal(t, uint64(115000), capture.lastTx.Gas())
}
