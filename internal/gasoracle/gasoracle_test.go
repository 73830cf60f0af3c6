package gasoracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	gasPrice *big.Int
	tip      *big.Int
	tipErr   error
	baseFee  *big.Int
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if f.tipErr != nil {
		return nil, f.tipErr
	}
	return f.tip, nil
}
func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{BaseFee: f.baseFee}, nil
}

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)) }

func TestBaseline_UsesOneAndHalfMeanUnderThreeSamples(t *testing.T) {
	o := New(0)
	now := time.Now()
	o.Observe("ethereum", gwei(10), now)
	o.Observe("ethereum", gwei(20), now)

	baseline := o.Baseline("ethereum")
	require.Equal(t, big.NewInt(22_500_000_000), baseline) // mean=15 gwei, *1.5=22.5 gwei, exact in wei
}

func TestBaseline_UsesMedianAtThreeOrMoreSamples(t *testing.T) {
	o := New(0)
	now := time.Now()
	o.Observe("ethereum", gwei(10), now)
	o.Observe("ethereum", gwei(30), now)
	o.Observe("ethereum", gwei(20), now)

	require.Equal(t, gwei(20), o.Baseline("ethereum"))
}

func TestCheckAndShape_SpikeAborts(t *testing.T) {
	o := New(2.0)
	now := time.Now()
	o.Observe("ethereum", gwei(10), now)
	o.Observe("ethereum", gwei(10), now)
	o.Observe("ethereum", gwei(10), now) // baseline = 10 gwei

	backend := &fakeBackend{gasPrice: gwei(21)} // > baseline*2
	_, err := o.CheckAndShape(context.Background(), "ethereum", backend, now)
	require.Error(t, err)
	var spikeErr *SpikeError
	require.ErrorAs(t, err, &spikeErr)
}

func TestCheckAndShape_ExactlyAtMultiplierPasses(t *testing.T) {
	o := New(2.0)
	now := time.Now()
	o.Observe("ethereum", gwei(10), now)
	o.Observe("ethereum", gwei(10), now)
	o.Observe("ethereum", gwei(10), now)

	backend := &fakeBackend{gasPrice: gwei(20), tip: gwei(1), baseFee: gwei(5)}
	shaped, err := o.CheckAndShape(context.Background(), "ethereum", backend, now)
	require.NoError(t, err)
	require.True(t, shaped.UseDynamicFee)
}

func TestCheckAndShape_TipCappedAtThreeGwei(t *testing.T) {
	o := New(2.0)
	backend := &fakeBackend{gasPrice: gwei(10), tip: gwei(10), baseFee: gwei(5)}
	shaped, err := o.CheckAndShape(context.Background(), "ethereum", backend, time.Now())
	require.NoError(t, err)
	require.Equal(t, DefaultPriorityTipCapWei, shaped.MaxPriorityFeePerGas)
}

func TestCheckAndShape_FallsBackToLegacyWithoutEIP1559(t *testing.T) {
	o := New(2.0)
	backend := &fakeBackend{gasPrice: gwei(10), tipErr: context.DeadlineExceeded}
	shaped, err := o.CheckAndShape(context.Background(), "ethereum", backend, time.Now())
	require.NoError(t, err)
	require.False(t, shaped.UseDynamicFee)
	require.Equal(t, gwei(10), shaped.GasPrice)
}

func TestObserve_EvictsByCountAndAge(t *testing.T) {
	o := New(0)
	base := time.Now()
	for i := 0; i < MaxHistoryEntries+10; i++ {
		o.Observe("ethereum", gwei(1), base.Add(time.Duration(i)*time.Second))
	}
	h := o.historyFor("ethereum")
	require.LessOrEqual(t, len(*h.entries.Load()), MaxHistoryEntries)
}

func TestReset_ClearsHistory(t *testing.T) {
	o := New(0)
	o.Observe("ethereum", gwei(10), time.Now())
	require.NotNil(t, o.Baseline("ethereum"))
	o.Reset("ethereum")
	require.Nil(t, o.Baseline("ethereum"))
}
