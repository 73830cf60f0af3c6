// Package gasoracle maintains a rolling per-chain fee-data history, detects
// gas-price spikes, and shapes transactions for EIP-1559 MEV protection, per
// spec §4.6. Grounded on blackhole.go's direct ethclient.SuggestGasPrice /
// SuggestGasTipCap call sites, generalized into a baseline-tracking service
// with the snapshot-pointer design spec §9 calls for (gas baseline clearing
// on reconnect replaces the pointer rather than mutating in place).
package gasoracle

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// MaxHistoryEntries and MaxHistoryAge bound the per-chain baseline history
// (spec §3: "≤100 entries, ≤5 minutes").
const (
	MaxHistoryEntries = 100
	MaxHistoryAge      = 5 * time.Minute
)

// DefaultSpikeMultiplier is the factor over baseline that trips GAS_SPIKE.
const DefaultSpikeMultiplier = 2.0

// DefaultPriorityTipCapWei caps the EIP-1559 priority tip at 3 gwei, per
// spec §4.6, to avoid over-tipping miners/validators.
var DefaultPriorityTipCapWei = big.NewInt(3_000_000_000)

// Entry mirrors spec §3's GasBaselineEntry.
type Entry struct {
	PriceWei  *big.Int
	Timestamp time.Time
}

// FeeData is what a backend reports for a chain's current fee market.
type FeeData struct {
	GasPrice             *big.Int // legacy
	BaseFee              *big.Int // EIP-1559, may be nil pre-London
	SuggestedTip          *big.Int // EIP-1559, may be nil if unsupported
}

// FeeBackend is the subset of an ethclient.Client the oracle needs.
type FeeBackend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
}

// ShapedTx is the gas pricing to apply to an outgoing transaction.
type ShapedTx struct {
	UseDynamicFee     bool
	GasPrice          *big.Int // legacy path
	MaxFeePerGas      *big.Int // EIP-1559 path
	MaxPriorityFeePerGas *big.Int
}

// SpikeError signals the current fee exceeds baseline*spikeMultiplier.
type SpikeError struct {
	Chain     string
	Current   *big.Int
	Baseline  *big.Int
	Multiplier float64
}

func (e *SpikeError) Error() string {
	return fmt.Sprintf("[ERR_GAS_SPIKE] chain %s current %s exceeds baseline %s x%.2f", e.Chain, e.Current, e.Baseline, e.Multiplier)
}

type chainHistory struct {
	entries atomic.Pointer[[]Entry]
}

// Oracle fetches fee data, maintains rolling baselines, detects spikes, and
// shapes outgoing transactions.
type Oracle struct {
	spikeMultiplier float64

	mu      sync.Mutex
	history map[string]*chainHistory
}

// New builds an Oracle. spikeMultiplier defaults to 2.0 when <= 0.
func New(spikeMultiplier float64) *Oracle {
	if spikeMultiplier <= 0 {
		spikeMultiplier = DefaultSpikeMultiplier
	}
	return &Oracle{spikeMultiplier: spikeMultiplier, history: make(map[string]*chainHistory)}
}

func (o *Oracle) historyFor(chain string) *chainHistory {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.history[chain]
	if !ok {
		h = &chainHistory{}
		empty := []Entry{}
		h.entries.Store(&empty)
		o.history[chain] = h
	}
	return h
}

// Baseline computes the current baseline per spec §4.6: median when >=3
// samples exist, 1.5x mean otherwise. Returns nil if no samples exist yet.
func (o *Oracle) Baseline(chain string) *big.Int {
	h := o.historyFor(chain)
	entries := *h.entries.Load()
	if len(entries) == 0 {
		return nil
	}
	if len(entries) >= 3 {
		return median(entries)
	}
	mean := meanOf(entries)
	return new(big.Int).Div(new(big.Int).Mul(mean, big.NewInt(3)), big.NewInt(2))
}

// Observe appends a fetched price sample to chain's history, evicting by age
// and count, then atomically swaps the snapshot pointer (spec §9: snapshot
// pointer replace, not in-place mutation).
func (o *Oracle) Observe(chain string, priceWei *big.Int, at time.Time) {
	h := o.historyFor(chain)
	prior := *h.entries.Load()

	cutoff := at.Add(-MaxHistoryAge)
	next := make([]Entry, 0, len(prior)+1)
	for _, e := range prior {
		if e.Timestamp.After(cutoff) {
			next = append(next, e)
		}
	}
	next = append(next, Entry{PriceWei: priceWei, Timestamp: at})
	if len(next) > MaxHistoryEntries {
		next = next[len(next)-MaxHistoryEntries:]
	}
	h.entries.Store(&next)
}

// Reset clears chain's history (called on provider reconnect, per spec §9).
func (o *Oracle) Reset(chain string) {
	h := o.historyFor(chain)
	empty := []Entry{}
	h.entries.Store(&empty)
}

// CheckAndShape fetches current fee data, records it in the baseline, checks
// for a spike, and returns a shaped transaction's gas fields. Returns
// *SpikeError (wrapped) when current exceeds baseline*spikeMultiplier.
func (o *Oracle) CheckAndShape(ctx context.Context, chain string, backend FeeBackend, now time.Time) (*ShapedTx, error) {
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	baseline := o.Baseline(chain)
	o.Observe(chain, gasPrice, now)

	if baseline != nil {
		threshold := new(big.Int).Mul(baseline, big.NewInt(int64(o.spikeMultiplier*100)))
		threshold.Div(threshold, big.NewInt(100))
		if gasPrice.Cmp(threshold) > 0 {
			return nil, &SpikeError{Chain: chain, Current: gasPrice, Baseline: baseline, Multiplier: o.spikeMultiplier}
		}
	}

	tip, tipErr := backend.SuggestGasTipCap(ctx)
	if tipErr != nil {
		// Pre-London chain or RPC without EIP-1559 support: fall back to legacy.
		return &ShapedTx{UseDynamicFee: false, GasPrice: gasPrice}, nil
	}

	if tip.Cmp(DefaultPriorityTipCapWei) > 0 {
		tip = new(big.Int).Set(DefaultPriorityTipCapWei)
	}

	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		return &ShapedTx{UseDynamicFee: false, GasPrice: gasPrice}, nil
	}

	feeCap := new(big.Int).Add(baseFee, baseFee)
	feeCap.Add(feeCap, tip)
	return &ShapedTx{UseDynamicFee: true, MaxFeePerGas: feeCap, MaxPriorityFeePerGas: tip}, nil
}

func median(entries []Entry) *big.Int {
	sorted := make([]*big.Int, len(entries))
	for i, e := range entries {
		sorted[i] = e.PriceWei
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Int).Set(sorted[mid])
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return sum.Div(sum, big.NewInt(2))
}

func meanOf(entries []Entry) *big.Int {
	sum := big.NewInt(0)
	for _, e := range entries {
		sum.Add(sum, e.PriceWei)
	}
	return sum.Div(sum, big.NewInt(int64(len(entries))))
}
