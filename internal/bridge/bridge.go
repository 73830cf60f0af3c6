// Package bridge implements the cross-chain quote/execute/poll adapter of
// spec §4.13, plus the PriceOracle the engine needs to convert a bridge's
// native-token fee into USD (spec §9: the source used a static config value;
// this engine treats it as an injected external price source instead).
// Grounded on jeongkyun-oh-klaytn's node/sc mainbridge/subbridge adapters —
// a chain-pair-keyed router in front of pluggable bridge backends — adapted
// from klaytn's value-transfer bridge to a quote/execute/status adapter.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Status is the closed set of bridge transfer states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInflight Status = "inflight"
	StatusCompleted Status = "completed"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Quote is the result of asking an Adapter for a cross-chain transfer price.
type Quote struct {
	Valid           bool
	EstimatedOutput *big.Int
	TotalFeeNative  *big.Int // in the source chain's native token
	ExpiresAt       time.Time
}

// ExecuteResult is the outcome of submitting a bridge transfer.
type ExecuteResult struct {
	Success      bool
	SourceTxHash string
	BridgeID     string
}

// StatusResult is the outcome of polling a bridge transfer's progress.
type StatusResult struct {
	Status Status
	Error  string
}

// Adapter is one bridge protocol's quote/execute/poll surface (e.g.
// Stargate, LayerZero — concrete implementations are out of scope per
// spec §1 and are supplied by the deployment, not this engine).
type Adapter interface {
	Protocol() string
	IsRouteSupported(sourceChain, destChain string) bool
	Quote(ctx context.Context, sourceChain, destChain, token string, amount *big.Int) (*Quote, error)
	Execute(ctx context.Context, sourceChain, destChain, token string, amount *big.Int) (*ExecuteResult, error)
	GetStatus(ctx context.Context, bridgeID string) (*StatusResult, error)
}

// PriceOracle converts a native-token fee amount into USD. Injected rather
// than configured statically (spec §9 open question resolution).
type PriceOracle interface {
	NativeToUSD(chain string, amountWei *big.Int) (float64, error)
}

// Router selects a registered Adapter for a chain pair.
type Router struct {
	adapters []Adapter
	prices   PriceOracle
}

// NewRouter builds a Router over the given adapters, tried in registration order.
func NewRouter(prices PriceOracle, adapters ...Adapter) *Router {
	return &Router{adapters: adapters, prices: prices}
}

// SelectRoute returns the first adapter supporting sourceChain -> destChain.
func (r *Router) SelectRoute(sourceChain, destChain string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.IsRouteSupported(sourceChain, destChain) {
			return a, true
		}
	}
	return nil, false
}

// QuoteUSD wraps Adapter.Quote, additionally converting TotalFeeNative into
// USD via the PriceOracle so strategies can apply the 50% fee-vs-profit gate
// (spec §4.11 cross-chain: "bridgeFeeUsd < 0.5 x expectedProfitUsd").
func (r *Router) QuoteUSD(ctx context.Context, a Adapter, sourceChain, destChain, token string, amount *big.Int) (*Quote, float64, error) {
	quote, err := a.Quote(ctx, sourceChain, destChain, token, amount)
	if err != nil {
		return nil, 0, fmt.Errorf("quote via %s: %w", a.Protocol(), err)
	}
	if !quote.Valid {
		return quote, 0, nil
	}
	feeUsd, err := r.prices.NativeToUSD(sourceChain, quote.TotalFeeNative)
	if err != nil {
		return nil, 0, fmt.Errorf("convert bridge fee to usd: %w", err)
	}
	return quote, feeUsd, nil
}

// IsQuoteExpired reports whether a quote's expiresAt has passed as of now.
// Per spec §8, expiresAt == now counts as expired.
func IsQuoteExpired(quote *Quote, now time.Time) bool {
	return !quote.ExpiresAt.After(now)
}
