package bridge

import (
	"fmt"
	"math/big"
)

// StaticPriceOracle converts a native-token wei amount to USD using a fixed
// USD-per-native-token rate per chain, configured at startup. A live price
// feed is out of scope for this engine (spec §1); operators wire real rates
// through configuration instead of a market-data integration.
type StaticPriceOracle struct {
	usdPerNative map[string]float64
}

// NewStaticPriceOracle builds a StaticPriceOracle from a chain -> USD rate
// table.
func NewStaticPriceOracle(usdPerNative map[string]float64) *StaticPriceOracle {
	return &StaticPriceOracle{usdPerNative: usdPerNative}
}

// NativeToUSD implements PriceOracle. A chain with no rate, or with a rate of
// zero or below, is an error.
func (o *StaticPriceOracle) NativeToUSD(chain string, amountWei *big.Int) (float64, error) {
	rate, ok := o.usdPerNative[chain]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no configured usd rate for chain %s", chain)
	}
	if amountWei == nil {
		return 0, nil
	}
	eth := new(big.Float).Quo(new(big.Float).SetInt(amountWei), big.NewFloat(1e18))
	usd, _ := new(big.Float).Mul(eth, big.NewFloat(rate)).Float64()
	return usd, nil
}
