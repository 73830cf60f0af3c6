// Package registry turns enumerated configuration tables (DEX registry,
// flash-loan provider table, commit-reveal/router allowlist) into the
// lookup interfaces the strategy package depends on. Built over
// configs.Config, generalized from a single hard-coded DEX pair into the
// chain/dex-keyed tables the strategy family needs.
package registry

import (
	"strings"

	"github.com/duneflow/arbengine/configs"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Dex answers strategy.DexRegistry and strategy.KnownDexRegistry questions
// from the configured DEX table, keyed "chain/dexName".
type Dex struct {
	entries map[string]configs.DexConfig
}

// NewDex builds a Dex registry from the configured table.
func NewDex(entries map[string]configs.DexConfig) *Dex {
	return &Dex{entries: entries}
}

func dexKey(chain, dex string) string { return chain + "/" + dex }

func (d *Dex) RouterAddress(chain, dex string) (ethcommon.Address, bool) {
	e, ok := d.entries[dexKey(chain, dex)]
	if !ok || e.RouterAddress == "" {
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(e.RouterAddress), true
}

func (d *Dex) IsV3(chain, dex string) bool {
	e, ok := d.entries[dexKey(chain, dex)]
	return ok && strings.EqualFold(e.Version, "v3")
}

func (d *Dex) FeeBps(chain, dex string) uint32 {
	e, ok := d.entries[dexKey(chain, dex)]
	if !ok || e.FeeBps <= 0 {
		return 30
	}
	return uint32(e.FeeBps)
}

// IsKnownRouter reports whether router is any configured DEX's router
// address on chain, independent of which DEX name it was registered under
// (the backrun strategy only ever observes a raw router address).
func (d *Dex) IsKnownRouter(chain string, router ethcommon.Address) bool {
	prefix := chain + "/"
	for key, e := range d.entries {
		if !strings.HasPrefix(key, prefix) || e.RouterAddress == "" {
			continue
		}
		if ethcommon.HexToAddress(e.RouterAddress) == router {
			return true
		}
	}
	return false
}

// RouterAllowlist gates flash-loan/backrun router calls against the
// configured DEX table plus any extra addresses explicitly allowlisted.
type RouterAllowlist struct {
	dex   *Dex
	extra map[string]map[ethcommon.Address]bool
}

// NewRouterAllowlist builds an allowlist backed by dex, optionally widened
// with chain-keyed extra router addresses (e.g. commit-reveal contracts).
func NewRouterAllowlist(dex *Dex, extra map[string][]ethcommon.Address) *RouterAllowlist {
	byChain := make(map[string]map[ethcommon.Address]bool, len(extra))
	for chain, addrs := range extra {
		set := make(map[ethcommon.Address]bool, len(addrs))
		for _, a := range addrs {
			set[a] = true
		}
		byChain[chain] = set
	}
	return &RouterAllowlist{dex: dex, extra: byChain}
}

func (a *RouterAllowlist) IsAllowed(chain string, router ethcommon.Address) bool {
	if a.dex.IsKnownRouter(chain, router) {
		return true
	}
	return a.extra[chain][router]
}

// FlashLoan answers strategy.FlashLoanProviderTable from the configured
// per-chain flash-loan provider table.
type FlashLoan struct {
	providers map[string]configs.FlashLoanProviderConfig
}

// NewFlashLoan builds a FlashLoan provider table from the configured map.
func NewFlashLoan(providers map[string]configs.FlashLoanProviderConfig) *FlashLoan {
	return &FlashLoan{providers: providers}
}

func (f *FlashLoan) FeeBps(chain string) (int64, bool) {
	p, ok := f.providers[chain]
	if !ok {
		return 0, false
	}
	if p.FeeBps <= 0 {
		return 9, true
	}
	return int64(p.FeeBps), true
}

func (f *FlashLoan) PoolAddress(chain string) (ethcommon.Address, bool) {
	p, ok := f.providers[chain]
	if !ok || p.PoolAddress == "" {
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(p.PoolAddress), true
}
