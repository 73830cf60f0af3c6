// Package providerpool owns one chain RPC connection plus one bound signing
// wallet per chain, with background health checks and exponential-backoff
// reconnect. Generalized from a single ethclient.Dial call site to a
// per-chain pool, with a supervised reconnect loop built on
// cenkalti/backoff/v4.
package providerpool

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Wallet is the signing identity bound to one chain.
type Wallet struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Health mirrors spec §3's ProviderHealth.
type Health struct {
	Healthy             bool
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           string
}

// ReconnectEvent is published to subscribers when a chain's connection is
// replaced, so C6's gas baseline can be invalidated.
type ReconnectEvent struct {
	Chain string
	At    time.Time
}

type chainEntry struct {
	mu     sync.RWMutex
	client *ethclient.Client
	health Health
}

// Pool owns one *ethclient.Client and one Wallet per configured chain.
type Pool struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex
	chains  map[string]*chainEntry
	wallets map[string]Wallet
	rpcURLs map[string]string

	healthCheckInterval time.Duration
	healthCheckTimeout  time.Duration
	unhealthyThreshold  int

	subMu sync.Mutex
	subs  []chan ReconnectEvent

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithHealthCheck overrides the default 30s interval / 5s timeout / 3
// consecutive-failure threshold.
func WithHealthCheck(interval, timeout time.Duration, unhealthyThreshold int) Option {
	return func(p *Pool) {
		p.healthCheckInterval = interval
		p.healthCheckTimeout = timeout
		p.unhealthyThreshold = unhealthyThreshold
	}
}

// New dials every configured chain's RPC endpoint eagerly and binds privateKey
// as the single wallet used across all chains: one private key, many
// contract clients.
func New(ctx context.Context, rpcURLs map[string]string, privateKey *ecdsa.PrivateKey, log *zap.SugaredLogger, opts ...Option) (*Pool, error) {
	p := &Pool{
		log:                 log,
		chains:              make(map[string]*chainEntry, len(rpcURLs)),
		wallets:             make(map[string]Wallet, len(rpcURLs)),
		rpcURLs:             rpcURLs,
		healthCheckInterval: 30 * time.Second,
		healthCheckTimeout:  5 * time.Second,
		unhealthyThreshold:  3,
		stopCh:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	addr := common.Address{}
	if privateKey != nil {
		addr = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	for chain, url := range rpcURLs {
		cl, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial chain %s: %w", chain, err)
		}
		p.chains[chain] = &chainEntry{client: cl, health: Health{Healthy: true, LastCheck: time.Now()}}
		p.wallets[chain] = Wallet{Address: addr, PrivateKey: privateKey}
	}

	p.wg.Add(1)
	go p.healthLoop()
	return p, nil
}

// Get returns the live client for chain, or ok=false if unconfigured.
func (p *Pool) Get(chain string) (*ethclient.Client, bool) {
	p.mu.RLock()
	entry, ok := p.chains[chain]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.client, true
}

// WalletFor returns the signing wallet bound to chain.
func (p *Pool) WalletFor(chain string) (Wallet, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.wallets[chain]
	return w, ok
}

// HealthMap snapshots every chain's current health.
func (p *Pool) HealthMap() map[string]Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Health, len(p.chains))
	for chain, entry := range p.chains {
		entry.mu.RLock()
		out[chain] = entry.health
		entry.mu.RUnlock()
	}
	return out
}

// Subscribe registers a channel that receives a ReconnectEvent whenever a
// chain's client is replaced. The channel is never closed; callers should
// select on it alongside their own shutdown signal.
func (p *Pool) Subscribe() <-chan ReconnectEvent {
	ch := make(chan ReconnectEvent, 8)
	p.subMu.Lock()
	p.subs = append(p.subs, ch)
	p.subMu.Unlock()
	return ch
}

func (p *Pool) publish(ev ReconnectEvent) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops the health-check loop. It does not close individual RPC
// clients still in use by in-flight strategy executions.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkAll()
		}
	}
}

func (p *Pool) checkAll() {
	p.mu.RLock()
	chains := make([]string, 0, len(p.chains))
	for chain := range p.chains {
		chains = append(chains, chain)
	}
	p.mu.RUnlock()

	for _, chain := range chains {
		p.checkOne(chain)
	}
}

func (p *Pool) checkOne(chain string) {
	p.mu.RLock()
	entry := p.chains[chain]
	p.mu.RUnlock()
	if entry == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.healthCheckTimeout)
	defer cancel()

	entry.mu.RLock()
	cl := entry.client
	entry.mu.RUnlock()

	_, err := cl.BlockNumber(ctx)

	entry.mu.Lock()
	if err != nil {
		entry.health.ConsecutiveFailures++
		entry.health.LastError = err.Error()
		entry.health.LastCheck = time.Now()
		if entry.health.ConsecutiveFailures >= p.unhealthyThreshold {
			entry.health.Healthy = false
		}
		failures := entry.health.ConsecutiveFailures
		entry.mu.Unlock()

		if p.log != nil {
			p.log.Warnw("provider health check failed", "chain", chain, "consecutiveFailures", failures, "error", err)
		}
		if failures >= p.unhealthyThreshold {
			go p.reconnect(chain)
		}
		return
	}

	entry.health.Healthy = true
	entry.health.ConsecutiveFailures = 0
	entry.health.LastError = ""
	entry.health.LastCheck = time.Now()
	entry.mu.Unlock()
}

// reconnect retries Dial with exponential backoff: 1s, 2s, 4s, capped at 60s.
func (p *Pool) reconnect(chain string) {
	p.mu.RLock()
	url := p.rpcURLs[chain]
	p.mu.RUnlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0 // retry indefinitely until stopCh fires

	operation := func() error {
		select {
		case <-p.stopCh:
			return backoff.Permanent(fmt.Errorf("pool closed"))
		default:
		}
		cl, err := ethclient.Dial(url)
		if err != nil {
			return err
		}

		p.mu.RLock()
		entry := p.chains[chain]
		p.mu.RUnlock()
		if entry == nil {
			cl.Close()
			return backoff.Permanent(fmt.Errorf("chain %s no longer configured", chain))
		}

		entry.mu.Lock()
		old := entry.client
		entry.client = cl
		entry.health = Health{Healthy: true, LastCheck: time.Now()}
		entry.mu.Unlock()
		if old != nil {
			old.Close()
		}

		if p.log != nil {
			p.log.Infow("provider reconnected", "chain", chain)
		}
		p.publish(ReconnectEvent{Chain: chain, At: time.Now()})
		return nil
	}

	if err := backoff.Retry(operation, b); err != nil && p.log != nil {
		p.log.Errorw("provider reconnect gave up", "chain", chain, "error", err)
	}
}
