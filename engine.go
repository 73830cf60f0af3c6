package arbengine

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/duneflow/arbengine/configs"
	"github.com/duneflow/arbengine/internal/bridge"
	"github.com/duneflow/arbengine/internal/consumer"
	"github.com/duneflow/arbengine/internal/db"
	"github.com/duneflow/arbengine/internal/gasoracle"
	"github.com/duneflow/arbengine/internal/journal"
	"github.com/duneflow/arbengine/internal/lock"
	"github.com/duneflow/arbengine/internal/nonce"
	"github.com/duneflow/arbengine/internal/orchestrator"
	"github.com/duneflow/arbengine/internal/providerpool"
	"github.com/duneflow/arbengine/internal/queue"
	"github.com/duneflow/arbengine/internal/registry"
	"github.com/duneflow/arbengine/internal/risk/breaker"
	"github.com/duneflow/arbengine/internal/risk/drawdown"
	"github.com/duneflow/arbengine/internal/risk/sizing"
	"github.com/duneflow/arbengine/internal/simulator"
	"github.com/duneflow/arbengine/internal/strategy"
	"github.com/duneflow/arbengine/internal/tokens"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

const resultStream = "arbengine:execution-results"
const activationStream = "arbengine:standby-activations"

// Engine wires every component (C1-C14) into one runnable process: a
// provider pool, a contract client, and the strategy set they back.
// Callers construct one with New, call Run to start the
// consumer/orchestrator pair, and Shutdown to drain in-flight work.
type Engine struct {
	cfg  *configs.Config
	log  *zap.SugaredLogger
	rdb  redis.Cmdable
	pool *providerpool.Pool

	Orchestrator *orchestrator.Orchestrator
	Consumer     *consumer.Consumer
	Journal      *journal.Journal
	Recorder     db.Recorder
}

// New builds and wires every component from cfg. privateKey signs every
// outbound transaction across every configured chain (one wallet, many
// chains).
func New(ctx context.Context, cfg *configs.Config, privateKey *ecdsa.PrivateKey, log *zap.SugaredLogger) (*Engine, error) {
	if err := strategy.RequireNonProduction(cfg.Environment, cfg.Simulation.Enabled, cfg.Simulation.AllowInProduction); err != nil {
		return nil, err
	}

	rpcURLs := make(map[string]string, len(cfg.Chains))
	chainIDs := make(map[string]*big.Int, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		rpcURLs[name] = chain.RPCURL
		chainIDs[name] = new(big.Int).SetUint64(chain.ChainID)
	}

	pool, err := providerpool.New(ctx, rpcURLs, privateKey, log)
	if err != nil {
		return nil, fmt.Errorf("build provider pool: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	locks := lock.New(rdb)
	nonces := nonce.New(orchestrator.NewChainNonceSource(pool), 10, 5*time.Minute)
	q := queue.New(cfg.Queue.MaxSize, cfg.Queue.HighWaterMark, cfg.Queue.LowWaterMark)
	gasOracle := gasoracle.New(0)
	reconnects := pool.Subscribe()
	go func() {
		for ev := range reconnects {
			gasOracle.Reset(ev.Chain)
		}
	}()
	sim := simulator.New(nil) // no fork-provider integration is wired; every strategy skips simulation (SkipProviderUnavailable)

	drawBreaker := drawdown.New(cfg.Risk.StartingCapitalUsd, drawdown.Thresholds{
		CautionPct:  cfg.Risk.CautionPct,
		RecoveryPct: cfg.Risk.RecoveryPct,
		HaltPct:     cfg.Risk.HaltPct,
		CooldownMs:  cfg.Risk.CooldownMs,
	})

	probabilities := strategy.NewExecutionProbabilityTracker()
	evFilter := sizing.NewEVFilter(probabilities, cfg.Risk.MinEvUsd)
	sizer := sizing.NewSizer(sizing.KellyConfig{
		SafetyFactor: cfg.Risk.KellySafetyFactor,
		MinFraction:  cfg.Risk.MinFraction,
		MaxFraction:  cfg.Risk.MaxFraction,
		MinSizeUsd:   cfg.Risk.MinSizeUsd,
	})

	circuit := breaker.New(
		breaker.WithFailureThreshold(cfg.CircuitBreaker.FailureThreshold),
		breaker.WithCooldown(time.Duration(cfg.CircuitBreaker.CooldownMs)*time.Millisecond),
		breaker.WithHalfOpenMaxAttempts(cfg.CircuitBreaker.HalfOpenMaxAttempts),
	)

	journalDir := cfg.JournalDir
	if journalDir == "" {
		journalDir = "./data/recovery-journal"
	}
	jrnl, err := journal.Open(journalDir)
	if err != nil {
		return nil, fmt.Errorf("open recovery journal: %w", err)
	}

	dexRegistry := registry.NewDex(cfg.Dexes)
	flashLoans := registry.NewFlashLoan(cfg.FlashLoanProviders)
	allowlist := registry.NewRouterAllowlist(dexRegistry, nil)
	allowance, err := tokens.New(pool)
	if err != nil {
		return nil, fmt.Errorf("build allowance checker: %w", err)
	}

	priceOracle := bridge.NewStaticPriceOracle(defaultNativeUsdRates(cfg))
	bridgeRouter := bridge.NewRouter(priceOracle) // no concrete Adapter is wired; operators register one per deployment (spec §1)
	poller := bridge.NewPoller(bridge.DefaultPollInterval)

	base := strategy.Base{
		Chains:    orchestrator.NewChainAccess(pool),
		Nonces:    nonces,
		GasOracle: gasOracle,
		Submitter: orchestrator.NewTxSubmitter(pool, chainIDs),
		Simulator: sim,
		Log:       log,
	}

	registryMap := make(map[string]strategy.Strategy, 6)

	intra := &strategy.IntraChainStrategy{
		Base: base, Registry: dexRegistry, Allowance: allowance,
		MinConfidence: cfg.Consumer.MinConfidence, MinProfitUsd: cfg.Risk.MinEvUsd,
	}
	registryMap[strategy.NameIntraChain] = intra

	flash := &strategy.FlashLoanStrategy{
		Base: base, Providers: flashLoans, Allowlist: allowlist, Registry: dexRegistry,
		MinConfidence: cfg.Consumer.MinConfidence, MinProfitUsd: cfg.Risk.MinEvUsd,
	}
	registryMap[strategy.NameFlashLoan] = flash

	registryMap[strategy.NameCrossChain] = &strategy.CrossChainStrategy{
		Base: base, Router: bridgeRouter, Journal: jrnl, Poller: poller, Registry: dexRegistry,
		MinConfidence: cfg.Consumer.MinConfidence, MinProfitUsd: cfg.Risk.MinEvUsd,
	}

	registryMap[strategy.NameBackrun] = &strategy.BackrunStrategy{
		Base: base, KnownDexes: dexRegistry, MinProfitUsd: cfg.Risk.MinEvUsd,
	}

	registryMap[strategy.NameStatArb] = &strategy.StatArbStrategy{
		FlashLoan: flash, MinConfidence: cfg.Consumer.MinConfidence, MinProfitUsd: cfg.Risk.MinEvUsd,
	}

	registryMap[strategy.NameSimulation] = &strategy.SimulationStrategy{
		Rand: rand.New(rand.NewSource(1)),
		Cfg: strategy.SimulationConfig{
			Enabled: cfg.Simulation.Enabled, SuccessRate: cfg.Simulation.SuccessRate,
			LatencyMs: int(cfg.Simulation.LatencyMs), GasUsed: cfg.Simulation.GasUsed,
			GasCostMultiplier: cfg.Simulation.GasCostMultiplier, ProfitVariance: cfg.Simulation.ProfitVariance,
		},
	}

	factory := strategy.NewFactory(cfg.Simulation.Enabled, registryMap)

	var recorder db.Recorder
	if cfg.MySQLDSN != "" {
		r, err := db.NewMySQLRecorder(cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("build execution recorder: %w", err)
		}
		recorder = r
	}

	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrentExecutions: cfg.Orchestrator.MaxConcurrentExecutions,
		ExecutionTimeout:        cfg.ExecutionTimeout(),
		ShutdownTimeout:         cfg.ShutdownTimeout(),
		SimulationMode:          cfg.Simulation.Enabled,
	}, log)
	orch.Locks = locks
	orch.Nonces = nonces
	orch.Providers = pool
	orch.Queue = q
	orch.Factory = factory
	orch.Simulator = sim
	orch.Drawdown = drawBreaker
	orch.EVFilter = evFilter
	orch.Sizer = sizer
	orch.Breaker = circuit
	orch.Journal = jrnl
	orch.Recorder = recorder
	orch.Results = &streamPublisher{rdb: rdb, resultStream: resultStream, activationStream: activationStream}
	orch.Activator = orch.Results.(*streamPublisher)

	cons := consumer.New(rdb, consumer.Config{
		Stream: cfg.Consumer.Stream, Group: cfg.Consumer.Group, ConsumerName: cfg.Consumer.ConsumerName,
		DeadLetterStream: cfg.Consumer.DeadLetter, BatchSize: int64(cfg.Consumer.BatchSize),
		BlockTimeout: time.Duration(cfg.Consumer.BlockMs) * time.Millisecond,
		PendingMaxAge: time.Duration(cfg.Consumer.PendingMaxAgeMs) * time.Millisecond,
		SweepInterval: time.Duration(cfg.Consumer.StaleCleanupMs) * time.Millisecond,
		SupportedChains: supportedChainSet(cfg.Chains),
		MinConfidence:   cfg.Consumer.MinConfidence,
		MaxAge:          time.Duration(cfg.Consumer.MaxAgeMs) * time.Millisecond,
	}, orch, log)
	orch.Consumer = cons

	return &Engine{cfg: cfg, log: log, rdb: rdb, pool: pool, Orchestrator: orch, Consumer: cons, Journal: jrnl, Recorder: recorder}, nil
}

// Run starts the consumer's stream group, reconciles any in-flight bridge
// transfers left by a prior crash (spec §4.14), and starts the
// orchestrator's worker pool. It then reads batches until ctx is cancelled;
// Shutdown alone does not end the read loop.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Consumer.EnsureGroup(); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	if stale, err := e.Journal.ReconcileStartup(time.Now()); err != nil {
		if e.log != nil {
			e.log.Errorw("recovery journal startup reconciliation failed", "error", err)
		}
	} else if len(stale) > 0 && e.log != nil {
		e.log.Warnw("marked stale in-flight bridge records failed at startup", "count", len(stale))
	}

	if e.cfg.Standby.IsStandby && e.cfg.Standby.QueuePausedOnStart {
		e.Orchestrator.Queue.Pause()
	}

	e.Orchestrator.Start(ctx)
	go e.Consumer.RunSweeper()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := e.Consumer.ReadBatch(ctx, time.Now()); err != nil {
			if e.log != nil {
				e.log.Errorw("consumer read batch failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// Activate runs standby activation (spec §4.12): disables simulation mode,
// resumes the queue, and publishes an activation event.
func (e *Engine) Activate() error {
	return e.Orchestrator.Activate(e.cfg.Standby.RegionID)
}

// Shutdown stops the consumer sweeper and the orchestrator's worker pool,
// then releases the recovery journal and execution recorder.
func (e *Engine) Shutdown() {
	e.Consumer.Stop()
	e.Orchestrator.Shutdown()
	if e.Recorder != nil {
		_ = e.Recorder.Close()
	}
	_ = e.Journal.Close()
}

func supportedChainSet(chains map[string]configs.ChainConfig) map[string]bool {
	set := make(map[string]bool, len(chains))
	for name := range chains {
		set[name] = true
	}
	return set
}

// defaultNativeUsdRates seeds the bridge fee-to-USD conversion with a $0
// rate for every configured chain. StaticPriceOracle rejects a rate of zero,
// so every bridge quote fails the fee gate rather than guessing a price.
func defaultNativeUsdRates(cfg *configs.Config) map[string]float64 {
	rates := make(map[string]float64, len(cfg.Chains))
	for name := range cfg.Chains {
		rates[name] = 0
	}
	return rates
}

// streamPublisher implements orchestrator.ResultPublisher and
// orchestrator.ActivationPublisher over Redis Streams (XADD), mirroring the
// consumer's own XREADGROUP/XACK usage of go-redis/v7.
type streamPublisher struct {
	rdb              redis.Cmdable
	resultStream     string
	activationStream string
}

func (p *streamPublisher) PublishResult(result *ExecutionResult) error {
	return p.publish(p.resultStream, result)
}

func (p *streamPublisher) PublishActivation(regionID string, at time.Time) error {
	payload := map[string]interface{}{"regionId": regionID, "activatedAt": at.UnixMilli()}
	return p.publish(p.activationStream, payload)
}

func (p *streamPublisher) publish(stream string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream payload: %w", err)
	}
	return p.rdb.XAdd(&redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"data": string(data)}}).Err()
}
