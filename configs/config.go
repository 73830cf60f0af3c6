// Package configs loads the engine's enumerated configuration: chains
// table, DEX registry, flash-loan provider table, commit-reveal contract
// table, risk/circuit-breaker/queue/consumer/simulation/standby config.
// Loaded with a layered koanf setup (YAML file, then ARBENGINE_-prefixed
// environment overrides, with .env populated via godotenv for local
// development), generalized from a single-strategy YAML blob into the
// full multi-component shape below.
package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

// ChainConfig describes one chain entry in the chains table.
type ChainConfig struct {
	ChainID     uint64 `koanf:"chainId"`
	BlockTimeMs int64  `koanf:"blockTimeMs"`
	NativeToken string `koanf:"nativeToken"`
	RPCURL      string `koanf:"rpcUrl"`
	WSURL       string `koanf:"wsUrl"`
}

// DexConfig describes one entry in the DEX registry.
type DexConfig struct {
	Name           string `koanf:"name"`
	FactoryAddress string `koanf:"factoryAddress"`
	RouterAddress  string `koanf:"routerAddress"`
	FeeBps         int    `koanf:"feeBps"`
	Version        string `koanf:"version"`
}

// FlashLoanProviderConfig describes one chain's flash-loan provider entry.
type FlashLoanProviderConfig struct {
	Protocol    string `koanf:"protocol"`
	PoolAddress string `koanf:"poolAddress"`
	FeeBps      int    `koanf:"feeBps"`
}

// RiskConfig bounds the drawdown breaker and Kelly sizer (spec §4.8-4.9).
type RiskConfig struct {
	CautionPct         float64 `koanf:"cautionPct"`
	RecoveryPct        float64 `koanf:"recoveryPct"`
	HaltPct            float64 `koanf:"haltPct"`
	CooldownMs         int64   `koanf:"cooldownMs"`
	KellySafetyFactor  float64 `koanf:"kellySafetyFactor"`
	MinFraction        float64 `koanf:"minFraction"`
	MaxFraction        float64 `koanf:"maxFraction"`
	MinSizeUsd         float64 `koanf:"minSizeUsd"`
	MinEvUsd           float64 `koanf:"minEvUsd"`
	StartingCapitalUsd float64 `koanf:"startingCapitalUsd"`
}

// CircuitBreakerConfig bounds C10 (spec §4.10).
type CircuitBreakerConfig struct {
	FailureThreshold    int   `koanf:"failureThreshold"`
	CooldownMs          int64 `koanf:"cooldownMs"`
	HalfOpenMaxAttempts int   `koanf:"halfOpenMaxAttempts"`
}

// QueueConfig bounds C4 (spec §6).
type QueueConfig struct {
	MaxSize       int `koanf:"maxSize"`
	HighWaterMark int `koanf:"highWaterMark"`
	LowWaterMark  int `koanf:"lowWaterMark"`
}

// ConsumerConfig bounds C5 (spec §6).
type ConsumerConfig struct {
	Stream          string  `koanf:"stream"`
	Group           string  `koanf:"group"`
	ConsumerName    string  `koanf:"consumerName"`
	DeadLetter      string  `koanf:"deadLetterStream"`
	BatchSize       int     `koanf:"batchSize"`
	BlockMs         int64   `koanf:"blockMs"`
	PendingMaxAgeMs int64   `koanf:"pendingMaxAgeMs"`
	StaleCleanupMs  int64   `koanf:"staleCleanupMs"`
	MinConfidence   float64 `koanf:"minConfidence"`
	MaxAgeMs        int64   `koanf:"maxAgeMs"`
}

// SimulationConfig bounds the dry-run strategy (spec §4.11).
type SimulationConfig struct {
	Enabled           bool    `koanf:"enabled"`
	SuccessRate       float64 `koanf:"successRate"`
	LatencyMs         int64   `koanf:"latencyMs"`
	GasUsed           uint64  `koanf:"gasUsed"`
	GasCostMultiplier float64 `koanf:"gasCostMultiplier"`
	ProfitVariance    float64 `koanf:"profitVariance"`
	AllowInProduction bool    `koanf:"allowInProduction"`
}

// StandbyConfig bounds multi-region failover activation (spec §4.12).
type StandbyConfig struct {
	IsStandby                    bool   `koanf:"isStandby"`
	QueuePausedOnStart           bool   `koanf:"queuePausedOnStart"`
	ActivationDisablesSimulation bool   `koanf:"activationDisablesSimulation"`
	RegionID                     string `koanf:"regionId"`
}

// OrchestratorConfig bounds C12 (spec §5-6).
type OrchestratorConfig struct {
	MaxConcurrentExecutions int   `koanf:"maxConcurrentExecutions"`
	ExecutionTimeoutMs      int64 `koanf:"executionTimeoutMs"`
	ShutdownTimeoutMs       int64 `koanf:"shutdownTimeoutMs"`
}

// Config is the complete enumerated configuration of spec §6.
type Config struct {
	Environment string `koanf:"environment"`

	Chains                map[string]ChainConfig             `koanf:"chains"`
	Dexes                 map[string]DexConfig                `koanf:"dexes"`
	FlashLoanProviders    map[string]FlashLoanProviderConfig `koanf:"flashLoanProviders"`
	CommitRevealContracts map[string]string                  `koanf:"commitRevealContracts"`

	Risk           RiskConfig           `koanf:"risk"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuitBreaker"`
	Queue          QueueConfig          `koanf:"queue"`
	Consumer       ConsumerConfig       `koanf:"consumer"`
	Simulation     SimulationConfig     `koanf:"simulation"`
	Standby        StandbyConfig        `koanf:"standby"`
	Orchestrator   OrchestratorConfig   `koanf:"orchestrator"`

	RedisAddr  string `koanf:"redisAddr"`
	MySQLDSN   string `koanf:"mysqlDsn"`
	JournalDir string `koanf:"journalDir"`
}

// EnvPrefix is the prefix environment overrides must carry, e.g.
// ARBENGINE_RISK_HALTPCT=0.3 overrides risk.haltPct.
const EnvPrefix = "ARBENGINE_"

// Load reads path (YAML), then layers ARBENGINE_-prefixed environment
// variables on top, and applies the §6 numeric bounds. envFile, if
// non-empty, is loaded into the process environment first via godotenv (a
// no-op if the file doesn't exist).
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("fatal configuration error: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Risk.KellySafetyFactor == 0 {
		cfg.Risk.KellySafetyFactor = 0.5
	}
	if cfg.Risk.MaxFraction == 0 {
		cfg.Risk.MaxFraction = 0.25
	}
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.CircuitBreaker.CooldownMs == 0 {
		cfg.CircuitBreaker.CooldownMs = int64(5 * time.Minute / time.Millisecond)
	}
	if cfg.CircuitBreaker.HalfOpenMaxAttempts == 0 {
		cfg.CircuitBreaker.HalfOpenMaxAttempts = 1
	}
	if cfg.Orchestrator.ExecutionTimeoutMs == 0 {
		cfg.Orchestrator.ExecutionTimeoutMs = 55000
	}
	if cfg.Orchestrator.ShutdownTimeoutMs == 0 {
		cfg.Orchestrator.ShutdownTimeoutMs = 5000
	}
	if cfg.Orchestrator.MaxConcurrentExecutions == 0 {
		cfg.Orchestrator.MaxConcurrentExecutions = 5
	}
}

// validate enforces the §6 "fatal: configuration error at startup" class:
// refuse to start rather than run with an impossible profile.
func validate(cfg *Config) error {
	execTimeout := time.Duration(cfg.Orchestrator.ExecutionTimeoutMs) * time.Millisecond
	if execTimeout < time.Second || execTimeout > 120*time.Second {
		return fmt.Errorf("orchestrator.executionTimeoutMs %d out of bounds [1000,120000]", cfg.Orchestrator.ExecutionTimeoutMs)
	}
	if cfg.Simulation.Enabled && cfg.Environment == "production" && !cfg.Simulation.AllowInProduction {
		return fmt.Errorf("simulation.enabled is true in production without simulation.allowInProduction override")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("chains table must have at least one entry")
	}
	return nil
}

// ExecutionTimeout and ShutdownTimeout convert the millisecond config fields
// to time.Duration for the orchestrator.
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Orchestrator.ExecutionTimeoutMs) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Orchestrator.ShutdownTimeoutMs) * time.Millisecond
}
