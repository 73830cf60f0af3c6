// Package orchestrator wires every other component into the per-opportunity
// execution pipeline: risk admission, strategy dispatch, timeout racing,
// outcome recording, and the lock/ack release discipline. A bounded worker
// pool pulls off queue.Queue and drives one strategy call per item.
package orchestrator

import "time"

// Config bounds the orchestrator's own behavior (spec §6, §5).
type Config struct {
	MaxConcurrentExecutions int
	ExecutionTimeout        time.Duration
	ShutdownTimeout         time.Duration
	SimulationMode          bool
}

// Default orchestrator-level bounds (spec §4.12, §5).
const (
	DefaultMaxConcurrentExecutions = 5
	DefaultExecutionTimeout        = 55 * time.Second
	DefaultShutdownTimeout         = 5 * time.Second

	MinExecutionTimeout = time.Second
	MaxExecutionTimeout = 120 * time.Second
)

// clampExecutionTimeout enforces spec §5's "values outside bounds clamp to
// the boundary with a warning log" rule; the warning itself is the caller's
// responsibility since clamping alone carries no logger.
func clampExecutionTimeout(d time.Duration) time.Duration {
	if d < MinExecutionTimeout {
		return MinExecutionTimeout
	}
	if d > MaxExecutionTimeout {
		return MaxExecutionTimeout
	}
	return d
}

func withDefaults(cfg Config) Config {
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = DefaultMaxConcurrentExecutions
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	cfg.ExecutionTimeout = clampExecutionTimeout(cfg.ExecutionTimeout)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return cfg
}
