package orchestrator

import "sync/atomic"

// Stats are the spec §5 "atomic fetch-add" counters surfaced for monitoring.
// All fields are accessed exclusively through atomic operations.
type Stats struct {
	successfulExecutions uint64
	failedExecutions      uint64
	riskDrawdownBlocks    uint64
	riskLowEvBlocks       uint64
	riskPositionSizeBlocks uint64
	staleLockRecoveries   uint64
	circuitBreakerBlocks  uint64
	timeouts              uint64
}

func (s *Stats) recordSuccess()        { atomic.AddUint64(&s.successfulExecutions, 1) }
func (s *Stats) recordFailure()        { atomic.AddUint64(&s.failedExecutions, 1) }
func (s *Stats) recordDrawdownBlock()  { atomic.AddUint64(&s.riskDrawdownBlocks, 1) }
func (s *Stats) recordLowEvBlock()     { atomic.AddUint64(&s.riskLowEvBlocks, 1) }
func (s *Stats) recordPositionSizeBlock() { atomic.AddUint64(&s.riskPositionSizeBlocks, 1) }
func (s *Stats) recordStaleLockRecovery() { atomic.AddUint64(&s.staleLockRecoveries, 1) }
func (s *Stats) recordCircuitBreakerBlock() { atomic.AddUint64(&s.circuitBreakerBlocks, 1) }
func (s *Stats) recordTimeout()        { atomic.AddUint64(&s.timeouts, 1) }

// Snapshot is a point-in-time copy of every counter, safe to read without
// racing the orchestrator's writers.
type Snapshot struct {
	SuccessfulExecutions   uint64
	FailedExecutions       uint64
	RiskDrawdownBlocks     uint64
	RiskLowEvBlocks        uint64
	RiskPositionSizeBlocks uint64
	StaleLockRecoveries    uint64
	CircuitBreakerBlocks   uint64
	Timeouts               uint64
}

// Snapshot reads every counter atomically.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		SuccessfulExecutions:   atomic.LoadUint64(&s.successfulExecutions),
		FailedExecutions:       atomic.LoadUint64(&s.failedExecutions),
		RiskDrawdownBlocks:     atomic.LoadUint64(&s.riskDrawdownBlocks),
		RiskLowEvBlocks:        atomic.LoadUint64(&s.riskLowEvBlocks),
		RiskPositionSizeBlocks: atomic.LoadUint64(&s.riskPositionSizeBlocks),
		StaleLockRecoveries:    atomic.LoadUint64(&s.staleLockRecoveries),
		CircuitBreakerBlocks:   atomic.LoadUint64(&s.circuitBreakerBlocks),
		Timeouts:               atomic.LoadUint64(&s.timeouts),
	}
}
