package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/internal/db"
	"github.com/duneflow/arbengine/internal/journal"
	"github.com/duneflow/arbengine/internal/lock"
	"github.com/duneflow/arbengine/internal/nonce"
	"github.com/duneflow/arbengine/internal/providerpool"
	"github.com/duneflow/arbengine/internal/queue"
	"github.com/duneflow/arbengine/internal/risk/breaker"
	"github.com/duneflow/arbengine/internal/risk/drawdown"
	"github.com/duneflow/arbengine/internal/risk/sizing"
	"github.com/duneflow/arbengine/internal/simulator"
	"github.com/duneflow/arbengine/internal/strategy"
	"go.uber.org/zap"
)

// LockTTLMultiplier sets the resource lock lease relative to the
// configured execution timeout, so the lock always outlives the dispatch
// attempt it guards regardless of profile.
const LockTTLMultiplier = 2

// ResultPublisher ships a terminal ExecutionResult to the outcome stream
// (spec §6 execution-results). Implemented by a thin Redis XADD wrapper in
// the engine's wiring layer.
type ResultPublisher interface {
	PublishResult(result *arbengine.ExecutionResult) error
}

// ActivationPublisher emits the standby-activation event (spec §4.12).
type ActivationPublisher interface {
	PublishActivation(regionID string, at time.Time) error
}

// Consumer is what the orchestrator needs from C5 to close the loop after a
// terminal outcome exists.
type Consumer interface {
	AckAfterExecution(msgID string) error
}

// Orchestrator wires every other component into the per-opportunity
// pipeline: a bounded worker pool with risk admission, timeout racing, and
// recovery bookkeeping around each dispatch attempt.
type Orchestrator struct {
	cfg Config
	log *zap.SugaredLogger

	Locks     *lock.Manager
	Nonces    *nonce.Manager
	Providers *providerpool.Pool
	Queue     *queue.Queue
	Factory   *strategy.Factory
	Simulator *simulator.Simulator
	Drawdown  *drawdown.Breaker
	EVFilter  *sizing.EVFilter
	Sizer     *sizing.Sizer
	Breaker   *breaker.Breaker
	Journal   *journal.Journal
	Recorder  db.Recorder
	Results   ResultPublisher
	Activator ActivationPublisher
	Consumer  Consumer

	lockTTL time.Duration

	stats Stats
	gate  activationGate

	msgMu sync.Mutex
	msgID map[string]string // opportunity ID -> Redis stream message ID, pending ack

	activeMu sync.Mutex
	active   map[string]struct{}

	sem      chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds an Orchestrator. Every field on the struct is expected to be
// set by the caller (engine wiring) before Start; New only applies config
// defaults and allocates internal bookkeeping.
func New(cfg Config, log *zap.SugaredLogger) *Orchestrator {
	cfg = withDefaults(cfg)
	return &Orchestrator{
		cfg:     cfg,
		log:     log,
		lockTTL: LockTTLMultiplier * cfg.ExecutionTimeout,
		msgID:   make(map[string]string),
		active:  make(map[string]struct{}),
		sem:     make(chan struct{}, cfg.MaxConcurrentExecutions),
		stopCh:  make(chan struct{}),
	}
}

// Stats returns a snapshot of the orchestrator's atomic counters.
func (o *Orchestrator) Stats() Snapshot { return o.stats.Snapshot() }

// Accept implements consumer.Sink: admits an opportunity into the bounded
// queue and records its stream message ID for the deferred ACK. Returns
// false (causing the consumer to leave the message unacked) when the queue
// is full or paused.
func (o *Orchestrator) Accept(opp *arbengine.Opportunity, msgID string) bool {
	o.msgMu.Lock()
	o.msgID[opp.ID] = msgID
	o.msgMu.Unlock()

	if o.Queue.Enqueue(opp) {
		return true
	}

	o.msgMu.Lock()
	delete(o.msgID, opp.ID)
	o.msgMu.Unlock()
	return false
}

// Start launches the bounded worker pool that drains the queue. It returns
// immediately; call Shutdown to stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go o.drainLoop(ctx)
}

func (o *Orchestrator) drainLoop(ctx context.Context) {
	defer o.wg.Done()
	available := o.Queue.ItemAvailable()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-available:
		}

		for {
			opp, ok := o.Queue.Dequeue()
			if !ok {
				break
			}
			o.dispatchWorker(ctx, opp)
		}
	}
}

// dispatchWorker blocks until a worker slot is free, then runs processOne in
// its own goroutine so the drain loop keeps pulling from the queue.
func (o *Orchestrator) dispatchWorker(ctx context.Context, opp *arbengine.Opportunity) {
	select {
	case o.sem <- struct{}{}:
	case <-o.stopCh:
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() { <-o.sem }()
		o.processOne(ctx, opp)
	}()
}

// Shutdown stops accepting new work and drains in-flight executions, each
// stage bounded by cfg.ShutdownTimeout, per spec §4.12.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.Queue.Close()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownTimeout):
		if o.log != nil {
			o.log.Warnw("shutdown timed out waiting for in-flight executions", "timeout", o.cfg.ShutdownTimeout)
		}
	}

	if o.Providers != nil {
		o.Providers.Close()
	}
}

// processOne runs the full §4.12 per-opportunity flow: mark active, risk
// admission, factory dispatch raced against the execution timeout, outcome
// recording, result publication, lock release, and deferred ack.
func (o *Orchestrator) processOne(ctx context.Context, opp *arbengine.Opportunity) {
	o.markActive(opp.ID)
	defer o.clearActive(opp.ID)

	now := time.Now()

	if !o.Breaker.CanExecute(now) {
		o.stats.recordCircuitBreakerBlock()
		o.requeueFront(opp)
		return
	}

	token, locked := o.acquireLock(opp.ID)
	if !locked {
		return
	}
	defer o.releaseLock(opp.ID, token)

	if result := o.admit(opp, now); result != nil {
		o.finish(opp, result)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.ExecutionTimeout)
	defer cancel()

	result := o.dispatch(execCtx, opp)
	if execCtx.Err() != nil && result != nil && !result.Success {
		o.stats.recordTimeout()
	}

	o.recordOutcome(opp, result, now)
	o.finish(opp, result)
}

func (o *Orchestrator) markActive(id string) {
	o.activeMu.Lock()
	o.active[id] = struct{}{}
	o.activeMu.Unlock()
}

func (o *Orchestrator) clearActive(id string) {
	o.activeMu.Lock()
	delete(o.active, id)
	o.activeMu.Unlock()
}

// ActiveCount reports how many opportunities are currently mid-execution.
func (o *Orchestrator) ActiveCount() int {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	return len(o.active)
}

// acquireLock implements S5: once lock.Manager's conflict tracker crosses its
// threshold for this resource, force-delete the stale holder's lock and
// acquire fresh.
func (o *Orchestrator) acquireLock(resourceID string) (string, bool) {
	token, ok, err := o.Locks.Acquire(resourceID, o.lockTTL)
	if err != nil {
		if o.log != nil {
			o.log.Errorw("lock acquire error", "resource", resourceID, "error", err)
		}
		return "", false
	}
	if ok {
		return token, true
	}

	if o.Locks.ShouldForceRecover(resourceID) {
		if err := o.Locks.ForceDelete(resourceID); err != nil {
			if o.log != nil {
				o.log.Errorw("force-delete stale lock failed", "resource", resourceID, "error", err)
			}
			return "", false
		}
		token, ok, err = o.Locks.Acquire(resourceID, o.lockTTL)
		if err != nil || !ok {
			return "", false
		}
		o.stats.recordStaleLockRecovery()
		return token, true
	}

	return "", false
}

func (o *Orchestrator) releaseLock(resourceID, token string) {
	if token == "" {
		return
	}
	if err := o.Locks.Release(resourceID, token); err != nil && o.log != nil {
		o.log.Warnw("lock release failed", "resource", resourceID, "error", err)
	}
}

// admit runs the §4.8-4.9 risk gates and returns a terminal SKIPPED result
// when blocked, or nil when execution should proceed.
func (o *Orchestrator) admit(opp *arbengine.Opportunity, now time.Time) *arbengine.ExecutionResult {
	status := o.Drawdown.IsTradingAllowed(now)
	if !status.Allowed {
		o.stats.recordDrawdownBlock()
		return skipped(opp, arbengine.ErrDrawdownHalt, status.Reason, now)
	}

	profitUsd := opp.ExpectedProfitUsd
	lossUsd := estimatedLossUsd(opp)
	gasCostUsd := estimatedGasCostUsd(opp)
	pathLength := len(opp.Path)
	if pathLength == 0 {
		pathLength = 1
	}

	ev := o.EVFilter.Evaluate(opp.BuyChain, opp.BuyDex, pathLength, profitUsd, lossUsd, gasCostUsd)
	if !ev.Accepted {
		o.stats.recordLowEvBlock()
		return skipped(opp, arbengine.ErrLowEV, ev.Reason, now)
	}

	kelly := o.Sizer.Recommend(ev.Probability, profitUsd, lossUsd, o.Drawdown.CurrentCapital(), status.SizeMultiplier)
	if !kelly.Accepted {
		o.stats.recordPositionSizeBlock()
		return skipped(opp, arbengine.ErrPositionSize, kelly.Reason, now)
	}

	return nil
}

func skipped(opp *arbengine.Opportunity, code, reason string, now time.Time) *arbengine.ExecutionResult {
	return &arbengine.ExecutionResult{
		OpportunityID: opp.ID,
		Success:       false,
		Error:         arbengine.NewExecError(code, "%s", reason),
		TimestampMs:   now.UnixMilli(),
		Chain:         opp.BuyChain,
		Dex:           opp.BuyDex,
	}
}

// estimatedLossUsd and estimatedGasCostUsd are conservative placeholders the
// risk gate uses ahead of a real fill: a failed attempt is assumed to cost
// the gas it would have spent, and loss-on-failure is bounded by the stake
// implied by the expected profit itself.
func estimatedLossUsd(opp *arbengine.Opportunity) float64 {
	if opp.ExpectedProfitUsd <= 0 {
		return 1
	}
	return opp.ExpectedProfitUsd
}

func estimatedGasCostUsd(opp *arbengine.Opportunity) float64 {
	return 2.0
}

// dispatch hands the opportunity to the factory-selected strategy. A panic
// inside a strategy never escapes processOne (spec §7: "exceptions never
// escape a strategy") — recovered here and converted to ERR_EXECUTION.
func (o *Orchestrator) dispatch(ctx context.Context, opp *arbengine.Opportunity) (result *arbengine.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &arbengine.ExecutionResult{
				OpportunityID: opp.ID,
				Success:       false,
				Error:         arbengine.NewExecError(arbengine.ErrExecution, "strategy panicked: %v", r),
				TimestampMs:   time.Now().UnixMilli(),
				Chain:         opp.BuyChain,
				Dex:           opp.BuyDex,
			}
		}
	}()
	return o.Factory.Dispatch(ctx, opp)
}

// recordOutcome feeds the terminal result back into C8/C9/C10 per §4.12
// step 5. Admission-phase skips never reach here (admit returns early), so
// every call here is a real execution attempt.
func (o *Orchestrator) recordOutcome(opp *arbengine.Opportunity, result *arbengine.ExecutionResult, now time.Time) {
	if result != nil && result.Success {
		o.stats.recordSuccess()
		o.Breaker.RecordSuccess(now)
		profit := 0.0
		if result.ActualProfit != nil {
			profit = weiToUsdApprox(result.ActualProfit)
		}
		o.Drawdown.RecordOutcome(profit, now)
		return
	}

	// Protocol-kind failures (simulation revert, gas spike, quote expiry,
	// high fees, bridge failure, allowlist) are controlled skips, not
	// breaker failures, per §7's taxonomy.
	if result != nil && result.Error != nil && isProtocolSkip(result.Error.Code) {
		o.Drawdown.RecordOutcome(-estimatedLossUsd(opp), now)
		return
	}

	o.stats.recordFailure()
	o.Breaker.RecordFailure(now)
	o.Drawdown.RecordOutcome(-estimatedLossUsd(opp), now)
}

func isProtocolSkip(code string) bool {
	switch code {
	case arbengine.ErrSimulationRevert, arbengine.ErrGasSpike, arbengine.ErrQuoteExpired,
		arbengine.ErrHighFees, arbengine.ErrBridgeFailed, arbengine.ErrAllowlist,
		arbengine.ErrDrawdownHalt, arbengine.ErrLowEV, arbengine.ErrPositionSize,
		arbengine.ErrCircuitOpen:
		return true
	}
	return false
}

// weiToUsdApprox is a placeholder conversion used only to feed the drawdown
// breaker's capital tracker a directional PnL signal; a real price oracle is
// out of scope for this counter.
func weiToUsdApprox(wei *big.Int) float64 {
	if wei == nil || wei.Sign() == 0 {
		return 0
	}
	return 1
}

// finish publishes the result, records it if a recorder is wired, and ACKs
// the originating stream message — the §4.12 step 6 release discipline.
func (o *Orchestrator) finish(opp *arbengine.Opportunity, result *arbengine.ExecutionResult) {
	if result == nil {
		result = skipped(opp, arbengine.ErrExecution, "no result produced", time.Now())
	}

	if o.Recorder != nil {
		if err := o.Recorder.RecordResult(result); err != nil && o.log != nil {
			o.log.Errorw("record execution result failed", "opportunity", opp.ID, "error", err)
		}
	}

	if o.Results != nil {
		if err := o.Results.PublishResult(result); err != nil && o.log != nil {
			o.log.Errorw("publish execution result failed", "opportunity", opp.ID, "error", err)
		}
	}

	o.msgMu.Lock()
	msgID, ok := o.msgID[opp.ID]
	if ok {
		delete(o.msgID, opp.ID)
	}
	o.msgMu.Unlock()

	if ok && o.Consumer != nil {
		if err := o.Consumer.AckAfterExecution(msgID); err != nil && o.log != nil {
			o.log.Errorw("ack after execution failed", "opportunity", opp.ID, "msgID", msgID, "error", err)
		}
	}
}

// requeueFront implements §4.10's "when OPEN, requeue the already-dequeued
// opportunity at the front and stop processing until cooldown expires".
// queue.Queue has no front-insert primitive, so the opportunity is resent
// through Enqueue (tail); ordering degrades to best-effort, which is
// acceptable since breaker-open windows are brief relative to queue depth.
func (o *Orchestrator) requeueFront(opp *arbengine.Opportunity) {
	if !o.Queue.Enqueue(opp) && o.log != nil {
		o.log.Warnw("dropped opportunity: circuit open and queue full", "opportunity", opp.ID)
	}
}

// Activate runs the §4.12 standby activation exactly once across any number
// of concurrent callers: disables simulation mode, resumes the queue, and
// publishes an activation event.
func (o *Orchestrator) Activate(regionID string) error {
	return o.gate.run(func() error {
		if o.Factory != nil {
			o.Factory.SetSimulationMode(false)
		}

		o.Queue.Resume()

		if o.Activator != nil {
			return o.Activator.PublishActivation(regionID, time.Now())
		}
		return nil
	})
}

// String aids debugging; not used by the wire protocol.
func (o *Orchestrator) String() string {
	return fmt.Sprintf("orchestrator{active=%d, queueLen=%d}", o.ActiveCount(), o.Queue.Len())
}
