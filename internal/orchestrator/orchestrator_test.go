package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/duneflow/arbengine"
	"github.com/duneflow/arbengine/internal/lock"
	"github.com/duneflow/arbengine/internal/queue"
	"github.com/duneflow/arbengine/internal/risk/breaker"
	"github.com/duneflow/arbengine/internal/risk/drawdown"
	"github.com/duneflow/arbengine/internal/risk/sizing"
	"github.com/duneflow/arbengine/internal/strategy"
	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name    string
	result  *arbengine.ExecutionResult
	calls   int32
	latency time.Duration
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	atomic.AddInt32(&s.calls, 1)
	if s.latency > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(s.latency):
		}
	}
	return s.result
}

type fixedProbability struct{ p float64 }

func (f fixedProbability) Probability(chain, dex string, pathLength int) float64 { return f.p }

type fakeRecorder struct {
	mu      sync.Mutex
	results []*arbengine.ExecutionResult
}

func (r *fakeRecorder) RecordResult(result *arbengine.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}
func (r *fakeRecorder) Close() error { return nil }

type fakeResults struct {
	mu        sync.Mutex
	published []*arbengine.ExecutionResult
}

func (r *fakeResults) PublishResult(result *arbengine.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, result)
	return nil
}

type fakeActivator struct {
	mu    sync.Mutex
	calls int
}

func (a *fakeActivator) PublishActivation(regionID string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return nil
}

type fakeConsumer struct {
	mu     sync.Mutex
	acked  []string
	ackErr error
}

func (c *fakeConsumer) AckAfterExecution(msgID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msgID)
	return c.ackErr
}

func newTestOrchestrator(t *testing.T, registry map[string]strategy.Strategy) (*Orchestrator, *fakeRecorder, *fakeResults, *fakeConsumer) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	o := New(Config{MaxConcurrentExecutions: 4, ExecutionTimeout: 2 * time.Second, ShutdownTimeout: time.Second}, nil)
	o.Locks = lock.New(rdb)
	o.Queue = queue.New(100, 80, 20)
	o.Factory = strategy.NewFactory(false, registry)
	o.Drawdown = drawdown.New(10000, drawdown.DefaultThresholds)
	o.EVFilter = sizing.NewEVFilter(fixedProbability{p: 0.9}, sizing.DefaultMinEvUsd)
	o.Sizer = sizing.NewSizer(sizing.DefaultKellyConfig)
	o.Breaker = breaker.New(breaker.WithFailureThreshold(5), breaker.WithCooldown(time.Minute))

	rec := &fakeRecorder{}
	res := &fakeResults{}
	cons := &fakeConsumer{}
	o.Recorder = rec
	o.Results = res
	o.Consumer = cons
	return o, rec, res, cons
}

func intraChainOpp(id string, now time.Time) *arbengine.Opportunity {
	return &arbengine.Opportunity{
		ID: id, Type: arbengine.OpportunityIntraChain,
		BuyChain: "ethereum", BuyDex: "uniswap_v3", SellDex: "sushiswap",
		TokenIn: "WETH", TokenOut: "USDC", AmountIn: "1000000000000000000",
		ExpectedProfitUsd: 100, Confidence: 0.95, TimestampMs: now.UnixMilli(),
	}
}

func successResult(id string) *arbengine.ExecutionResult {
	return &arbengine.ExecutionResult{OpportunityID: id, Success: true, Chain: "ethereum", Dex: "uniswap_v3", TimestampMs: time.Now().UnixMilli()}
}

func failureResult(id string) *arbengine.ExecutionResult {
	return &arbengine.ExecutionResult{
		OpportunityID: id, Success: false, Chain: "ethereum", Dex: "uniswap_v3",
		Error: arbengine.NewExecError(arbengine.ErrExecution, "submit failed"), TimestampMs: time.Now().UnixMilli(),
	}
}

func TestProcessOne_HappyPath_RecordsSuccessAndAcksMessage(t *testing.T) {
	now := time.Now()
	opp := intraChainOpp("o1", now)
	strat := &fakeStrategy{name: strategy.NameIntraChain, result: successResult("o1")}
	o, rec, res, cons := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})

	o.Accept(opp, "stream-msg-1")
	dequeued, ok := o.Queue.Dequeue()
	require.True(t, ok)
	o.processOne(context.Background(), dequeued)

	require.EqualValues(t, 1, atomic.LoadInt32(&strat.calls))
	require.Equal(t, uint64(1), o.Stats().SuccessfulExecutions)
	require.Len(t, rec.results, 1)
	require.Len(t, res.published, 1)
	require.Equal(t, []string{"stream-msg-1"}, cons.acked)
	require.Equal(t, breaker.Closed, o.Breaker.State())
}

func TestProcessOne_DrawdownHalt_SkipsWithoutDispatch(t *testing.T) {
	now := time.Now()
	opp := intraChainOpp("o4", now)
	strat := &fakeStrategy{name: strategy.NameIntraChain, result: successResult("o4")}
	o, _, res, cons := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})

	o.Drawdown.RecordOutcome(-5000, now) // 50% drawdown, well past HaltPct

	o.Accept(opp, "msg-4")
	dequeued, _ := o.Queue.Dequeue()
	o.processOne(context.Background(), dequeued)

	require.EqualValues(t, 0, atomic.LoadInt32(&strat.calls), "strategy must not be invoked under HALT")
	require.Equal(t, uint64(1), o.Stats().RiskDrawdownBlocks)
	require.Len(t, res.published, 1)
	require.Equal(t, arbengine.ErrDrawdownHalt, res.published[0].Error.Code)
	require.Equal(t, []string{"msg-4"}, cons.acked)
}

func TestProcessOne_CircuitOpen_RequeuesWithoutLockOrDispatch(t *testing.T) {
	now := time.Now()
	opp := intraChainOpp("o6", now)
	strat := &fakeStrategy{name: strategy.NameIntraChain, result: successResult("o6")}
	o, _, _, cons := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})

	o.Breaker = breaker.New(breaker.WithFailureThreshold(1), breaker.WithCooldown(time.Hour))
	o.Breaker.RecordFailure(now)
	require.Equal(t, breaker.Open, o.Breaker.State())

	o.Accept(opp, "msg-6")
	dequeued, _ := o.Queue.Dequeue()
	o.processOne(context.Background(), dequeued)

	require.EqualValues(t, 0, atomic.LoadInt32(&strat.calls))
	require.Equal(t, uint64(1), o.Stats().CircuitBreakerBlocks)
	require.Empty(t, cons.acked, "a requeued opportunity has no terminal result yet, so it must not be acked")
	require.Equal(t, 1, o.Queue.Len(), "opportunity must be requeued for a later attempt")
}

func TestProcessOne_LowExpectedValue_SkipsWithLowEvCode(t *testing.T) {
	now := time.Now()
	opp := intraChainOpp("o7", now)
	opp.ExpectedProfitUsd = 0.01 // ev filter with minEvUsd=0 still requires ev>=0, but near-zero profit vs loss estimate
	strat := &fakeStrategy{name: strategy.NameIntraChain, result: successResult("o7")}
	o, _, res, _ := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})
	o.EVFilter = sizing.NewEVFilter(fixedProbability{p: 0.1}, 50) // demanding minimum makes this opportunity fail EV

	o.Accept(opp, "msg-7")
	dequeued, _ := o.Queue.Dequeue()
	o.processOne(context.Background(), dequeued)

	require.EqualValues(t, 0, atomic.LoadInt32(&strat.calls))
	require.Equal(t, uint64(1), o.Stats().RiskLowEvBlocks)
	require.Equal(t, arbengine.ErrLowEV, res.published[0].Error.Code)
}

func TestProcessOne_StrategyFailure_RecordsFailureAndTripsBreaker(t *testing.T) {
	now := time.Now()
	opp := intraChainOpp("o2", now)
	strat := &fakeStrategy{name: strategy.NameIntraChain, result: failureResult("o2")}
	o, _, res, _ := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})

	o.Accept(opp, "msg-2")
	dequeued, _ := o.Queue.Dequeue()
	o.processOne(context.Background(), dequeued)

	require.Equal(t, uint64(1), o.Stats().FailedExecutions)
	require.Equal(t, 1, o.Breaker.ConsecutiveFailures())
	require.Equal(t, arbengine.ErrExecution, res.published[0].Error.Code)
}

func TestProcessOne_ProtocolSkip_DoesNotTripBreaker(t *testing.T) {
	now := time.Now()
	opp := intraChainOpp("o3", now)
	gasSpikeResult := &arbengine.ExecutionResult{
		OpportunityID: "o3", Success: false, Chain: "ethereum", Dex: "uniswap_v3",
		Error: arbengine.NewExecError(arbengine.ErrGasSpike, "gas too high"), TimestampMs: now.UnixMilli(),
	}
	strat := &fakeStrategy{name: strategy.NameIntraChain, result: gasSpikeResult}
	o, _, _, _ := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})

	o.Accept(opp, "msg-3")
	dequeued, _ := o.Queue.Dequeue()
	o.processOne(context.Background(), dequeued)

	require.Equal(t, uint64(0), o.Stats().FailedExecutions, "a protocol-kind skip is not a breaker failure")
	require.Equal(t, 0, o.Breaker.ConsecutiveFailures())
	require.Equal(t, breaker.Closed, o.Breaker.State())
}

func TestProcessOne_TimeoutRace_RecordsTimeoutAndFailure(t *testing.T) {
	now := time.Now()
	opp := intraChainOpp("o8", now)
	strat := &fakeStrategy{name: strategy.NameIntraChain, latency: 200 * time.Millisecond, result: failureResult("o8")}
	o, _, _, _ := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})
	o.cfg.ExecutionTimeout = 10 * time.Millisecond

	o.Accept(opp, "msg-8")
	dequeued, _ := o.Queue.Dequeue()
	o.processOne(context.Background(), dequeued)

	require.Equal(t, uint64(1), o.Stats().Timeouts)
	require.Equal(t, uint64(1), o.Stats().FailedExecutions)
}

func TestDispatch_StrategyPanicConvertsToExecutionError(t *testing.T) {
	strat := &panicStrategy{}
	o, _, _, _ := newTestOrchestrator(t, map[string]strategy.Strategy{strategy.NameIntraChain: strat})
	opp := intraChainOpp("o9", time.Now())

	result := o.dispatch(context.Background(), opp)
	require.False(t, result.Success)
	require.Equal(t, arbengine.ErrExecution, result.Error.Code)
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return strategy.NameIntraChain }
func (panicStrategy) Execute(ctx context.Context, opp *arbengine.Opportunity) *arbengine.ExecutionResult {
	panic("boom")
}

func TestAccept_QueueFullRejectsAndDoesNotLeakMsgID(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, nil)
	o.Queue = queue.New(1, 1, 0)
	now := time.Now()

	require.True(t, o.Accept(intraChainOpp("a", now), "m-a"))
	require.False(t, o.Accept(intraChainOpp("b", now), "m-b"))

	o.msgMu.Lock()
	_, leaked := o.msgID["b"]
	o.msgMu.Unlock()
	require.False(t, leaked)
}

func TestActivate_ConcurrentCallersGetExactlyOneActivationEvent(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, nil)
	activator := &fakeActivator{}
	o.Activator = activator
	o.Queue.Pause()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = o.Activate("us-east-1")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	activator.mu.Lock()
	defer activator.mu.Unlock()
	require.Equal(t, 1, activator.calls, "activation must fire exactly once regardless of concurrent callers")
	require.False(t, o.Queue.Paused())
}

func TestAcquireLock_ForceRecoversAfterStaleConflictThreshold(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, nil)

	_, ok, err := o.Locks.Acquire("stale-resource", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < lock.ConflictThreshold; i++ {
		_, ok, err := o.Locks.Acquire("stale-resource", time.Hour)
		require.NoError(t, err)
		require.False(t, ok)
	}

	token, ok := o.acquireLock("stale-resource")
	require.True(t, ok)
	require.NotEmpty(t, token)
	require.Equal(t, uint64(1), o.Stats().StaleLockRecoveries)
}
