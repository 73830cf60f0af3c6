package queue

import (
	"testing"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/stretchr/testify/require"
)

func opp(id string) *arbengine.Opportunity {
	return &arbengine.Opportunity{ID: id, Type: arbengine.OpportunityIntraChain, BuyChain: "ethereum", TokenIn: "WETH", TokenOut: "USDC", AmountIn: "1"}
}

func TestEnqueueDequeue_FIFO(t *testing.T) {
	q := New(10, 10, 0)
	require.True(t, q.Enqueue(opp("a")))
	require.True(t, q.Enqueue(opp("b")))

	first, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "a", first.ID)

	second, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "b", second.ID)

	_, ok = q.Dequeue()
	require.False(t, ok)
}

func TestEnqueue_RejectsWhenFull(t *testing.T) {
	q := New(1, 1, 0)
	require.True(t, q.Enqueue(opp("a")))
	require.False(t, q.Enqueue(opp("b")))
}

func TestHighWaterMark_AutoPausesAtExactly(t *testing.T) {
	q := New(10, 2, 0)
	var pausedEvents []bool
	q.OnStateChange(func(paused bool, reason string) { pausedEvents = append(pausedEvents, paused) })

	require.True(t, q.Enqueue(opp("a")))
	require.False(t, q.Paused(), "below high watermark")
	require.True(t, q.Enqueue(opp("b")))
	require.True(t, q.Paused(), "at high watermark should auto-pause")
	require.Equal(t, []bool{true}, pausedEvents)
}

func TestLowWaterMark_AutoResumesAtExactly(t *testing.T) {
	q := New(10, 3, 1)
	require.True(t, q.Enqueue(opp("a")))
	require.True(t, q.Enqueue(opp("b")))
	require.True(t, q.Enqueue(opp("c")))
	require.True(t, q.Paused())

	_, ok := q.Dequeue()
	require.True(t, ok)
	require.True(t, q.Paused(), "still above low watermark")

	_, ok = q.Dequeue()
	require.True(t, ok)
	require.False(t, q.Paused(), "at low watermark should auto-resume")
}

func TestManualPause_IndependentOfWatermark(t *testing.T) {
	q := New(10, 10, 0)
	q.Pause()
	require.False(t, q.Enqueue(opp("a")))
	q.Resume()
	require.True(t, q.Enqueue(opp("a")))
}

func TestItemAvailable_FiresOnEnqueueAndFallbackTick(t *testing.T) {
	q := New(10, 10, 0)
	defer q.Close()
	avail := q.ItemAvailable()

	q.Enqueue(opp("a"))
	select {
	case <-avail:
	case <-time.After(time.Second):
		t.Fatal("expected immediate notification on enqueue")
	}

	select {
	case <-avail:
	case <-time.After(2 * time.Second):
		t.Fatal("expected fallback tick within ~1s")
	}
}
