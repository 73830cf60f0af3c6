package bridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedStatusAdapter struct {
	fakeAdapter
	calls    atomic.Int32
	statuses []*StatusResult
	err      error
}

func (a *scriptedStatusAdapter) GetStatus(ctx context.Context, bridgeID string) (*StatusResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	i := a.calls.Add(1) - 1
	if int(i) >= len(a.statuses) {
		return a.statuses[len(a.statuses)-1], nil
	}
	return a.statuses[i], nil
}

func TestPollUntilTerminal_ReturnsOnFirstTerminalStatus(t *testing.T) {
	adapter := &scriptedStatusAdapter{statuses: []*StatusResult{{Status: StatusCompleted}}}
	p := NewPoller(time.Millisecond)

	result, err := p.PollUntilTerminal(context.Background(), adapter, "bridge-1", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)
}

func TestPollUntilTerminal_PollsUntilTerminal(t *testing.T) {
	adapter := &scriptedStatusAdapter{statuses: []*StatusResult{
		{Status: StatusPending},
		{Status: StatusInflight},
		{Status: StatusFailed},
	}}
	p := NewPoller(time.Millisecond)

	result, err := p.PollUntilTerminal(context.Background(), adapter, "bridge-1", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.GreaterOrEqual(t, int(adapter.calls.Load()), 3)
}

func TestPollUntilTerminal_PropagatesAdapterError(t *testing.T) {
	adapter := &scriptedStatusAdapter{err: context.DeadlineExceeded}
	p := NewPoller(time.Millisecond)

	_, err := p.PollUntilTerminal(context.Background(), adapter, "bridge-1", time.Now().Add(time.Second))
	require.Error(t, err)
}

func TestPollUntilTerminal_ReturnsLastStatusPastDeadline(t *testing.T) {
	adapter := &scriptedStatusAdapter{statuses: []*StatusResult{{Status: StatusPending}}}
	p := NewPoller(5 * time.Millisecond)

	result, err := p.PollUntilTerminal(context.Background(), adapter, "bridge-1", time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.Status)
}

func TestPollUntilTerminal_RespectsContextCancellation(t *testing.T) {
	adapter := &scriptedStatusAdapter{statuses: []*StatusResult{{Status: StatusPending}}}
	p := NewPoller(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.PollUntilTerminal(ctx, adapter, "bridge-1", time.Now().Add(time.Minute))
	require.Error(t, err)
}
