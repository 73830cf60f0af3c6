package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordFailure_TripsAtThreshold(t *testing.T) {
	b := New(WithFailureThreshold(3), WithCooldown(time.Minute))
	now := time.Now()
	b.RecordFailure(now)
	b.RecordFailure(now)
	require.Equal(t, Closed, b.State())
	b.RecordFailure(now)
	require.Equal(t, Open, b.State())
}

func TestCanExecute_BlockedWhileOpen(t *testing.T) {
	b := New(WithFailureThreshold(1), WithCooldown(time.Minute))
	now := time.Now()
	b.RecordFailure(now)
	require.False(t, b.CanExecute(now.Add(time.Second)))
}

func TestCanExecute_HalfOpenAfterCooldown(t *testing.T) {
	b := New(WithFailureThreshold(1), WithCooldown(50*time.Millisecond), WithHalfOpenMaxAttempts(1))
	now := time.Now()
	b.RecordFailure(now)
	require.False(t, b.CanExecute(now))

	later := now.Add(100 * time.Millisecond)
	require.True(t, b.CanExecute(later))
	require.Equal(t, HalfOpen, b.State())

	require.False(t, b.CanExecute(later), "only one half-open attempt allowed")
}

func TestRecordSuccess_ClosesFromHalfOpen(t *testing.T) {
	b := New(WithFailureThreshold(1), WithCooldown(10*time.Millisecond))
	now := time.Now()
	b.RecordFailure(now)
	later := now.Add(20 * time.Millisecond)
	require.True(t, b.CanExecute(later))
	require.Equal(t, HalfOpen, b.State())

	b.RecordSuccess(later)
	require.Equal(t, Closed, b.State())
	require.Equal(t, 0, b.ConsecutiveFailures())
}

func TestRecordFailure_ReOpensFromHalfOpen(t *testing.T) {
	b := New(WithFailureThreshold(1), WithCooldown(10*time.Millisecond))
	now := time.Now()
	b.RecordFailure(now)
	later := now.Add(20 * time.Millisecond)
	require.True(t, b.CanExecute(later))
	require.Equal(t, HalfOpen, b.State())

	b.RecordFailure(later)
	require.Equal(t, Open, b.State())
}

func TestForceClose_ThenRecordSuccess_StaysClosed(t *testing.T) {
	b := New(WithFailureThreshold(1), WithCooldown(time.Minute))
	now := time.Now()
	b.RecordFailure(now)
	require.Equal(t, Open, b.State())

	b.ForceClose(now)
	require.Equal(t, Closed, b.State())
	b.RecordSuccess(now)
	require.Equal(t, Closed, b.State())
}

func TestStateChangeCallback_FiresOnTransition(t *testing.T) {
	var changes []StateChange
	b := New(WithFailureThreshold(1), WithCooldown(time.Minute), WithOnStateChange(func(c StateChange) {
		changes = append(changes, c)
	}))
	now := time.Now()
	b.RecordFailure(now)
	require.Len(t, changes, 1)
	require.Equal(t, Closed, changes[0].PreviousState)
	require.Equal(t, Open, changes[0].NewState)
}
