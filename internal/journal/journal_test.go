package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestWriteAndGet_RoundTrips(t *testing.T) {
	j := newTestJournal(t)
	now := time.Now()
	rec := &Record{
		OpportunityID: "o1", BridgeID: "b1", SourceChain: "ethereum", DestChain: "arbitrum",
		BridgeAmount: "1000000000000000000", InitiatedAt: now, BridgeProtocol: "stargate",
		Status: StatusPending,
	}
	require.NoError(t, j.Write(rec))

	got, ok, err := j.Get("o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b1", got.BridgeID)
	require.Equal(t, StatusPending, got.Status)
}

func TestGet_MissingReturnsFalse(t *testing.T) {
	j := newTestJournal(t)
	got, ok, err := j.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestUpdateStatus_DeletesOnTerminalStatus(t *testing.T) {
	j := newTestJournal(t)
	now := time.Now()
	rec := &Record{OpportunityID: "o1", InitiatedAt: now, Status: StatusPending}
	require.NoError(t, j.Write(rec))

	require.NoError(t, j.UpdateStatus("o1", StatusBridging, now, ""))
	got, ok, err := j.Get("o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusBridging, got.Status)

	require.NoError(t, j.UpdateStatus("o1", StatusRecovered, now, ""))
	_, ok, err = j.Get("o1")
	require.NoError(t, err)
	require.False(t, ok, "terminal status must delete the record")
}

func TestUpdateStatus_UnknownRecordErrors(t *testing.T) {
	j := newTestJournal(t)
	err := j.UpdateStatus("nope", StatusFailed, time.Now(), "boom")
	require.Error(t, err)
}

func TestReconcileStartup_MarksStaleRecordsFailed(t *testing.T) {
	j := newTestJournal(t)
	now := time.Now()

	fresh := &Record{OpportunityID: "fresh", InitiatedAt: now.Add(-time.Hour), Status: StatusBridging}
	stale := &Record{OpportunityID: "stale", InitiatedAt: now.Add(-25 * time.Hour), Status: StatusBridging}
	require.NoError(t, j.Write(fresh))
	require.NoError(t, j.Write(stale))

	reconciled, err := j.ReconcileStartup(now)
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, reconciled)

	_, ok, err := j.Get("stale")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = j.Get("fresh")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAll_ListsEveryRecord(t *testing.T) {
	j := newTestJournal(t)
	now := time.Now()
	require.NoError(t, j.Write(&Record{OpportunityID: "a", InitiatedAt: now}))
	require.NoError(t, j.Write(&Record{OpportunityID: "b", InitiatedAt: now}))

	all, err := j.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
