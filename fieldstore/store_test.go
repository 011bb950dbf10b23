package fieldstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testClock returns a controllable clock starting at a fixed instant.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	s, err := Open(context.Background(), DefaultConfig(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &testClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	s.Now = clock.Now
	return s, clock
}

func sampleReport(details string) ReportInput {
	return ReportInput{
		AgentID:    "agent-1",
		Type:       ReportIncident,
		Details:    details,
		WardNumber: "07",
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s, _ := newTestStore(t)

	expectedTables := []string{"pending_reports", "cached_agents", "cached_broadcasts", "sync_queue"}
	for _, table := range expectedTables {
		var count int
		err := s.DB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "Table %s should exist", table)
	}

	var foreignKeys int
	require.NoError(t, s.DB.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)
}

func TestOpenFailsWithStorageUnavailable(t *testing.T) {
	// SQLite does not create missing parent directories.
	path := filepath.Join(t.TempDir(), "missing", "agent.db")
	_, err := Open(context.Background(), DefaultConfig(path))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStorageUnavailable), "got %v", err)
}

func TestSavePendingReportSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	s, err := Open(ctx, DefaultConfig(path))
	require.NoError(t, err)
	lat, lng := 9.0765, 7.3986
	in := sampleReport("crowd at polling unit")
	in.Lat, in.Lng = &lat, &lng
	saved, err := s.SavePendingReport(ctx, in)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	s, err = Open(ctx, DefaultConfig(path))
	require.NoError(t, err)
	defer s.Close()

	unsynced, err := s.ListUnsyncedReports(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	got := unsynced[0]
	require.Equal(t, saved.ID, got.ID)
	require.False(t, got.Synced)
	require.Equal(t, 0, got.Attempts)
	require.Nil(t, got.SyncError)
	require.Equal(t, "07", got.WardNumber)
	require.NotNil(t, got.Lat)
	require.InDelta(t, lat, *got.Lat, 1e-9)
	require.InDelta(t, lng, *got.Lng, 1e-9)
}

// Capture never second-guesses the agent; odd input is stored as given and
// left for the remote to accept or reject.
func TestSavePendingReportStoresInputAsCaptured(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	lat := 6.5

	inputs := map[string]ReportInput{
		"unknown type":    {AgentID: "agent-1", Type: "ballot_snatching", Details: "x"},
		"empty details":   {AgentID: "agent-1", Type: ReportOther, Details: "  "},
		"half coordinate": {AgentID: "agent-1", Type: ReportOther, Details: "x", Lat: &lat},
		"missing agent":   {Type: ReportIncident, Details: "x"},
	}
	saved := make(map[string]string)
	for name, in := range inputs {
		r, err := s.SavePendingReport(ctx, in)
		require.NoError(t, err, name)
		saved[r.ID] = name
	}

	unsynced, err := s.ListUnsyncedReports(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, len(inputs))
	for _, r := range unsynced {
		in := inputs[saved[r.ID]]
		require.Equal(t, in.Type, r.Type)
		require.Equal(t, in.Details, r.Details)
		if in.Lat != nil {
			require.NotNil(t, r.Lat)
			require.Nil(t, r.Lng)
		}
	}
}

func TestListUnsyncedReportsFIFO(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, details := range []string{"first", "second", "third"} {
		r, err := s.SavePendingReport(ctx, sampleReport(details))
		require.NoError(t, err)
		ids = append(ids, r.ID)
		clock.Advance(time.Second)
	}

	unsynced, err := s.ListUnsyncedReports(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 3)
	for i, r := range unsynced {
		require.Equal(t, ids[i], r.ID)
	}
}

func TestListUnsyncedReportsSameInstantKeepsCreationOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.SavePendingReport(ctx, sampleReport("a"))
	require.NoError(t, err)
	b, err := s.SavePendingReport(ctx, sampleReport("b"))
	require.NoError(t, err)

	unsynced, err := s.ListUnsyncedReports(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID}, []string{unsynced[0].ID, unsynced[1].ID})
}

func TestMarkReportSyncedIsIdempotent(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	r, err := s.SavePendingReport(ctx, sampleReport("x"))
	require.NoError(t, err)

	require.NoError(t, s.MarkReportSynced(ctx, r.ID, "remote-1"))
	first, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, s.MarkReportSynced(ctx, r.ID, "remote-2"))
	second, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.True(t, second.Synced)
	require.Equal(t, "remote-1", second.RemoteID)

	unsynced, err := s.ListUnsyncedReports(ctx)
	require.NoError(t, err)
	require.Empty(t, unsynced)
}

func TestMarkReportSyncedUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.MarkReportSynced(context.Background(), "nope", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordReportSyncError(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	r, err := s.SavePendingReport(ctx, sampleReport("x"))
	require.NoError(t, err)

	require.NoError(t, s.RecordReportSyncError(ctx, r.ID, "timeout"))
	require.NoError(t, s.RecordReportSyncError(ctx, r.ID, "503"))

	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	require.False(t, got.Synced)
	require.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.SyncError)
	require.Equal(t, "503", *got.SyncError)
	require.NotNil(t, got.LastAttempt)

	// Synced reports are immutable.
	require.NoError(t, s.MarkReportSynced(ctx, r.ID, ""))
	err = s.RecordReportSyncError(ctx, r.ID, "late")
	require.ErrorIs(t, err, ErrReportSynced)
	got, err = s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Attempts)
}

func TestRejectedReportsAreHeldForReview(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	r, err := s.SavePendingReport(ctx, sampleReport("x"))
	require.NoError(t, err)
	require.NoError(t, s.MarkReportRejected(ctx, r.ID, "422 invalid ward"))

	unsynced, err := s.ListUnsyncedReports(ctx)
	require.NoError(t, err)
	require.Empty(t, unsynced)

	rejected, err := s.ListRejectedReports(ctx)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, 1, rejected[0].Attempts)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.UnsyncedReports)
	require.Equal(t, 1, st.RejectedReports)

	require.NoError(t, s.RequeueReport(ctx, r.ID))
	unsynced, err = s.ListUnsyncedReports(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	require.Equal(t, 1, unsynced[0].Attempts)
}
