package fieldstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCachedAgentReplacesPreviousSnapshot(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCachedAgent(ctx, "agent-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertCachedAgent(ctx, AgentSnapshot{
		ID:                 "agent-1",
		FullName:           "Ada Obi",
		WardName:           "Garki",
		VerificationStatus: "pending",
	}))
	clock.Advance(time.Minute)
	lastReport := clock.Now()
	require.NoError(t, s.UpsertCachedAgent(ctx, AgentSnapshot{
		ID:                 "agent-1",
		FullName:           "Ada Obi",
		WardName:           "Garki II",
		VerificationStatus: "verified",
		LastReportAt:       &lastReport,
	}))

	got, err := s.GetCachedAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "Garki II", got.WardName)
	require.Equal(t, "verified", got.VerificationStatus)
	require.Empty(t, got.PhoneNumber)
	require.NotNil(t, got.LastReportAt)
	require.True(t, lastReport.Equal(*got.LastReportAt))
	require.True(t, clock.Now().Equal(got.CachedAt))

	var rows int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM cached_agents`).Scan(&rows))
	require.Equal(t, 1, rows)
}

func TestCachedBroadcastsNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, s.UpsertCachedBroadcast(ctx, BroadcastSnapshot{
			ID:        id,
			Message:   "msg " + id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.ListCachedBroadcasts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "b3", list[0].ID)
	require.Equal(t, "b2", list[1].ID)
	require.Equal(t, "b1", list[2].ID)
	require.Equal(t, "normal", list[0].Priority)
}

func TestCachedBroadcastRefreshKeepsReadFlag(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)

	snap := BroadcastSnapshot{ID: "b1", Message: "polls open at 8", Priority: "high", CreatedAt: created}
	require.NoError(t, s.UpsertCachedBroadcast(ctx, snap))
	require.NoError(t, s.MarkBroadcastRead(ctx, "b1"))
	require.NoError(t, s.MarkBroadcastRead(ctx, "b1"))

	snap.Message = "polls open at 8:30"
	require.NoError(t, s.UpsertCachedBroadcast(ctx, snap))

	list, err := s.ListCachedBroadcasts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "polls open at 8:30", list[0].Message)
	require.True(t, list[0].Read)

	require.ErrorIs(t, s.MarkBroadcastRead(ctx, "missing"), ErrNotFound)
}
