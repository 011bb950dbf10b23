package fieldstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFOAndDequeue(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnqueueCommand(ctx, "report_update", []byte(`{"report_id":"r1"}`))
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.EnqueueCommand(ctx, "agent_status_update", []byte(`{"agent_id":"a1"}`))
	require.NoError(t, err)

	cmds, err := s.ListQueuedCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, first.ID, cmds[0].ID)
	require.Equal(t, second.ID, cmds[1].ID)
	require.JSONEq(t, `{"report_id":"r1"}`, string(cmds[0].Payload))
	require.Equal(t, 0, cmds[0].Attempts)

	require.NoError(t, s.DequeueCommand(ctx, first.ID))
	require.NoError(t, s.DequeueCommand(ctx, first.ID))

	cmds, err = s.ListQueuedCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, second.ID, cmds[0].ID)
}

func TestEnqueueCommandRequiresType(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.EnqueueCommand(context.Background(), " ", nil)
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestEnqueueCommandNilPayload(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cmd, err := s.EnqueueCommand(ctx, "noop", nil)
	require.NoError(t, err)

	got, err := s.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	require.Empty(t, got.Payload)
}

func TestRecordCommandErrorKeepsCommandQueued(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cmd, err := s.EnqueueCommand(ctx, "report_update", []byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, s.RecordCommandError(ctx, cmd.ID, "timeout"))
	require.NoError(t, s.RecordCommandError(ctx, cmd.ID, "502"))

	got, err := s.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Error)
	require.Equal(t, "502", *got.Error)
	require.NotNil(t, got.LastAttempt)
	require.False(t, got.Rejected)

	require.ErrorIs(t, s.RecordCommandError(ctx, "missing", "x"), ErrNotFound)
}

func TestRejectedCommandsAreNotDispatched(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cmd, err := s.EnqueueCommand(ctx, "report_update", []byte(`not json`))
	require.NoError(t, err)
	require.NoError(t, s.MarkCommandRejected(ctx, cmd.ID, "decode payload"))

	queued, err := s.ListQueuedCommands(ctx)
	require.NoError(t, err)
	require.Empty(t, queued)

	rejected, err := s.ListRejectedCommands(ctx)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.True(t, rejected[0].Rejected)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.QueueDepth)
	require.Equal(t, 1, st.RejectedCommands)
}

func TestRequeueCommand(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cmd, err := s.EnqueueCommand(ctx, "agent_status_update", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, s.MarkCommandRejected(ctx, cmd.ID, "422 validation_failed"))

	require.NoError(t, s.RequeueCommand(ctx, cmd.ID))
	queued, err := s.ListQueuedCommands(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.False(t, queued[0].Rejected)
	require.Equal(t, 1, queued[0].Attempts)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.QueueDepth)
	require.Zero(t, st.RejectedCommands)

	require.ErrorIs(t, s.RequeueCommand(ctx, "missing"), ErrNotFound)
}
