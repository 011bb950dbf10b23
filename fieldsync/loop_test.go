package fieldsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jothanjoseph26-ctrl/election/fieldstore"
	"github.com/jothanjoseph26-ctrl/election/remote"
	"github.com/stretchr/testify/require"
)

const tick = 50 * time.Millisecond

func fastTimer(c *Config) { c.Interval = tick }

func TestTimerDoesNothingWhileOffline(t *testing.T) {
	h := newHarness(t, fastTimer)
	h.saveReport(t, "captured in a dead zone")

	require.NoError(t, h.orch.Start(context.Background()))
	require.Never(t, func() bool { return h.api.callCount() > 0 }, 6*tick, 10*time.Millisecond)

	st, err := h.orch.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, st.UnsyncedReportCount)
	require.Nil(t, st.LastSyncAt)
}

func TestTimerAloneDeliversReport(t *testing.T) {
	h := newHarness(t, fastTimer)
	ctx := context.Background()
	h.monitor.Observe(onlineState)

	require.NoError(t, h.orch.Start(ctx))
	require.Eventually(t, func() bool {
		st, err := h.orch.Status(ctx)
		return err == nil && st.LastSyncAt != nil
	}, 2*time.Second, 10*time.Millisecond, "start-up pass")

	// Nothing wakes the loop from here on; only the ticker can deliver it.
	r := h.saveReport(t, "results posted at ward 4")
	require.Eventually(t, func() bool {
		for _, ref := range h.api.insertedRefs() {
			if ref == r.ID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	got, err := h.store.GetReport(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, got.Synced)
}

func TestTimerSkipsTickDuringPass(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Interval = tick
		c.CallTimeout = 5 * time.Second
	})
	ctx := context.Background()
	h.monitor.Observe(onlineState)
	r := h.saveReport(t, "slow upload")

	var inserts atomic.Int32
	var enteredOnce sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	h.api.setInsert(func(ctx context.Context, p remote.ReportPayload) (string, error) {
		inserts.Add(1)
		enteredOnce.Do(func() { close(entered) })
		<-release
		return "srv-" + p.ClientRef, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.SyncOnce(ctx)
	}()
	<-entered

	require.NoError(t, h.orch.Start(ctx))
	require.Never(t, func() bool { return inserts.Load() > 1 }, 6*tick, 10*time.Millisecond)
	require.True(t, h.orch.Syncing())

	close(release)
	<-done
	h.orch.Stop()

	require.EqualValues(t, 1, inserts.Load())
	got, err := h.store.GetReport(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, got.Synced)
	require.Zero(t, got.Attempts)
}

func TestPurgeTimerDeadLettersCommand(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PurgeInterval = tick })
	ctx := context.Background()

	cmd, err := h.store.EnqueueCommand(ctx, "mystery", []byte(`{}`))
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, h.store.RecordCommandError(ctx, cmd.ID, "boom"))
	}
	h.advance(31 * 24 * time.Hour)

	require.NoError(t, h.orch.Start(ctx))
	require.Eventually(t, func() bool {
		_, err := h.store.GetCommand(ctx, cmd.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = h.store.GetCommand(ctx, cmd.ID)
	require.ErrorIs(t, err, fieldstore.ErrNotFound)
}

// blockingPurgeStore holds PurgeExpired until released
type blockingPurgeStore struct {
	*fieldstore.Store
	entered chan struct{}
	release chan struct{}
}

func (b blockingPurgeStore) PurgeExpired(ctx context.Context, retentionDays int) (fieldstore.PurgeResult, error) {
	close(b.entered)
	<-b.release
	return b.Store.PurgeExpired(ctx, retentionDays)
}

func TestMaintenanceIsNotReportedAsSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.monitor.Observe(onlineState)

	store := blockingPurgeStore{Store: h.store, entered: make(chan struct{}), release: make(chan struct{})}
	cfg := h.orch.config
	orch, err := New(store, h.api, h.monitor, &cfg)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = orch.Maintain(ctx)
	}()
	<-store.entered

	_, err = orch.ForceSync(ctx)
	require.ErrorIs(t, err, ErrMaintenanceInProgress)
	require.NotErrorIs(t, err, ErrSyncInProgress)

	res, err := orch.SyncOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, SkipMaintenance, res.Skipped)

	st, err := orch.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Syncing)
	require.True(t, st.Maintaining)

	close(store.release)
	<-done
	require.False(t, orch.Maintaining())
	require.Zero(t, h.api.callCount())
}
