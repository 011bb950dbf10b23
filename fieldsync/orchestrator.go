// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

// Package fieldsync decides when and how locally captured work is delivered
// to the system of record. An Orchestrator runs sync passes: pending reports
// first, then reference data refresh, then the generic command queue.
// At most one pass runs at a time.
package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jothanjoseph26-ctrl/election/fieldstore"
	"github.com/jothanjoseph26-ctrl/election/netmon"
	"github.com/jothanjoseph26-ctrl/election/remote"
)

var (
	// ErrNotConnected is returned by ForceSync when the device is offline.
	ErrNotConnected = errors.New("not connected")
	// ErrSyncInProgress is returned by ForceSync when a pass is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrMaintenanceInProgress is returned by ForceSync while a purge runs.
	ErrMaintenanceInProgress = errors.New("maintenance in progress")
)

// Store is the subset of the local store the orchestrator drives
type Store interface {
	ListUnsyncedReports(ctx context.Context) ([]fieldstore.PendingReport, error)
	MarkReportSynced(ctx context.Context, id, remoteID string) error
	RecordReportSyncError(ctx context.Context, id, message string) error
	MarkReportRejected(ctx context.Context, id, message string) error

	UpsertCachedAgent(ctx context.Context, snap fieldstore.AgentSnapshot) error
	UpsertCachedBroadcast(ctx context.Context, snap fieldstore.BroadcastSnapshot) error

	EnqueueCommand(ctx context.Context, cmdType string, payload []byte) (fieldstore.QueuedCommand, error)
	ListQueuedCommands(ctx context.Context) ([]fieldstore.QueuedCommand, error)
	DequeueCommand(ctx context.Context, id string) error
	RecordCommandError(ctx context.Context, id, message string) error
	MarkCommandRejected(ctx context.Context, id, message string) error

	PurgeExpired(ctx context.Context, retentionDays int) (fieldstore.PurgeResult, error)
	Stats(ctx context.Context) (fieldstore.Stats, error)
}

// RemoteAPI is the system of record as seen by the orchestrator
type RemoteAPI interface {
	InsertReport(ctx context.Context, report remote.ReportPayload) (string, error)
	UpdateEntity(ctx context.Context, kind, id string, fields map[string]any) error
	ListBroadcasts(ctx context.Context, limit int) ([]remote.Broadcast, error)
	FetchAgentByID(ctx context.Context, id string) (*remote.Agent, error)
}

// Monitor supplies the online signal
type Monitor interface {
	CurrentlyOnline() bool
	State() netmon.State
	Subscribe(cb func(online bool)) (cancel func())
}

const (
	stateIdle int32 = iota
	stateSyncing
	stateMaintenance
)

// Orchestrator owns the idle/syncing state machine and the background loop
type Orchestrator struct {
	store    Store
	api      RemoteAPI
	monitor  Monitor
	registry *Registry
	config   Config
	logger   *slog.Logger

	state atomic.Int32

	// Background loop control
	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	unsubscribe func()
	wake        chan struct{}
	wg          sync.WaitGroup

	// Last pass outcome, guarded by resultMu
	resultMu      sync.RWMutex
	lastSyncAt    *time.Time
	lastSyncError string
}

// New creates an orchestrator. All collaborators are required.
func New(store Store, api RemoteAPI, monitor Monitor, cfg *Config) (*Orchestrator, error) {
	if store == nil || api == nil || monitor == nil {
		return nil, fmt.Errorf("store, remote API and monitor are required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("config.AgentID must be provided")
	}
	c := cfg.withDefaults()

	return &Orchestrator{
		store:    store,
		api:      api,
		monitor:  monitor,
		registry: DefaultRegistry(c.AgentID),
		config:   c,
		logger:   c.Logger,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Registry returns the command registry so callers can add command types
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Syncing reports whether a pass is running
func (o *Orchestrator) Syncing() bool {
	return o.state.Load() == stateSyncing
}

// Maintaining reports whether a purge is running
func (o *Orchestrator) Maintaining() bool {
	return o.state.Load() == stateMaintenance
}

// busy maps a lost state transition to the skip reason for the state that won
func (o *Orchestrator) busy() SkipReason {
	if o.state.Load() == stateMaintenance {
		return SkipMaintenance
	}
	return SkipBusy
}

// SyncOnce runs one pass if the device is online and no pass is running.
// Otherwise it returns a result with Skipped set and no error.
func (o *Orchestrator) SyncOnce(ctx context.Context) (*PassResult, error) {
	if !o.monitor.CurrentlyOnline() {
		return &PassResult{Skipped: SkipOffline}, nil
	}
	if !o.state.CompareAndSwap(stateIdle, stateSyncing) {
		return &PassResult{Skipped: o.busy()}, nil
	}
	defer o.state.Store(stateIdle)

	return o.runPass(ctx)
}

// ForceSync runs a pass now. It fails fast with ErrNotConnected when offline,
// ErrSyncInProgress when a pass is already running and
// ErrMaintenanceInProgress while a purge runs.
func (o *Orchestrator) ForceSync(ctx context.Context) (*PassResult, error) {
	if !o.monitor.CurrentlyOnline() {
		return nil, ErrNotConnected
	}
	if !o.state.CompareAndSwap(stateIdle, stateSyncing) {
		if o.busy() == SkipMaintenance {
			return nil, ErrMaintenanceInProgress
		}
		return nil, ErrSyncInProgress
	}
	defer o.state.Store(stateIdle)

	return o.runPass(ctx)
}

// Start subscribes to connectivity changes and starts the periodic loop.
// Calling Start on a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.unsubscribe = o.monitor.Subscribe(func(online bool) {
		if online {
			o.TriggerWake()
		}
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.loop(loopCtx)
	}()

	o.running = true
	o.logger.Info("Sync orchestrator started",
		"agent_id", o.config.AgentID,
		"interval", o.config.Interval,
		"purge_interval", o.config.PurgeInterval)

	if o.monitor.CurrentlyOnline() {
		o.TriggerWake()
	}
	return nil
}

// Stop unsubscribes, stops the timers and waits for the loop to exit.
// A pass in flight runs to completion first.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}

	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	o.running = false
	o.cancel = nil
	o.unsubscribe = nil
	o.logger.Info("Sync orchestrator stopped")
}

// IsRunning returns whether the background loop is running
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// TriggerWake asks the background loop to attempt a pass soon
func (o *Orchestrator) TriggerWake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	o.logger.Debug("Sync loop started")
	defer o.logger.Debug("Sync loop stopped")

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	var purgeC <-chan time.Time
	if o.config.PurgeInterval > 0 {
		purgeTicker := time.NewTicker(o.config.PurgeInterval)
		defer purgeTicker.Stop()
		purgeC = purgeTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.backgroundPass(ctx, "timer")
		case <-o.wake:
			o.backgroundPass(ctx, "wake")
		case <-purgeC:
			o.Maintain(context.WithoutCancel(ctx))
		}
	}
}

// backgroundPass runs a pass detached from loop cancellation so that Stop
// lets it finish.
func (o *Orchestrator) backgroundPass(ctx context.Context, trigger string) {
	res, err := o.SyncOnce(context.WithoutCancel(ctx))
	if err != nil {
		o.logger.Error("Sync pass aborted", "trigger", trigger, "error", err)
		return
	}
	if res.Skipped != "" {
		o.logger.Debug("Sync pass skipped", "trigger", trigger, "reason", res.Skipped)
		return
	}
	o.logger.Info("Sync pass completed",
		"trigger", trigger,
		"reports_synced", res.Reports.Succeeded,
		"reports_failed", res.Reports.Failed,
		"commands_dispatched", res.Commands.Succeeded,
		"commands_failed", res.Commands.Failed,
		"duration", res.Duration)
}

// Maintain purges expired rows if no pass is running.
// It reports whether maintenance ran.
func (o *Orchestrator) Maintain(ctx context.Context) (fieldstore.PurgeResult, bool, error) {
	if !o.state.CompareAndSwap(stateIdle, stateMaintenance) {
		return fieldstore.PurgeResult{}, false, nil
	}
	defer o.state.Store(stateIdle)

	start := o.stageStart()
	res, err := o.store.PurgeExpired(ctx, o.config.RetentionDays)
	o.observeStage(ctx, MetricsOpMaintenance, MetricsStagePurge, start,
		int(res.Reports+res.Broadcasts+res.Agents+res.DeadLetters), 0, err != nil)
	if err != nil {
		o.logger.Error("Purge failed", "error", err)
		return res, true, err
	}
	o.logger.Info("Purged expired rows",
		"reports", res.Reports,
		"broadcasts", res.Broadcasts,
		"agents", res.Agents,
		"dead_letters", res.DeadLetters)
	return res, true, nil
}

func (o *Orchestrator) recordOutcome(at time.Time, err error) {
	o.resultMu.Lock()
	defer o.resultMu.Unlock()
	o.lastSyncAt = &at
	if err != nil {
		o.lastSyncError = err.Error()
	} else {
		o.lastSyncError = ""
	}
}
