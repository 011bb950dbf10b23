// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jothanjoseph26-ctrl/election/fieldstore"
	"github.com/jothanjoseph26-ctrl/election/remote"
)

// SkipReason explains why SyncOnce did not run a pass
type SkipReason string

const (
	SkipOffline     SkipReason = "offline"
	SkipBusy        SkipReason = "in_progress"
	SkipMaintenance SkipReason = "maintenance"
)

// PhaseCounts tallies rows handled by one phase
type PhaseCounts struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`   // transient, left for the next pass
	Rejected  int `json:"rejected"` // permanent, held for review
	Unknown   int `json:"unknown"`  // commands with no registered handler

	// Unauthorized counts failures where the remote refused the device
	// credentials. They are also counted in Failed.
	Unauthorized int `json:"unauthorized,omitempty"`
}

// PassResult summarizes one sync pass
type PassResult struct {
	Skipped          SkipReason    `json:"skipped,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Reports          PhaseCounts   `json:"reports"`
	Commands         PhaseCounts   `json:"commands"`
	BroadcastsCached int           `json:"broadcasts_cached"`
	AgentRefreshed   bool          `json:"agent_refreshed"`
	ReferenceErrors  []string      `json:"reference_errors,omitempty"`
}

// runPass executes the phases in order. Row and remote failures stay inside
// their phase; only failure to read the store aborts the pass.
func (o *Orchestrator) runPass(ctx context.Context) (*PassResult, error) {
	res := &PassResult{StartedAt: time.Now()}
	start := o.stageStart()
	o.logger.Debug("Sync pass started")

	err := o.syncReports(ctx, res)
	if err == nil {
		o.refreshReferenceData(ctx, res)
		err = o.drainQueue(ctx, res)
	}

	res.Duration = time.Since(res.StartedAt)
	o.observeStage(ctx, MetricsOpSync, MetricsStageTotal, start,
		res.Reports.Attempted+res.Commands.Attempted,
		res.Reports.Failed+res.Reports.Rejected+res.Commands.Failed+res.Commands.Rejected,
		err != nil)
	o.recordOutcome(res.StartedAt, err)

	if err != nil {
		return res, fmt.Errorf("sync pass aborted: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.config.CallTimeout)
}

// syncReports delivers unsynced reports oldest first.
func (o *Orchestrator) syncReports(ctx context.Context, res *PassResult) error {
	start := o.stageStart()
	reports, err := o.store.ListUnsyncedReports(ctx)
	if err != nil {
		o.observeStage(ctx, MetricsOpSync, MetricsStageReports, start, 0, 0, true)
		return fmt.Errorf("failed to list unsynced reports: %w", err)
	}

	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			o.observeStage(ctx, MetricsOpSync, MetricsStageReports, start, res.Reports.Attempted, res.Reports.Failed+res.Reports.Rejected, true)
			return err
		}
		res.Reports.Attempted++
		o.syncReport(ctx, r, &res.Reports)
	}

	o.observeStage(ctx, MetricsOpSync, MetricsStageReports, start,
		res.Reports.Attempted, res.Reports.Failed+res.Reports.Rejected, false)
	return nil
}

func (o *Orchestrator) syncReport(ctx context.Context, r fieldstore.PendingReport, counts *PhaseCounts) {
	callCtx, cancel := o.callContext(ctx)
	remoteID, err := o.api.InsertReport(callCtx, reportPayload(r))
	cancel()

	if err == nil {
		if err := o.store.MarkReportSynced(ctx, r.ID, remoteID); err != nil {
			// Delivered but not recorded; the next pass resends with the same client_ref.
			o.logger.Error("Failed to mark report synced", "id", r.ID, "error", err)
			counts.Failed++
			return
		}
		counts.Succeeded++
		return
	}

	if remote.IsRejected(err) {
		o.logger.Warn("Report rejected by remote", "id", r.ID, "error", err)
		if serr := o.store.MarkReportRejected(ctx, r.ID, err.Error()); serr != nil {
			o.logger.Error("Failed to record report rejection", "id", r.ID, "error", serr)
		}
		counts.Rejected++
		return
	}

	if remote.IsAuthError(err) {
		o.logger.Warn("Remote refused device credentials", "id", r.ID, "error", err)
		counts.Unauthorized++
	} else {
		o.logger.Warn("Report sync failed", "id", r.ID, "attempt", r.Attempts+1, "error", err)
	}
	if serr := o.store.RecordReportSyncError(ctx, r.ID, err.Error()); serr != nil {
		o.logger.Error("Failed to record report sync error", "id", r.ID, "error", serr)
	}
	counts.Failed++
}

func reportPayload(r fieldstore.PendingReport) remote.ReportPayload {
	return remote.ReportPayload{
		ClientRef:  r.ID,
		AgentID:    r.AgentID,
		ReportType: string(r.Type),
		Details:    r.Details,
		WardNumber: r.WardNumber,
		Lat:        r.Lat,
		Lng:        r.Lng,
		CreatedAt:  r.CreatedAt,
	}
}

// refreshReferenceData caches the latest broadcasts and the agent profile.
// Failures are logged and collected on the result.
func (o *Orchestrator) refreshReferenceData(ctx context.Context, res *PassResult) {
	start := o.stageStart()
	var failures int

	callCtx, cancel := o.callContext(ctx)
	broadcasts, err := o.api.ListBroadcasts(callCtx, o.config.BroadcastLimit)
	cancel()
	if err != nil {
		o.logger.Warn("Failed to fetch broadcasts", "error", err)
		res.ReferenceErrors = append(res.ReferenceErrors, "broadcasts: "+err.Error())
		failures++
	}
	for _, b := range broadcasts {
		if err := o.store.UpsertCachedBroadcast(ctx, broadcastSnapshot(b)); err != nil {
			o.logger.Error("Failed to cache broadcast", "id", b.ID, "error", err)
			res.ReferenceErrors = append(res.ReferenceErrors, "broadcast "+b.ID+": "+err.Error())
			failures++
			continue
		}
		res.BroadcastsCached++
	}

	callCtx, cancel = o.callContext(ctx)
	agent, err := o.api.FetchAgentByID(callCtx, o.config.AgentID)
	cancel()
	switch {
	case err != nil:
		o.logger.Warn("Failed to fetch agent profile", "agent_id", o.config.AgentID, "error", err)
		res.ReferenceErrors = append(res.ReferenceErrors, "agent: "+err.Error())
		failures++
	case agent == nil:
		o.logger.Warn("Agent profile not found on remote", "agent_id", o.config.AgentID)
	default:
		if err := o.store.UpsertCachedAgent(ctx, agentSnapshot(*agent)); err != nil {
			o.logger.Error("Failed to cache agent profile", "agent_id", agent.ID, "error", err)
			res.ReferenceErrors = append(res.ReferenceErrors, "agent: "+err.Error())
			failures++
		} else {
			res.AgentRefreshed = true
		}
	}

	o.observeStage(ctx, MetricsOpSync, MetricsStageReference, start, len(broadcasts)+1, failures, false)
}

func broadcastSnapshot(b remote.Broadcast) fieldstore.BroadcastSnapshot {
	return fieldstore.BroadcastSnapshot{
		ID:        b.ID,
		Message:   b.Message,
		Priority:  b.Priority,
		SenderID:  b.SenderID,
		CreatedAt: b.CreatedAt,
	}
}

func agentSnapshot(a remote.Agent) fieldstore.AgentSnapshot {
	return fieldstore.AgentSnapshot{
		ID:                 a.ID,
		FullName:           a.FullName,
		PhoneNumber:        a.PhoneNumber,
		WardName:           a.WardName,
		WardNumber:         a.WardNumber,
		VerificationStatus: a.VerificationStatus,
		PaymentStatus:      a.PaymentStatus,
		LastReportAt:       a.LastReportAt,
	}
}

// drainQueue dispatches queued commands oldest first.
func (o *Orchestrator) drainQueue(ctx context.Context, res *PassResult) error {
	start := o.stageStart()
	cmds, err := o.store.ListQueuedCommands(ctx)
	if err != nil {
		o.observeStage(ctx, MetricsOpSync, MetricsStageCommands, start, 0, 0, true)
		return fmt.Errorf("failed to list queued commands: %w", err)
	}

	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			o.observeStage(ctx, MetricsOpSync, MetricsStageCommands, start, res.Commands.Attempted, res.Commands.Failed+res.Commands.Rejected, true)
			return err
		}
		res.Commands.Attempted++
		o.dispatch(ctx, cmd, &res.Commands)
	}

	o.observeStage(ctx, MetricsOpSync, MetricsStageCommands, start,
		res.Commands.Attempted, res.Commands.Failed+res.Commands.Rejected, false)
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, cmd fieldstore.QueuedCommand, counts *PhaseCounts) {
	handler, ok := o.registry.Lookup(cmd.Type)
	if !ok {
		// Kept in the queue for investigation; the dead-letter cap bounds it.
		o.logger.Error("Unknown command type, leaving queued", "id", cmd.ID, "type", cmd.Type, "attempts", cmd.Attempts)
		if err := o.store.RecordCommandError(ctx, cmd.ID, fmt.Sprintf("unknown command type %q", cmd.Type)); err != nil {
			o.logger.Error("Failed to record command error", "id", cmd.ID, "error", err)
		}
		counts.Unknown++
		return
	}

	callCtx, cancel := o.callContext(ctx)
	err := handler(callCtx, o.api, cmd.Payload)
	cancel()

	switch {
	case err == nil:
		if err := o.store.DequeueCommand(ctx, cmd.ID); err != nil {
			o.logger.Error("Failed to dequeue command", "id", cmd.ID, "error", err)
			counts.Failed++
			return
		}
		counts.Succeeded++
	case errors.Is(err, ErrInvalidPayload) || remote.IsRejected(err):
		o.logger.Warn("Command rejected", "id", cmd.ID, "type", cmd.Type, "error", err)
		if serr := o.store.MarkCommandRejected(ctx, cmd.ID, err.Error()); serr != nil {
			o.logger.Error("Failed to record command rejection", "id", cmd.ID, "error", serr)
		}
		counts.Rejected++
	default:
		if remote.IsAuthError(err) {
			o.logger.Warn("Remote refused device credentials", "id", cmd.ID, "type", cmd.Type, "error", err)
			counts.Unauthorized++
		} else {
			o.logger.Warn("Command dispatch failed", "id", cmd.ID, "type", cmd.Type, "attempt", cmd.Attempts+1, "error", err)
		}
		if serr := o.store.RecordCommandError(ctx, cmd.ID, err.Error()); serr != nil {
			o.logger.Error("Failed to record command error", "id", cmd.ID, "error", serr)
		}
		counts.Failed++
	}
}
