// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"
	"time"
)

// Status is a point-in-time snapshot for the UI layer
type Status struct {
	Online               bool       `json:"online"`
	Connected            bool       `json:"connected"`
	Reachable            bool       `json:"reachable"`
	Syncing              bool       `json:"syncing"`
	Maintaining          bool       `json:"maintaining"`
	UnsyncedReportCount  int        `json:"unsynced_report_count"`
	RejectedReportCount  int        `json:"rejected_report_count"`
	CachedBroadcastCount int        `json:"cached_broadcast_count"`
	QueueDepth           int        `json:"queue_depth"`
	RejectedCommandCount int        `json:"rejected_command_count"`
	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError        string     `json:"last_sync_error,omitempty"`
}

// Status returns the current status snapshot
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load store stats: %w", err)
	}
	net := o.monitor.State()

	st := Status{
		Online:               o.monitor.CurrentlyOnline(),
		Connected:            net.Connected,
		Reachable:            net.Reachable,
		Syncing:              o.Syncing(),
		Maintaining:          o.Maintaining(),
		UnsyncedReportCount:  stats.UnsyncedReports,
		RejectedReportCount:  stats.RejectedReports,
		CachedBroadcastCount: stats.CachedBroadcasts,
		QueueDepth:           stats.QueueDepth,
		RejectedCommandCount: stats.RejectedCommands,
	}

	o.resultMu.RLock()
	if o.lastSyncAt != nil {
		at := *o.lastSyncAt
		st.LastSyncAt = &at
	}
	st.LastSyncError = o.lastSyncError
	o.resultMu.RUnlock()

	return st, nil
}
