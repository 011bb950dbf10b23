// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"time"
)

const (
	MetricsOpSync        = "sync"
	MetricsOpMaintenance = "maintenance"

	MetricsStageTotal = "total"

	MetricsStageReports   = "reports"
	MetricsStageReference = "reference"
	MetricsStageCommands  = "commands"
	MetricsStagePurge     = "purge"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int // rows attempted
	Failed    int // rows that failed or were rejected
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (o *Orchestrator) stageTimingEnabled() bool {
	return o.config.StageMetrics != nil || o.config.LogStageTimings
}

func (o *Orchestrator) stageStart() time.Time {
	if !o.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o *Orchestrator) observeStage(ctx context.Context, op, stage string, start time.Time, count, failed int, hadError bool) {
	if start.IsZero() {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Failed:    failed,
		Error:     hadError,
	}

	if o.config.StageMetrics != nil {
		o.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if o.config.LogStageTimings {
		o.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"failed", timing.Failed,
			"error", timing.Error,
		)
	}
}
