// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelStageRecorder exports stage timings as OpenTelemetry instruments.
type OTelStageRecorder struct {
	duration metric.Float64Histogram
	items    metric.Int64Counter
	failures metric.Int64Counter
	errors   metric.Int64Counter
}

// NewOTelStageRecorder creates the stage instruments on meter.
func NewOTelStageRecorder(meter metric.Meter) (*OTelStageRecorder, error) {
	if meter == nil {
		return nil, fmt.Errorf("meter cannot be nil")
	}

	r := &OTelStageRecorder{}
	var err error

	r.duration, err = meter.Float64Histogram(
		"fieldsync.stage.duration",
		metric.WithDescription("Sync stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	r.items, err = meter.Int64Counter(
		"fieldsync.stage.items",
		metric.WithDescription("Rows attempted by a sync stage"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create items counter: %w", err)
	}

	r.failures, err = meter.Int64Counter(
		"fieldsync.stage.failures",
		metric.WithDescription("Rows that failed or were rejected in a sync stage"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}

	r.errors, err = meter.Int64Counter(
		"fieldsync.stage.errors",
		metric.WithDescription("Sync stages that ended with an error"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errors counter: %w", err)
	}

	return r, nil
}

func (r *OTelStageRecorder) ObserveStage(ctx context.Context, timing StageTiming) {
	attrs := metric.WithAttributes(
		attribute.String("fieldsync.operation", timing.Operation),
		attribute.String("fieldsync.stage", timing.Stage),
	)
	r.duration.Record(ctx, timing.Duration.Seconds(), attrs)
	if timing.Count > 0 {
		r.items.Add(ctx, int64(timing.Count), attrs)
	}
	if timing.Failed > 0 {
		r.failures.Add(ctx, int64(timing.Failed), attrs)
	}
	if timing.Error {
		r.errors.Add(ctx, 1, attrs)
	}
}
