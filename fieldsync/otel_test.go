package fieldsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestOTelStageRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewOTelStageRecorder(provider.Meter("fieldsync-test"))
	require.NoError(t, err)

	ctx := context.Background()
	rec.ObserveStage(ctx, StageTiming{Operation: MetricsOpSync, Stage: MetricsStageReports, Duration: 40 * time.Millisecond, Count: 3, Failed: 1})
	rec.ObserveStage(ctx, StageTiming{Operation: MetricsOpSync, Stage: MetricsStageReports, Duration: 10 * time.Millisecond, Count: 2})
	rec.ObserveStage(ctx, StageTiming{Operation: MetricsOpSync, Stage: MetricsStageTotal, Duration: 60 * time.Millisecond, Error: true})

	metrics := collect(t, reader)

	hist, ok := metrics["fieldsync.stage.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var observations uint64
	for _, dp := range hist.DataPoints {
		observations += dp.Count
	}
	require.EqualValues(t, 3, observations)

	items, ok := metrics["fieldsync.stage.items"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, items.DataPoints, 1)
	require.EqualValues(t, 5, items.DataPoints[0].Value)
	stage, _ := items.DataPoints[0].Attributes.Value("fieldsync.stage")
	require.Equal(t, MetricsStageReports, stage.AsString())

	failures, ok := metrics["fieldsync.stage.failures"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.EqualValues(t, 1, failures.DataPoints[0].Value)

	errs, ok := metrics["fieldsync.stage.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	stage, _ = errs.DataPoints[0].Attributes.Value("fieldsync.stage")
	require.Equal(t, MetricsStageTotal, stage.AsString())
}

func TestOTelStageRecorderDrivenByOrchestrator(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewOTelStageRecorder(provider.Meter("fieldsync-test"))
	require.NoError(t, err)

	h := newHarness(t, func(c *Config) { c.StageMetrics = rec })
	h.monitor.Observe(onlineState)
	h.saveReport(t, "polling unit opened late")

	_, err = h.orch.SyncOnce(context.Background())
	require.NoError(t, err)

	items, ok := collect(t, reader)["fieldsync.stage.items"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var reports int64
	for _, dp := range items.DataPoints {
		if v, _ := dp.Attributes.Value("fieldsync.stage"); v.AsString() == MetricsStageReports {
			reports += dp.Value
		}
	}
	require.EqualValues(t, 1, reports)
}

func TestNewOTelStageRecorderRequiresMeter(t *testing.T) {
	_, err := NewOTelStageRecorder(nil)
	require.Error(t, err)
}
