package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeter(t *testing.T) (*OTelMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collectNames(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			out[md.Name] = md
		}
	}
	return out
}

func TestOTelMetrics_Records(t *testing.T) {
	m, reader := setupTestMeter(t)
	ctx := context.Background()

	m.RecordDecision(ctx, "content.publish", true)
	m.RecordDecision(ctx, "content.publish", false)
	m.RecordResolve(ctx, "store", 3*time.Millisecond)
	m.RecordMutation(ctx, "role.create", nil)
	m.RecordMutation(ctx, "role.create", errors.New("boom"))
	m.RecordCacheLookup(ctx, "lru", true)

	got := collectNames(t, reader)
	require.Contains(t, got, "authz.decisions")
	require.Contains(t, got, "authz.resolve.duration")
	require.Contains(t, got, "authz.mutations")
	require.Contains(t, got, "authz.cache.lookups")

	sum, ok := got["authz.decisions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, sum.DataPoints, 2)
}

func TestOTelMetrics_NilSafe(t *testing.T) {
	var m *OTelMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordDecision(ctx, "k", true)
		m.RecordResolve(ctx, "cache", time.Millisecond)
		m.RecordMutation(ctx, "op", nil)
		m.RecordCacheLookup(ctx, "lru", false)
	})
}
