package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/gatekeeper"

// OTelMetrics holds OpenTelemetry instruments for authorization decisions.
// It mirrors the Prometheus Metrics for deployments that ship metrics over OTLP.
type OTelMetrics struct {
	decisions       metric.Int64Counter
	resolveDuration metric.Float64Histogram
	mutations       metric.Int64Counter
	cacheLookups    metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(meterName))
}

// NewOTelMetricsWithMeter creates instruments on the given meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.decisions, err = meter.Int64Counter(
		"authz.decisions",
		metric.WithDescription("Capability checks by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.decisions counter: %w", err)
	}

	m.resolveDuration, err = meter.Float64Histogram(
		"authz.resolve.duration",
		metric.WithDescription("Effective permission resolution latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.resolve.duration histogram: %w", err)
	}

	m.mutations, err = meter.Int64Counter(
		"authz.mutations",
		metric.WithDescription("Role, policy and assignment mutations"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.mutations counter: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"authz.cache.lookups",
		metric.WithDescription("Permission cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.cache.lookups counter: %w", err)
	}

	return m, nil
}

// RecordDecision records one capability check
func (m *OTelMetrics) RecordDecision(ctx context.Context, capability string, allowed bool) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("authz.capability", capability),
		attribute.Bool("authz.allowed", allowed),
	))
}

// RecordResolve records one resolution latency
func (m *OTelMetrics) RecordResolve(ctx context.Context, source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resolveDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("authz.source", source),
	))
}

// RecordMutation records one store mutation
func (m *OTelMetrics) RecordMutation(ctx context.Context, operation string, err error) {
	if m == nil {
		return
	}
	m.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("authz.operation", operation),
		attribute.Bool("error", err != nil),
	))
}

// RecordCacheLookup records a hit or miss
func (m *OTelMetrics) RecordCacheLookup(ctx context.Context, cacheType string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.type", cacheType),
		attribute.Bool("cache.hit", hit),
	))
}
