// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", orgID).Info("role created")
//
// Request-scoped loggers pick up request_id, user_id and org_id:
//
//	observability.FromContext(r.Context()).Warn("capability denied")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordDecision(allowed, reason)
//	metrics.RecordCacheLookup("redis", hit)
//
// All Record* methods tolerate a nil *Metrics so library code can run
// without a registry.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.RegisterRoutes(router)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "gatekeeper",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
