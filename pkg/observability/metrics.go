package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// Every recording method is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal     *prometheus.CounterVec
	ResolveDuration    *prometheus.HistogramVec
	ResolveErrorsTotal prometheus.Counter
	MutationsTotal     *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Redis pool metrics, labelled by connection state or event
	RedisPoolConnections *prometheus.GaugeVec
	RedisPoolEvents      *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_authz_decisions_total",
				Help: "Capability checks by outcome",
			},
			[]string{"result", "reason"},
		),
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_authz_resolve_duration_seconds",
				Help:    "Effective permission resolution latency",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"source"},
		),
		ResolveErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_authz_resolve_errors_total",
				Help: "Resolutions that failed and were treated as deny",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_authz_mutations_total",
				Help: "Role, policy and assignment mutations",
			},
			[]string{"operation", "status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"cache_type"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cache_invalidations_total",
				Help: "Per-org cache generation bumps",
			},
			[]string{"cache_type", "status"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		RedisPoolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatekeeper_redis_pool_connections",
				Help: "Redis pool connections by state",
			},
			[]string{"state"},
		),
		RedisPoolEvents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatekeeper_redis_pool_events",
				Help: "Cumulative Redis pool hits, misses and timeouts",
			},
			[]string{"event"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.ResolveDuration,
		m.ResolveErrorsTotal,
		m.MutationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.RedisPoolConnections,
		m.RedisPoolEvents,
	)

	return m
}

// RecordDecision counts one capability check
func (m *Metrics) RecordDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.DecisionsTotal.WithLabelValues(result, reason).Inc()
}

// RecordResolve observes one resolution; source is "cache" or "store"
func (m *Metrics) RecordResolve(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ResolveErrorsTotal.Inc()
		return
	}
	m.ResolveDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordMutation counts one store mutation
func (m *Metrics) RecordMutation(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.MutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCacheLookup counts a hit or miss for cacheType
func (m *Metrics) RecordCacheLookup(cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordInvalidation counts one generation bump
func (m *Metrics) RecordInvalidation(cacheType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CacheInvalidationsTotal.WithLabelValues(cacheType, status).Inc()
}

// UpdateDBStats copies connection pool stats into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// UpdateRedisPoolStats copies Redis pool stats into the gauges
func (m *Metrics) UpdateRedisPoolStats(stats *redis.PoolStats) {
	if m == nil || stats == nil {
		return
	}
	m.RedisPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns))
	m.RedisPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns))
	m.RedisPoolConnections.WithLabelValues("stale").Set(float64(stats.StaleConns))
	m.RedisPoolEvents.WithLabelValues("hit").Set(float64(stats.Hits))
	m.RedisPoolEvents.WithLabelValues("miss").Set(float64(stats.Misses))
	m.RedisPoolEvents.WithLabelValues("timeout").Set(float64(stats.Timeouts))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux path template so IDs do not explode cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
