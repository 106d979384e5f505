package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	// a second registration on the same registry must panic
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_RecordDecision(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision(true, "granted by role")
	m.RecordDecision(false, "disabled by organization policy")
	m.RecordDecision(false, "disabled by organization policy")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("allowed", "granted by role")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("denied", "disabled by organization policy")))
}

func TestMetrics_RecordResolve(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordResolve("cache", time.Millisecond, nil)
	m.RecordResolve("store", time.Millisecond, errors.New("db down"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.ResolveDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResolveErrorsTotal))
}

func TestMetrics_CacheAndMutations(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup("redis", true)
	m.RecordCacheLookup("redis", false)
	m.RecordCacheLookup("redis", false)
	m.RecordInvalidation("redis", nil)
	m.RecordInvalidation("redis", errors.New("timeout"))
	m.RecordMutation("role.create", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("redis")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("redis")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheInvalidationsTotal.WithLabelValues("redis", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues("role.create", "ok")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision(true, "x")
		m.RecordResolve("cache", 0, nil)
		m.RecordMutation("op", nil)
		m.RecordCacheLookup("lru", true)
		m.RecordInvalidation("lru", nil)
		m.UpdateDBStats(sql.DBStats{})
		m.UpdateRedisPoolStats(&redis.PoolStats{})
	})
}

func TestMetrics_UpdateDBStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.UpdateDBStats(sql.DBStats{OpenConnections: 5, InUse: 2, Idle: 3, WaitCount: 7})

	assert.Equal(t, float64(5), testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DBConnectionsInUse))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DBConnectionsIdle))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.DBConnectionsWaitCount))
}

func TestMetrics_UpdateRedisPoolStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.UpdateRedisPoolStats(nil)
	m.UpdateRedisPoolStats(&redis.PoolStats{Hits: 10, Misses: 2, Timeouts: 1, TotalConns: 4, IdleConns: 3, StaleConns: 1})

	assert.Equal(t, float64(4), testutil.ToFloat64(m.RedisPoolConnections.WithLabelValues("total")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RedisPoolConnections.WithLabelValues("idle")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.RedisPoolEvents.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RedisPoolEvents.WithLabelValues("timeout")))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/orgs/{org_id}/roles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}).Methods("POST")

	for _, org := range []string{"a", "b"} {
		req := httptest.NewRequest("POST", "/orgs/"+org+"/roles", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/orgs/{org_id}/roles", "201")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordDecision(true, "granted by role")

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gatekeeper_authz_decisions_total")
}
