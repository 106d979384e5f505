package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// HealthStatus is the body of the readiness endpoint
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// probe checks one dependency. A failing critical probe makes the service
// unhealthy; any other failure only degrades it.
type probe struct {
	name     string
	critical bool
	check    func(ctx context.Context) (status, message string)
}

// HealthChecker probes the database and the optional Redis cache
type HealthChecker struct {
	probes  []probe
	version string
}

// NewHealthChecker creates a checker for db and redis, either of which may
// be nil. Redis is never critical: the resolver falls through to the
// repository on cache errors.
func NewHealthChecker(db *sql.DB, rc *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.probes = append(h.probes, probe{name: "database", critical: true, check: databaseProbe(db)})
	}
	if rc != nil {
		h.probes = append(h.probes, probe{name: "redis", check: func(ctx context.Context) (string, string) {
			if err := rc.Ping(ctx).Err(); err != nil {
				return StatusUnhealthy, err.Error()
			}
			return StatusHealthy, ""
		}})
	}
	return h
}

func databaseProbe(db *sql.DB) func(ctx context.Context) (string, string) {
	return func(ctx context.Context) (string, string) {
		if err := db.PingContext(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return StatusUnhealthy, "query failed: " + err.Error()
		}
		if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return StatusDegraded, "connection pool exhausted"
		}
		return StatusHealthy, ""
	}
}

// Check runs every probe and folds the results into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		start := time.Now()
		result, message := p.check(ctx)
		status.Dependencies[p.name] = DependencyStatus{
			Status:    result,
			Message:   message,
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: start.UTC(),
		}

		switch {
		case result == StatusHealthy:
		case result == StatusUnhealthy && p.critical:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

// Liveness answers 200 while the process is running
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness answers 503 while a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterRoutes registers the health endpoints
func (h *HealthChecker) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
}
