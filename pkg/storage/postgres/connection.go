package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// DefaultConnectTimeout bounds the initial ping
const DefaultConnectTimeout = 10 * time.Second

// ConnectionManager owns the primary PostgreSQL pool. Every read and write
// goes to the primary so a committed write is visible to the next resolve.
type ConnectionManager struct {
	primary *sql.DB
	logger  *observability.Logger
}

// NewConnectionManager opens and pings the primary described by cfg
func NewConnectionManager(ctx context.Context, cfg config.DatabaseConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	primary, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}

	cm, err := NewConnectionManagerFromDB(ctx, primary, cfg, logger)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return cm, nil
}

// NewConnectionManagerFromDB applies pool settings to an open handle and
// verifies it
func NewConnectionManagerFromDB(ctx context.Context, db *sql.DB, cfg config.DatabaseConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("Connection manager initialized with primary only")

	return &ConnectionManager{primary: db, logger: logger}, nil
}

// Primary returns the primary database connection
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// HealthCheck pings the primary
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics for the primary
func (cm *ConnectionManager) Stats() sql.DBStats {
	return cm.primary.Stats()
}

// StartStatsRoutine reports pool statistics to report every interval until
// ctx is done
func (cm *ConnectionManager) StartStatsRoutine(ctx context.Context, interval time.Duration, report func(sql.DBStats)) {
	if interval == 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		defer func() {
			if r := recover(); r != nil {
				cm.logger.Errorf("[StatsRoutine] PANIC: %v\n%s", r, debug.Stack())
			}
		}()

		for {
			select {
			case <-ticker.C:
				report(cm.primary.Stats())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes the primary pool
func (cm *ConnectionManager) Close() error {
	if err := cm.primary.Close(); err != nil {
		return fmt.Errorf("primary close error: %w", err)
	}
	return nil
}
