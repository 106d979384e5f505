package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

func newMockManager(t *testing.T) (*ConnectionManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	cm, err := NewConnectionManagerFromDB(context.Background(), db, config.DatabaseConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Minute,
	}, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return cm, mock
}

func TestNewConnectionManager_RequiresURL(t *testing.T) {
	_, err := NewConnectionManager(context.Background(), config.DatabaseConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestNewConnectionManagerFromDB(t *testing.T) {
	t.Run("applies pool settings", func(t *testing.T) {
		cm, mock := newMockManager(t)
		assert.NotNil(t, cm.Primary())
		assert.Equal(t, 10, cm.Stats().MaxOpenConnections)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping failure", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		_, err = NewConnectionManagerFromDB(context.Background(), db, config.DatabaseConfig{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping primary")
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	cm, mock := newMockManager(t)

	mock.ExpectPing()
	assert.NoError(t, cm.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("gone"))
	err := cm.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary unhealthy")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionManager_StartStatsRoutine(t *testing.T) {
	cm, _ := newMockManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reports atomic.Int32
	cm.StartStatsRoutine(ctx, 5*time.Millisecond, func(stats sql.DBStats) {
		reports.Add(1)
	})

	assert.Eventually(t, func() bool { return reports.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestConnectionManager_Close(t *testing.T) {
	cm, mock := newMockManager(t)
	mock.ExpectClose()
	assert.NoError(t, cm.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
