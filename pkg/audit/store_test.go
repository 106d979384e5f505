package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockArchiver struct {
	cutoff time.Time
	data   []byte
	err    error
	calls  int
}

func (m *mockArchiver) Archive(ctx context.Context, cutoff time.Time, data []byte) (string, error) {
	m.calls++
	m.cutoff = cutoff
	m.data = data
	if m.err != nil {
		return "", m.err
	}
	return "audit/archive.ndjson", nil
}

func newTestStore(t *testing.T, archiver Archiver) (*DBStore, sqlmock.Sqlmock, time.Time) {
	db, mock := setupMockDB(t)
	store := NewDBStore(&DBLogger{db: db}, archiver)
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestStore_Get(t *testing.T) {
	store, mock, _ := newTestStore(t, nil)

	rows := sqlmock.NewRows(eventColumns)
	eventRow(rows, 3, time.Now().UTC(), EventTypeAssignmentCreate, "org-1", nil, nil)
	mock.ExpectQuery(`WHERE id = \$1`).WithArgs(int64(3)).WillReturnRows(rows)

	event, err := store.Get(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, EventTypeAssignmentCreate, event.EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Export(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ndjson", func(t *testing.T) {
		store, mock, _ := newTestStore(t, nil)
		rows := sqlmock.NewRows(eventColumns)
		eventRow(rows, 1, ts, EventTypeRoleCreate, "org-1", nil, nil)
		eventRow(rows, 2, ts, EventTypeRoleDelete, "org-1", nil, nil)
		mock.ExpectQuery("FROM audit_logs WHERE org_id").WithArgs("org-1").WillReturnRows(rows)

		data, err := store.Export(context.Background(), SearchFilter{OrgID: "org-1"}, ExportFormatNDJSON)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsupported format", func(t *testing.T) {
		store, mock, _ := newTestStore(t, nil)

		_, err := store.Export(context.Background(), SearchFilter{}, ExportFormat("xml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported export format")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("search error", func(t *testing.T) {
		store, mock, _ := newTestStore(t, nil)
		mock.ExpectQuery("FROM audit_logs").WillReturnError(errors.New("boom"))

		_, err := store.Export(context.Background(), SearchFilter{}, ExportFormatCSV)
		require.Error(t, err)
	})
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes without archiver", func(t *testing.T) {
		store, mock, now := newTestStore(t, nil)
		cutoff := now.AddDate(0, 0, -30)

		mock.ExpectExec(`DELETE FROM audit_logs WHERE timestamp < \$1`).
			WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, 4))

		result, err := store.Cleanup(ctx, RetentionPolicy{RetentionDays: 30, ArchiveEnabled: true})
		require.NoError(t, err)
		assert.Equal(t, cutoff, result.Cutoff)
		assert.Equal(t, int64(4), result.Deleted)
		assert.Zero(t, result.Archived)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("archives then deletes", func(t *testing.T) {
		archiver := &mockArchiver{}
		store, mock, now := newTestStore(t, archiver)
		cutoff := now.AddDate(0, 0, -365)

		rows := sqlmock.NewRows(eventColumns)
		eventRow(rows, 1, cutoff.Add(-48*time.Hour), EventTypeRoleCreate, "org-1", nil, nil)
		eventRow(rows, 2, cutoff.Add(-24*time.Hour), EventTypeAssignmentCreate, "org-2", nil, nil)
		mock.ExpectQuery(`WHERE timestamp < \$1 ORDER BY timestamp ASC, id ASC`).
			WithArgs(cutoff).
			WillReturnRows(rows)
		mock.ExpectExec(`DELETE FROM audit_logs`).
			WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, 2))

		result, err := store.Cleanup(ctx, DefaultRetentionPolicy())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Archived)
		assert.Equal(t, "audit/archive.ndjson", result.ArchiveKey)
		assert.Equal(t, int64(2), result.Deleted)

		assert.Equal(t, 1, archiver.calls)
		assert.Equal(t, cutoff, archiver.cutoff)
		lines := strings.Split(strings.TrimSpace(string(archiver.data)), "\n")
		require.Len(t, lines, 2)
		var first AuditEvent
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, int64(1), first.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing to archive", func(t *testing.T) {
		archiver := &mockArchiver{}
		store, mock, _ := newTestStore(t, archiver)

		mock.ExpectQuery("FROM audit_logs").WillReturnRows(sqlmock.NewRows(eventColumns))
		mock.ExpectExec("DELETE FROM audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

		result, err := store.Cleanup(ctx, DefaultRetentionPolicy())
		require.NoError(t, err)
		assert.Zero(t, archiver.calls)
		assert.Empty(t, result.ArchiveKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("archive failure keeps rows", func(t *testing.T) {
		archiver := &mockArchiver{err: errors.New("bucket unreachable")}
		store, mock, now := newTestStore(t, archiver)

		rows := sqlmock.NewRows(eventColumns)
		eventRow(rows, 1, now.AddDate(-2, 0, 0), EventTypeRoleCreate, "org-1", nil, nil)
		mock.ExpectQuery("FROM audit_logs").WillReturnRows(rows)

		_, err := store.Cleanup(ctx, DefaultRetentionPolicy())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to archive audit logs")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("archiving disabled", func(t *testing.T) {
		archiver := &mockArchiver{}
		store, mock, _ := newTestStore(t, archiver)

		mock.ExpectExec("DELETE FROM audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := store.Cleanup(ctx, RetentionPolicy{RetentionDays: 7})
		require.NoError(t, err)
		assert.Zero(t, archiver.calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid retention", func(t *testing.T) {
		store, _, _ := newTestStore(t, nil)
		_, err := store.Cleanup(ctx, RetentionPolicy{RetentionDays: 0})
		require.Error(t, err)
	})
}
