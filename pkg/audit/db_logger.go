package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger and ensures its
// table exists
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

const auditTableDDL = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(255) NOT NULL DEFAULT '',
		org_id VARCHAR(255) NOT NULL DEFAULT '',
		site_id VARCHAR(255) NOT NULL DEFAULT '',
		resource_type VARCHAR(50) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT '',
		method VARCHAR(10) NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		changes JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_org_time ON audit_logs(org_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
`

func (l *DBLogger) ensureTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, auditTableDDL)
	return err
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON, changesJSON []byte
	var err error

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			actor_id, org_id, site_id,
			resource_type, resource_id,
			request_id, method, path,
			message, metadata, changes
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12, $13, $14
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.ActorID, event.OrgID, event.SiteID,
		string(event.ResourceType), event.ResourceID,
		event.RequestID, event.Method, event.Path,
		event.Message, metadataJSON, changesJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

const selectColumns = `
	id, timestamp, event_type, status,
	actor_id, org_id, site_id,
	resource_type, resource_id,
	request_id, method, path,
	message, metadata, changes
`

// whereClause renders the filter predicates starting at placeholder $1
func whereClause(filter SearchFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp < $%d", *filter.EndTime)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.OrgID != "" {
		add("org_id = $%d", filter.OrgID)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Search returns events matching filter, newest first unless Ascending
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	where, args := whereClause(filter)
	query := "SELECT " + selectColumns + " FROM audit_logs" + where

	if filter.Ascending {
		query += " ORDER BY timestamp ASC, id ASC"
	} else {
		query += " ORDER BY timestamp DESC, id DESC"
	}

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*AuditEvent, error) {
	event := &AuditEvent{}
	var eventType, status, resourceType string
	var metadataJSON, changesJSON []byte

	err := row.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&event.ActorID, &event.OrgID, &event.SiteID,
		&resourceType, &event.ResourceID,
		&event.RequestID, &event.Method, &event.Path,
		&event.Message, &metadataJSON, &changesJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.ResourceType = ResourceType(resourceType)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(changesJSON) > 0 {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal(changesJSON, event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}

	return event, nil
}

// Get returns the event with id, or nil when absent
func (l *DBLogger) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM audit_logs WHERE id = $1", id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

// GetStats summarizes events matching the time and org predicates of filter
func (l *DBLogger) GetStats(ctx context.Context, filter SearchFilter) (*AuditStats, error) {
	stats := &AuditStats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
	}

	where, args := whereClause(SearchFilter{
		StartTime: filter.StartTime,
		EndTime:   filter.EndTime,
		OrgID:     filter.OrgID,
	})

	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT NULLIF(actor_id, '')),
			COUNT(*) FILTER (WHERE status = 'denied')
		FROM audit_logs` + where

	if err := l.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalEvents, &stats.UniqueActors, &stats.AccessDenials,
	); err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT event_type, status, COUNT(*) FROM audit_logs"+where+" GROUP BY event_type, status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType, status string
		var count int64
		if err := rows.Scan(&eventType, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit breakdown: %w", err)
		}
		stats.EventsByType[EventType(eventType)] += count
		stats.EventsByStatus[EventStatus(status)] += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit breakdown: %w", err)
	}

	return stats, nil
}

// DeleteBefore removes events older than cutoff
func (l *DBLogger) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the database handle is shared
func (l *DBLogger) Close() error {
	return nil
}
