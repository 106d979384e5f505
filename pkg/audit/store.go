package audit

import (
	"context"
	"fmt"
	"time"
)

// Store provides methods for querying and managing audit logs
type Store interface {
	// Search searches audit logs based on filters
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// Get retrieves a specific audit event by ID, nil when absent
	Get(ctx context.Context, id int64) (*AuditEvent, error)

	// GetStats summarizes logs matching the filter's org and time range
	GetStats(ctx context.Context, filter SearchFilter) (*AuditStats, error)

	// Export exports audit logs in the specified format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup removes audit logs older than the retention period
	Cleanup(ctx context.Context, policy RetentionPolicy) (*CleanupResult, error)
}

// CleanupResult reports what a retention run did
type CleanupResult struct {
	Cutoff     time.Time `json:"cutoff"`
	Archived   int       `json:"archived"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	Deleted    int64     `json:"deleted"`
}

// DBStore implements Store interface using PostgreSQL
type DBStore struct {
	logger   *DBLogger
	archiver Archiver
	now      func() time.Time
}

// NewDBStore creates a new database-backed audit store. archiver may be nil.
func NewDBStore(logger *DBLogger, archiver Archiver) *DBStore {
	return &DBStore{
		logger:   logger,
		archiver: archiver,
		now:      time.Now,
	}
}

// Search searches audit logs based on filters
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	return s.logger.Search(ctx, filter)
}

// Get retrieves a specific audit event by ID
func (s *DBStore) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	return s.logger.Get(ctx, id)
}

// GetStats retrieves audit log statistics
func (s *DBStore) GetStats(ctx context.Context, filter SearchFilter) (*AuditStats, error) {
	return s.logger.GetStats(ctx, filter)
}

// Export exports audit logs in the specified format
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}

	events, err := s.logger.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	return Export(events, format)
}

// Cleanup archives rows older than the retention period when enabled, then
// deletes them. Nothing is deleted if archiving fails.
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (*CleanupResult, error) {
	if policy.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", policy.RetentionDays)
	}

	cutoff := s.now().UTC().AddDate(0, 0, -policy.RetentionDays)
	result := &CleanupResult{Cutoff: cutoff}

	if policy.ArchiveEnabled && s.archiver != nil {
		events, err := s.logger.Search(ctx, SearchFilter{EndTime: &cutoff, Ascending: true})
		if err != nil {
			return nil, fmt.Errorf("failed to load expiring audit logs: %w", err)
		}

		if len(events) > 0 {
			data, err := Export(events, ExportFormatNDJSON)
			if err != nil {
				return nil, err
			}
			key, err := s.archiver.Archive(ctx, cutoff, data)
			if err != nil {
				return nil, fmt.Errorf("failed to archive audit logs: %w", err)
			}
			result.Archived = len(events)
			result.ArchiveKey = key
		}
	}

	deleted, err := s.logger.DeleteBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	result.Deleted = deleted

	return result, nil
}
