package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role events
	EventTypeRoleCreate     EventType = "authz.role_create"
	EventTypeRoleUpdate     EventType = "authz.role_update"
	EventTypeRoleDelete     EventType = "authz.role_delete"
	EventTypeRolesProvision EventType = "authz.roles_provision"

	// Policy events
	EventTypePolicyChange EventType = "authz.policy_change"
	EventTypePolicyReset  EventType = "authz.policy_reset"

	// Assignment events
	EventTypeAssignmentCreate EventType = "authz.assignment_create"
	EventTypeAssignmentRevoke EventType = "authz.assignment_revoke"

	// Enforcement events
	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed or accessed
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePolicy     ResourceType = "policy"
	ResourceTypeAssignment ResourceType = "assignment"
	ResourceTypeCapability ResourceType = "capability"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor and tenancy
	ActorID string `json:"actor_id,omitempty"`
	OrgID   string `json:"org_id,omitempty"`
	SiteID  string `json:"site_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Before/after state for updates
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID string
	OrgID   string

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	// Limit of 0 means no limit
	Limit  int
	Offset int
	// Ascending orders oldest first; the default is newest first
	Ascending bool
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Valid reports whether f is a known export format
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return true
	}
	return false
}

// AuditStats summarizes audit logs over a time range
type AuditStats struct {
	TotalEvents    int64                 `json:"total_events"`
	EventsByType   map[EventType]int64   `json:"events_by_type"`
	EventsByStatus map[EventStatus]int64 `json:"events_by_status"`
	UniqueActors   int64                 `json:"unique_actors"`
	AccessDenials  int64                 `json:"access_denials"`
}

// RetentionPolicy defines how long audit logs are kept
type RetentionPolicy struct {
	RetentionDays int
	// ArchiveEnabled exports expiring rows through an Archiver before deletion
	ArchiveEnabled bool
}

// DefaultRetentionPolicy keeps a year of history and archives the rest
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:  365,
		ArchiveEnabled: true,
	}
}
