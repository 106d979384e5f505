package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes any buffered events
	Close() error
}

// NewEvent builds an event stamped with the actor, org and request ID
// carried in ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		ActorID:   contextkeys.GetPrincipal(ctx),
		OrgID:     contextkeys.GetOrgID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// WithRequest copies method and path from r
func (e *AuditEvent) WithRequest(r *http.Request) *AuditEvent {
	if r != nil {
		e.Method = r.Method
		e.Path = r.URL.Path
	}
	return e
}

// WithResource sets the resource the event refers to
func (e *AuditEvent) WithResource(resourceType ResourceType, resourceID string) *AuditEvent {
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// WithChanges attaches before and after state
func (e *AuditEvent) WithChanges(before, after map[string]interface{}) *AuditEvent {
	e.Changes = &ChangeDetails{Before: before, After: after}
	return e
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoopLogger{}
}

// NoopLogger discards every event
type NoopLogger struct{}

func (NoopLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (NoopLogger) Close() error { return nil }
