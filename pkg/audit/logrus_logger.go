package audit

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log lines
type LogrusLogger struct {
	log *logrus.Logger
}

// NewLogrusLogger creates an audit logger writing JSON lines to out
func NewLogrusLogger(out io.Writer) *LogrusLogger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{log: log}
}

// Log writes event at info level, or warn level for denials and failures
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.ID != 0 {
		fields["audit_id"] = event.ID
	}
	if event.ActorID != "" {
		fields["actor_id"] = event.ActorID
	}
	if event.OrgID != "" {
		fields["org_id"] = event.OrgID
	}
	if event.SiteID != "" {
		fields["site_id"] = event.SiteID
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Method != "" {
		fields["method"] = event.Method
		fields["path"] = event.Path
	}
	if len(event.Metadata) > 0 {
		fields["metadata"] = event.Metadata
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}

	entry := l.log.WithContext(ctx).WithTime(event.Timestamp).WithFields(fields)
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close is a no-op; the writer is owned by the caller
func (l *LogrusLogger) Close() error {
	return nil
}
