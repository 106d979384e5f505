package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

func TestNewEvent_FromContext(t *testing.T) {
	ctx := contextkeys.WithPrincipal(context.Background(), "user-1")
	ctx = contextkeys.WithOrgID(ctx, "org-1")
	ctx = contextkeys.WithRequestID(ctx, "req-1")

	req := httptest.NewRequest("DELETE", "/orgs/org-1/roles/role-1", nil)
	event := NewEvent(ctx, EventTypeRoleDelete, EventStatusSuccess).
		WithRequest(req).
		WithResource(ResourceTypeRole, "role-1")

	assert.Equal(t, "user-1", event.ActorID)
	assert.Equal(t, "org-1", event.OrgID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "DELETE", event.Method)
	assert.Equal(t, "/orgs/org-1/roles/role-1", event.Path)
	assert.Equal(t, ResourceTypeRole, event.ResourceType)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)
}

func TestLoggerContext(t *testing.T) {
	ctx := context.Background()
	assert.IsType(t, NoopLogger{}, FromContext(ctx))

	rec := &recordingLogger{}
	ctx = WithLogger(ctx, rec)
	assert.Same(t, rec, FromContext(ctx))
	assert.NoError(t, FromContext(ctx).Log(ctx, &AuditEvent{}))
	assert.Equal(t, 1, rec.count())
}
