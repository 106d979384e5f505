package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// ErrCacheInvalidation is returned when a write committed but the permission
// cache could not be invalidated. The write is durable; cached decisions for
// the org may be stale until their TTL expires.
var ErrCacheInvalidation = errors.New("cache invalidation failed")

// Mutation operation names used in metrics and spans
const (
	opCreateRole     = "create_role"
	opUpdateRole     = "update_role"
	opDeleteRole     = "delete_role"
	opProvisionRoles = "provision_roles"
	opSetPolicy      = "set_policy"
	opResetPolicy    = "reset_policy"
	opAssign         = "assign"
	opRevoke         = "revoke"
)

// StoreOption configures the role, policy and assignment stores
type StoreOption func(*writer)

// WithAuditLogger records every mutation to logger
func WithAuditLogger(logger audit.Logger) StoreOption {
	return func(w *writer) { w.audit = logger }
}

// WithLogger sets the operational logger
func WithLogger(logger *observability.Logger) StoreOption {
	return func(w *writer) { w.logger = logger }
}

// WithMetrics sets the metric sinks; either may be nil
func WithMetrics(metrics *observability.Metrics, otelMetrics *observability.OTelMetrics) StoreOption {
	return func(w *writer) {
		w.metrics = metrics
		w.otelMetrics = otelMetrics
	}
}

// WithClock overrides time.Now for timestamps
func WithClock(now func() time.Time) StoreOption {
	return func(w *writer) { w.now = now }
}

// writer is the write path shared by every store: serialize per org,
// commit, invalidate, then audit
type writer struct {
	repo  Repository
	cache Cache

	audit       audit.Logger
	logger      *observability.Logger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	now         func() time.Time
}

func newWriter(repo Repository, cache Cache, opts []StoreOption) *writer {
	if cache == nil {
		cache = NoopCache{}
	}
	w := &writer{
		repo:  repo,
		cache: cache,
		audit: audit.NoopLogger{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return w
}

func (w *writer) timestamp() time.Time {
	return w.now().UTC()
}

// mutate runs fn under the org lock and invalidates the org's cached
// permissions once fn's changes have committed
func (w *writer) mutate(ctx context.Context, op, orgID string, fn func(tx Tx) error) (err error) {
	ctx, span := tracer.Start(ctx, "rbac."+op, trace.WithAttributes(
		attribute.String("authz.org_id", orgID),
	))
	defer func() { observability.EndSpan(span, err) }()

	err = w.repo.WithOrgLock(ctx, orgID, fn)
	w.metrics.RecordMutation(op, err)
	w.otelMetrics.RecordMutation(ctx, op, err)
	if err != nil {
		return err
	}

	err = w.cache.InvalidateOrg(ctx, orgID)
	w.metrics.RecordInvalidation(w.cache.Name(), err)
	if err != nil {
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"org_id":    orgID,
			"operation": op,
			"cache":     w.cache.Name(),
		}).Error("permission cache invalidation failed after commit")
		return fmt.Errorf("%w: org %s: %w", ErrCacheInvalidation, orgID, err)
	}

	return nil
}

// committed reports whether err was raised after the write became durable
func committed(err error) bool {
	return errors.Is(err, ErrCacheInvalidation)
}

// record writes event to the audit trail. Failures are logged and never
// surface to the caller.
func (w *writer) record(ctx context.Context, orgID string, event *audit.AuditEvent, opErr error) {
	event.OrgID = orgID
	if opErr != nil && !committed(opErr) {
		event.Status = audit.EventStatusFailure
		event.Message = opErr.Error()
	}
	if err := w.audit.Log(ctx, event); err != nil {
		w.logger.WithError(err).WithField("event_type", string(event.EventType)).Warn("failed to write audit event")
	}
}
