// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that the
// identity middleware, the capability gate, and the audit trail agree on
// where a value lives.
//
//	ctx = contextkeys.WithPrincipal(ctx, "user-123")
//	userID := contextkeys.GetPrincipal(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains the authenticated user ID (string)
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: rbac.RequireCapability, audit events
	PrincipalKey Key = "principal"

	// OrgIDKey contains the organization ID resolved from the route (string)
	// Set by: middleware.OrgContextMiddleware (pkg/middleware/org.go)
	// Used by: capability gate, audit events
	OrgIDKey Key = "org_id"

	// SiteIDKey contains the site ID resolved from the route, query or
	// X-Site-ID header (string)
	// Set by: middleware.OrgContextMiddleware
	SiteIDKey Key = "site_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger
	// Used by: handlers that record audit events
	AuditLoggerKey Key = "audit_logger"
)

// WithPrincipal adds the authenticated user ID to the context
func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, PrincipalKey, userID)
}

// GetPrincipal retrieves the authenticated user ID, or "" when anonymous
func GetPrincipal(ctx context.Context) string {
	if userID, ok := ctx.Value(PrincipalKey).(string); ok {
		return userID
	}
	return ""
}

// WithOrgID adds the organization ID to the context
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// GetOrgID retrieves the organization ID from context
func GetOrgID(ctx context.Context) string {
	if orgID, ok := ctx.Value(OrgIDKey).(string); ok {
		return orgID
	}
	return ""
}

// WithSiteID adds the site ID to the context
func WithSiteID(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, SiteIDKey, siteID)
}

// GetSiteID retrieves the site ID from context
func GetSiteID(ctx context.Context) string {
	if siteID, ok := ctx.Value(SiteIDKey).(string); ok {
		return siteID
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}
