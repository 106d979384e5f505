package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// PermissionMiddleware gates handlers on a capability of the caller
type PermissionMiddleware struct {
	checker Checker
	audit   audit.Logger
	logger  *observability.Logger
}

// NewPermissionMiddleware creates a permission middleware. Decisions are
// counted by the checker; denials are also written to auditLogger.
func NewPermissionMiddleware(checker Checker, auditLogger audit.Logger, logger *observability.Logger) *PermissionMiddleware {
	if auditLogger == nil {
		auditLogger = audit.NoopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &PermissionMiddleware{
		checker: checker,
		audit:   auditLogger,
		logger:  logger,
	}
}

// RequireCapability passes the request only when the principal holds key in
// the organization named by the org_id route variable, at the request's site
// if any. A resolver failure is a 503 and never passes the request.
func (pm *PermissionMiddleware) RequireCapability(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := contextkeys.GetPrincipal(ctx)
			if userID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			orgID := mux.Vars(r)["org_id"]
			if orgID == "" {
				orgID = contextkeys.GetOrgID(ctx)
			}
			if orgID == "" {
				httputil.WriteBadRequest(w, "organization context required")
				return
			}
			siteID := httputil.SiteFromRequest(r)

			perm, err := pm.checker.Check(ctx, Query{OrgID: orgID, UserID: userID, SiteID: siteID}, key)
			if err != nil {
				pm.logger.WithError(err).WithSubject(orgID, userID, siteID).
					WithField("capability", key).
					Error("permission check failed")
				httputil.WriteServiceUnavailable(w, "permission check unavailable")
				return
			}

			if !perm.Allowed {
				pm.logger.WithSubject(orgID, userID, siteID).WithFields(map[string]interface{}{
					"capability": key,
					"reason":     perm.Reason,
				}).Debug("capability denied")

				event := audit.NewEvent(ctx, audit.EventTypeAccessDenied, audit.EventStatusDenied).
					WithRequest(r).
					WithResource(audit.ResourceTypeCapability, key)
				event.ActorID = userID
				event.OrgID = orgID
				event.SiteID = siteID
				event.Message = perm.Reason
				if err := pm.audit.Log(ctx, event); err != nil {
					pm.logger.WithError(err).Warn("failed to write access denied event")
				}

				httputil.WriteErrorResponse(w, http.StatusForbidden, httputil.ErrorResponse{
					Error: "missing capability " + key + ": " + perm.Reason,
					Code:  "FORBIDDEN",
					Details: map[string]string{
						"capability": key,
						"reason":     perm.Reason,
					},
				})
				return
			}

			ctx = contextkeys.WithOrgID(ctx, orgID)
			if siteID != "" {
				ctx = contextkeys.WithSiteID(ctx, siteID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
