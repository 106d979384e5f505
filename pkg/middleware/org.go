package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// OrgContextMiddleware adds the organization and site of the request to its
// context. The org comes from the org_id route variable; the site from the
// site_id route variable, the site_id query parameter or the X-Site-ID
// header. Routes without an org_id pass through untouched.
//
// Use it with router.Use so route variables are populated.
func OrgContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := mux.Vars(r)["org_id"]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if !validIdentifier(orgID) {
			httputil.WriteBadRequest(w, "invalid organization ID")
			return
		}

		ctx := contextkeys.WithOrgID(r.Context(), orgID)
		if siteID := httputil.SiteFromRequest(r); siteID != "" {
			if !validIdentifier(siteID) {
				httputil.WriteBadRequest(w, "invalid site ID")
				return
			}
			ctx = contextkeys.WithSiteID(ctx, siteID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOrgID returns the organization of the request, or ""
func GetOrgID(r *http.Request) string {
	return contextkeys.GetOrgID(r.Context())
}

// GetSiteID returns the site of the request, or ""
func GetSiteID(r *http.Request) string {
	return contextkeys.GetSiteID(r.Context())
}
