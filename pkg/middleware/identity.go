package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// DefaultPrincipalHeader carries the authenticated user ID set by the gateway
const DefaultPrincipalHeader = "X-User-ID"

// maxIdentifierLength bounds user, org and site identifiers taken from requests
const maxIdentifierLength = 128

// IdentityMiddleware copies the user ID from header into the request context.
// Authentication happens upstream; a request without the header continues
// anonymously and is rejected by any gate that needs a principal.
func IdentityMiddleware(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultPrincipalHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(header))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !validIdentifier(userID) {
				httputil.WriteBadRequest(w, "invalid "+header+" header")
				return
			}

			ctx := contextkeys.WithPrincipal(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePrincipal rejects anonymous requests with 401
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contextkeys.GetPrincipal(r.Context()) == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal returns the user ID of the request, or "" when anonymous
func GetPrincipal(r *http.Request) string {
	return contextkeys.GetPrincipal(r.Context())
}

func validIdentifier(id string) bool {
	if len(id) == 0 || len(id) > maxIdentifierLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c == 0x7f {
			return false
		}
	}
	return true
}
