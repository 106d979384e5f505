// Package middleware provides the HTTP middleware that runs in front of the
// authorization API: caller identity, organization context and rate limiting.
//
// # Identity
//
// Authentication happens in the gateway in front of gatekeeper. The gateway
// forwards the user ID in a trusted header, which IdentityMiddleware copies
// into the request context:
//
//	router.Use(middleware.IdentityMiddleware(cfg.Authz.PrincipalHeader))
//
// # Organization context
//
// OrgContextMiddleware reads the org_id route variable and the request's site
// (path, site_id query parameter or X-Site-ID header):
//
//	router.Use(middleware.OrgContextMiddleware)
//
// # Rate limiting
//
// Requests are limited per principal, or per client address when anonymous.
// RateLimiter is an in-process token bucket; DistributedRateLimiter keeps a
// fixed window counter in Redis shared by every instance:
//
//	limiter := middleware.NewLimiterFromConfig(cfg.RateLimit, redisClient)
//	router.Use(middleware.RateLimitMiddleware(limiter, logger))
//
// A failing limiter lets the request through and logs a warning.
package middleware
