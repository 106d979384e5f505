// Package config loads gatekeeper configuration from GATEKEEPER_* environment
// variables and validates it.
//
// Server settings:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_HEALTH_PORT="9090"
//	GATEKEEPER_CORS_ALLOWED_ORIGINS="https://admin.example.com"  # comma separated, * for any
//
// Database settings (unset URL runs against the in-memory repository):
//
//	GATEKEEPER_DATABASE_URL="postgres://localhost/gatekeeper?sslmode=disable"
//	GATEKEEPER_SITES_TABLE="sites"
//	GATEKEEPER_STATIC_SITES="site-1=org-1,site-2=org-1"  # site owners without a database
//
// Cache settings:
//
//	GATEKEEPER_CACHE_BACKEND="redis"  # none, memory, redis
//	GATEKEEPER_CACHE_TTL="5m"
//	GATEKEEPER_REDIS_URL="redis://localhost:6379/0"
//
// Authorization settings:
//
//	GATEKEEPER_ENFORCE_ADMIN_API="true"
//	GATEKEEPER_PRINCIPAL_HEADER="X-User-ID"
//
// Rate limiting (per principal, shared through Redis with the redis cache):
//
//	GATEKEEPER_RATE_LIMIT_ENABLED="true"
//	GATEKEEPER_RATE_LIMIT_PER_MINUTE="1000"
//	GATEKEEPER_RATE_LIMIT_BURST="50"
//
// Audit settings:
//
//	GATEKEEPER_AUDIT_SINK="db"  # db, stdout, both
//	GATEKEEPER_AUDIT_RETENTION_DAYS="365"
//	GATEKEEPER_AUDIT_ARCHIVE_BUCKET="gatekeeper-audit"
//
// Observability settings:
//
//	GATEKEEPER_LOG_LEVEL="info"
//	GATEKEEPER_OTEL_ENABLED="true"
//	GATEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
package config
