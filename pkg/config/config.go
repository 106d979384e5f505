package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Cache backends
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Audit sinks
const (
	AuditDB     = "db"
	AuditStdout = "stdout"
	AuditBoth   = "both"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Authz         AuthzConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CORSAllowedOrigins enables CORS for browser admin consoles; "*"
	// reflects any origin
	CORSAllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory repository.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// SitesTable is the tenant table consulted for site ownership
	SitesTable string
	// StaticSites lists "site=org" pairs that stand in for the sites table
	// when running on the in-memory repository
	StaticSites []string
}

// StaticSiteOwners parses StaticSites into a map of site id to org id
func (c DatabaseConfig) StaticSiteOwners() (map[string]string, error) {
	owners := make(map[string]string, len(c.StaticSites))
	for _, entry := range c.StaticSites {
		site, org, ok := strings.Cut(entry, "=")
		site, org = strings.TrimSpace(site), strings.TrimSpace(org)
		if !ok || site == "" || org == "" {
			return nil, fmt.Errorf("invalid static site %q (want site=org)", entry)
		}
		if prev, dup := owners[site]; dup && prev != org {
			return nil, fmt.Errorf("static site %s is assigned to both %s and %s", site, prev, org)
		}
		owners[site] = org
	}
	return owners, nil
}

// CacheConfig selects the effective-permission cache
type CacheConfig struct {
	Backend       string
	Size          int
	TTL           time.Duration
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// AuthzConfig controls enforcement of the admin API
type AuthzConfig struct {
	EnforceAdminAPI bool
	PrincipalHeader string
}

// RateLimitConfig limits API requests per principal. The limiter is shared
// through Redis when the cache backend is redis.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// AuditConfig controls the audit trail and its archive
type AuditConfig struct {
	Sink          string
	RetentionDays int
	Schedule      string

	ArchiveBucket    string
	ArchivePrefix    string
	ArchiveRegion    string
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchivePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Authz:         loadAuthzConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),

		CORSAllowedOrigins: getEnvList("GATEKEEPER_CORS_ALLOWED_ORIGINS"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("GATEKEEPER_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("GATEKEEPER_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("GATEKEEPER_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GATEKEEPER_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("GATEKEEPER_DATABASE_CONN_MAX_IDLE_TIME", time.Minute),
		SitesTable:      getEnv("GATEKEEPER_SITES_TABLE", "sites"),
		StaticSites:     getEnvList("GATEKEEPER_STATIC_SITES"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       strings.ToLower(getEnv("GATEKEEPER_CACHE_BACKEND", CacheMemory)),
		Size:          getEnvInt("GATEKEEPER_CACHE_SIZE", 10000),
		TTL:           getEnvDuration("GATEKEEPER_CACHE_TTL", 5*time.Minute),
		RedisURL:      getEnv("GATEKEEPER_REDIS_URL", ""),
		RedisPassword: getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("GATEKEEPER_REDIS_DB", 0),
		RedisPoolSize: getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		EnforceAdminAPI: getEnvBool("GATEKEEPER_ENFORCE_ADMIN_API", true),
		PrincipalHeader: getEnv("GATEKEEPER_PRINCIPAL_HEADER", "X-User-ID"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("GATEKEEPER_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt("GATEKEEPER_RATE_LIMIT_PER_MINUTE", 1000),
		Burst:             getEnvInt("GATEKEEPER_RATE_LIMIT_BURST", 50),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Sink:             strings.ToLower(getEnv("GATEKEEPER_AUDIT_SINK", AuditDB)),
		RetentionDays:    getEnvInt("GATEKEEPER_AUDIT_RETENTION_DAYS", 365),
		Schedule:         getEnv("GATEKEEPER_AUDIT_SCHEDULE", "0 3 * * *"),
		ArchiveBucket:    getEnv("GATEKEEPER_AUDIT_ARCHIVE_BUCKET", ""),
		ArchivePrefix:    getEnv("GATEKEEPER_AUDIT_ARCHIVE_PREFIX", "audit"),
		ArchiveRegion:    getEnv("GATEKEEPER_AUDIT_ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint:  getEnv("GATEKEEPER_AUDIT_ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey: getEnv("GATEKEEPER_AUDIT_ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("GATEKEEPER_AUDIT_ARCHIVE_SECRET_KEY", ""),
		ArchivePathStyle: getEnvBool("GATEKEEPER_AUDIT_ARCHIVE_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL != "" && c.Database.SitesTable == "" {
		return fmt.Errorf("sites table is required when a database is configured")
	}
	if _, err := c.Database.StaticSiteOwners(); err != nil {
		return err
	}

	switch c.Cache.Backend {
	case CacheNone:
	case CacheMemory:
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive for the memory cache")
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, memory, or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Authz.PrincipalHeader == "" {
		return fmt.Errorf("principal header is required")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requests per minute must be positive")
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit burst cannot be negative")
	}

	switch c.Audit.Sink {
	case AuditDB, AuditBoth:
		if c.Database.URL == "" {
			return fmt.Errorf("audit sink %s requires a database URL", c.Audit.Sink)
		}
	case AuditStdout:
	default:
		return fmt.Errorf("invalid audit sink: %s (must be db, stdout, or both)", c.Audit.Sink)
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days cannot be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
