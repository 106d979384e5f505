package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/capabilities"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// DB selects the PostgreSQL repository; nil selects the in-memory one
	DB *sql.DB

	// Registry defaults to capabilities.Default()
	Registry *capabilities.Registry

	// Cache defaults to NoopCache
	Cache Cache

	// Sites answers site ownership. With DB set it defaults to a
	// SQLSiteDirectory over SitesTable.
	Sites      SiteDirectory
	SitesTable string

	AuditLogger audit.Logger
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics

	// EnforceAdminAPI gates the admin routes on capabilities
	EnforceAdminAPI bool
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		SitesTable:      DefaultSitesTable,
		EnforceAdminAPI: true,
	}
}

// Manager manages all RBAC components
type Manager struct {
	db       *sql.DB
	repo     Repository
	registry *capabilities.Registry
	cache    Cache
	logger   *observability.Logger

	resolver    *Resolver
	roles       *RoleStore
	policies    *PolicyStore
	assignments *AssignmentStore
	middleware  *PermissionMiddleware
	handlers    *Handlers
}

// NewManager wires the stores, resolver, middleware and handlers
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		cfg.Registry = capabilities.Default()
	}
	if cfg.Cache == nil {
		cfg.Cache = NoopCache{}
	}
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = audit.NoopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	var repo Repository
	if cfg.DB != nil {
		repo = NewPostgresStore(cfg.DB)
		if cfg.Sites == nil {
			sites, err := NewSQLSiteDirectory(cfg.DB, cfg.SitesTable)
			if err != nil {
				return nil, err
			}
			cfg.Sites = sites
		}
	} else {
		repo = NewMemoryStore()
		if cfg.Sites == nil {
			cfg.Sites = NewStaticSiteDirectory(nil)
		}
	}

	storeOpts := []StoreOption{
		WithAuditLogger(cfg.AuditLogger),
		WithLogger(cfg.Logger),
		WithMetrics(cfg.Metrics, cfg.OTelMetrics),
	}

	m := &Manager{
		db:       cfg.DB,
		repo:     repo,
		registry: cfg.Registry,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		resolver: NewResolver(repo, cfg.Registry, cfg.Cache,
			WithResolverLogger(cfg.Logger),
			WithResolverMetrics(cfg.Metrics, cfg.OTelMetrics),
		),
		roles:       NewRoleStore(repo, cfg.Registry, cfg.Cache, storeOpts...),
		policies:    NewPolicyStore(repo, cfg.Registry, cfg.Cache, storeOpts...),
		assignments: NewAssignmentStore(repo, cfg.Sites, cfg.Cache, storeOpts...),
	}
	m.middleware = NewPermissionMiddleware(m.resolver, cfg.AuditLogger, cfg.Logger)
	m.handlers = NewHandlers(cfg.Registry, m.roles, m.policies, m.assignments, m.resolver, m.middleware, cfg.EnforceAdminAPI)

	return m, nil
}

// Initialize runs the schema migrations when backed by PostgreSQL
func (m *Manager) Initialize(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	if err := RunMigrations(ctx, m.db, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// BootstrapOrg provisions the system roles of orgID and, when ownerID is
// set, assigns it the Owner role
func (m *Manager) BootstrapOrg(ctx context.Context, orgID, ownerID string) error {
	roles, err := m.roles.ProvisionSystemRoles(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to provision system roles for %s: %w", orgID, err)
	}
	if ownerID == "" {
		return nil
	}

	for _, role := range roles {
		if role.Name != RoleOwner || role.Scope != ScopeOrg {
			continue
		}
		if _, _, err := m.assignments.Assign(ctx, orgID, ownerID, role.ID, nil); err != nil {
			return fmt.Errorf("failed to assign owner of %s: %w", orgID, err)
		}
		return nil
	}
	return fmt.Errorf("owner role missing after provisioning %s", orgID)
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Registry returns the capability registry
func (m *Manager) Registry() *capabilities.Registry { return m.registry }

// Repository returns the backing repository
func (m *Manager) Repository() Repository { return m.repo }

// Resolver returns the effective permission resolver
func (m *Manager) Resolver() *Resolver { return m.resolver }

// Roles returns the role store
func (m *Manager) Roles() *RoleStore { return m.roles }

// Policies returns the org policy store
func (m *Manager) Policies() *PolicyStore { return m.policies }

// Assignments returns the assignment store
func (m *Manager) Assignments() *AssignmentStore { return m.assignments }

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware { return m.middleware }

// NewCacheFromConfig builds the cache selected by cfg. The redis backend
// requires client.
func NewCacheFromConfig(cfg config.CacheConfig, client *redis.Client) (Cache, error) {
	switch cfg.Backend {
	case "", config.CacheNone:
		return NoopCache{}, nil
	case config.CacheMemory:
		return NewLRUCache(cfg.Size, cfg.TTL), nil
	case config.CacheRedis:
		if client == nil {
			return nil, fmt.Errorf("redis cache requires a redis client")
		}
		return NewRedisCache(client, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}
