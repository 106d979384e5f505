package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
)

var version = "dev"

var (
	migrateOnly    = flag.Bool("migrate", false, "Run database migrations and exit")
	bootstrapOrgs  = flag.String("bootstrap-org", "", "Comma separated organization IDs to provision system roles for")
	bootstrapOwner = flag.String("bootstrap-owner", "", "User ID assigned the Owner role of each bootstrapped organization")
	maxBodyBytes   = flag.Int64("max-body-bytes", 1<<20, "Maximum request body size")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).
		WithField("service", "gatekeeper").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("gatekeeper exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		db    *sql.DB
		conns *postgres.ConnectionManager
	)
	if cfg.Database.URL != "" {
		var err error
		conns, err = postgres.NewConnectionManager(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer conns.Close()
		db = conns.Primary()

		if *migrateOnly {
			return rbac.RunMigrations(ctx, db, logger)
		}
	} else if *migrateOnly {
		return errors.New("-migrate requires GATEKEEPER_DATABASE_URL")
	} else {
		logger.Warn("No database configured, using the in-memory repository")
	}

	var (
		redisClient *redis.Client
		redisConns  *postgres.RedisClient
	)
	if cfg.Cache.Backend == config.CacheRedis {
		var err error
		redisConns, err = postgres.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer redisConns.Close()
		redisClient = redisConns.GetClient()
	}

	cache, err := rbac.NewCacheFromConfig(cfg.Cache, redisClient)
	if err != nil {
		return err
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry metrics: %w", err)
	}
	if cfg.Observability.MetricsEnabled {
		if conns != nil {
			conns.StartStatsRoutine(ctx, 15*time.Second, metrics.UpdateDBStats)
		}
		if redisConns != nil {
			redisConns.StartStatsRoutine(ctx, 15*time.Second, metrics.UpdateRedisPoolStats)
		}
	}

	auditLogger, auditStore, err := newAudit(ctx, cfg, db)
	if err != nil {
		return err
	}

	rbacCfg := rbac.DefaultConfig()
	rbacCfg.DB = db
	rbacCfg.SitesTable = cfg.Database.SitesTable
	if db == nil {
		owners, err := cfg.Database.StaticSiteOwners()
		if err != nil {
			return err
		}
		rbacCfg.Sites = rbac.NewStaticSiteDirectory(owners)
		logger.WithField("sites", len(owners)).Info("Using static site directory")
	}
	rbacCfg.Cache = cache
	rbacCfg.AuditLogger = auditLogger
	rbacCfg.Logger = logger
	rbacCfg.Metrics = metrics
	rbacCfg.OTelMetrics = otelMetrics
	rbacCfg.EnforceAdminAPI = cfg.Authz.EnforceAdminAPI

	manager, err := rbac.NewManager(rbacCfg)
	if err != nil {
		return err
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}
	if err := bootstrap(ctx, manager, *bootstrapOrgs, *bootstrapOwner, logger); err != nil {
		return err
	}

	limiter := middleware.NewLimiterFromConfig(cfg.RateLimit, redisClient)
	if rl, ok := limiter.(*middleware.RateLimiter); ok {
		rl.StartCleanup(ctx)
	}

	router := mux.NewRouter()
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	router.Use(middleware.IdentityMiddleware(cfg.Authz.PrincipalHeader))
	router.Use(middleware.OrgContextMiddleware)
	router.Use(middleware.RateLimitMiddleware(limiter, logger))
	manager.RegisterRoutes(router)
	if auditStore != nil {
		audit.NewHandlers(auditStore, manager.Middleware().RequireCapability).RegisterRoutes(router)
	}

	mws := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	}
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		mws = append(mws, httputil.CORSMiddleware(cfg.Server.CORSAllowedOrigins, cfg.Authz.PrincipalHeader))
	}
	mws = append(mws, httputil.MaxBytesMiddleware(*maxBodyBytes))

	handler := otelhttp.NewHandler(httputil.Chain(mws...)(router), "gatekeeper")

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.NewHealthChecker(db, redisClient, version).RegisterRoutes(healthRouter)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.Register("audit", func(context.Context) error {
		return auditLogger.Close()
	})
	shutdown.Register("health server", healthServer.Shutdown)

	serveErr := make(chan error, 2)
	go serve(healthServer, "health", logger, serveErr)
	go serve(server, "api", logger, serveErr)

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("Server failed")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func serve(server *http.Server, name string, logger *observability.Logger, errc chan<- error) {
	defer observability.RecoverPanic(logger, name+" server")

	logger.WithFields(map[string]interface{}{
		"server": name,
		"addr":   server.Addr,
	}).Info("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errc <- fmt.Errorf("%s server: %w", name, err)
	}
}

// newAudit builds the audit sink selected by cfg.Audit.Sink. The store is
// nil unless events are persisted.
func newAudit(ctx context.Context, cfg *config.Config, db *sql.DB) (audit.Logger, audit.Store, error) {
	if cfg.Audit.Sink == config.AuditStdout {
		return audit.NewLogrusLogger(os.Stdout), nil, nil
	}
	if db == nil {
		return audit.NewLogrusLogger(os.Stdout), nil, nil
	}

	dbLogger, err := audit.NewDBLogger(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	store := audit.NewDBStore(dbLogger, nil)

	if cfg.Audit.Sink == config.AuditBoth {
		multi := audit.NewMultiLogger(dbLogger, audit.NewLogrusLogger(os.Stdout))
		multi.SetAsync(true)
		return multi, store, nil
	}
	return dbLogger, store, nil
}

// bootstrap provisions every organization in orgs concurrently
func bootstrap(ctx context.Context, manager *rbac.Manager, orgs, owner string, logger *observability.Logger) error {
	if orgs == "" {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, org := range strings.Split(orgs, ",") {
		org := strings.TrimSpace(org)
		if org == "" {
			continue
		}
		g.Go(func() (err error) {
			defer observability.RecoverToError(logger, "bootstrap "+org, &err)
			if err := manager.BootstrapOrg(gctx, org, owner); err != nil {
				return err
			}
			logger.WithField("org_id", org).Info("Organization bootstrapped")
			return nil
		})
	}
	return g.Wait()
}
