package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
)

var (
	runOnce   = flag.Bool("run-once", false, "Run retention once and exit")
	noArchive = flag.Bool("no-archive", false, "Delete expired audit events without archiving them")
	logLevel  = flag.String("log-level", getEnv("GATEKEEPER_LOG_LEVEL", "info"), "Log level")
)

// Auditor applies the audit retention policy on a cron schedule, archiving
// expired events to S3 before deleting them
func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		logger.Fatal("GATEKEEPER_DATABASE_URL is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conns, err := postgres.NewConnectionManager(ctx, cfg.Database,
		observability.NewLogger(cfg.Observability.LogLevel, os.Stderr))
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer conns.Close()

	store, err := newStore(ctx, cfg.Audit, conns.Primary(), logger)
	if err != nil {
		logger.Fatalf("Failed to create audit store: %v", err)
	}

	policy := audit.RetentionPolicy{
		RetentionDays:  cfg.Audit.RetentionDays,
		ArchiveEnabled: !*noArchive && cfg.Audit.ArchiveBucket != "",
	}

	if *runOnce {
		if err := runRetention(ctx, store, policy, logger); err != nil {
			logger.Fatalf("Retention failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Audit.Schedule, func() {
		if err := runRetention(ctx, store, policy, logger); err != nil {
			logger.WithError(err).Error("Retention failed")
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule retention: %v", err)
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"schedule":       cfg.Audit.Schedule,
		"retention_days": policy.RetentionDays,
		"archive":        policy.ArchiveEnabled,
	}).Info("Gatekeeper auditor started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	stopped := c.Stop()
	<-stopped.Done()

	logger.Info("Auditor stopped")
}

func newStore(ctx context.Context, cfg config.AuditConfig, db *sql.DB, logger *logrus.Logger) (*audit.DBStore, error) {
	dbLogger, err := audit.NewDBLogger(ctx, db)
	if err != nil {
		return nil, err
	}

	if cfg.ArchiveBucket == "" {
		logger.Warn("No archive bucket configured, expired events are deleted without archiving")
		return audit.NewDBStore(dbLogger, nil), nil
	}

	archiver, err := audit.NewS3Archiver(ctx, audit.S3Config{
		Bucket:       cfg.ArchiveBucket,
		Prefix:       cfg.ArchivePrefix,
		Region:       cfg.ArchiveRegion,
		Endpoint:     cfg.ArchiveEndpoint,
		AccessKey:    cfg.ArchiveAccessKey,
		SecretKey:    cfg.ArchiveSecretKey,
		UsePathStyle: cfg.ArchivePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return audit.NewDBStore(dbLogger, archiver), nil
}

func runRetention(ctx context.Context, store *audit.DBStore, policy audit.RetentionPolicy, logger *logrus.Logger) error {
	logger.WithField("retention_days", policy.RetentionDays).Info("Applying audit retention")

	result, err := store.Cleanup(ctx, policy)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"cutoff":      result.Cutoff,
		"archived":    result.Archived,
		"archive_key": result.ArchiveKey,
		"deleted":     result.Deleted,
	}).Info("Audit retention complete")
	return nil
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
