package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create rbac_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_roles (
					id VARCHAR(64) PRIMARY KEY,
					org_id VARCHAR(255) NOT NULL,
					name VARCHAR(100) NOT NULL,
					scope VARCHAR(8) NOT NULL CHECK (scope IN ('ORG', 'SITE')),
					type VARCHAR(8) NOT NULL CHECK (type IN ('SYSTEM', 'CUSTOM')),
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(org_id, name, scope)
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_roles_org_id ON rbac_roles(org_id);
			`,
		},
		{
			Version:     2,
			Description: "Create rbac_role_capabilities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_role_capabilities (
					role_id VARCHAR(64) NOT NULL REFERENCES rbac_roles(id) ON DELETE CASCADE,
					capability_key VARCHAR(100) NOT NULL,
					PRIMARY KEY (role_id, capability_key)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create rbac_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_assignments (
					id VARCHAR(64) PRIMARY KEY,
					org_id VARCHAR(255) NOT NULL,
					user_id VARCHAR(255) NOT NULL,
					role_id VARCHAR(64) NOT NULL REFERENCES rbac_roles(id),
					site_id VARCHAR(255),
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_rbac_assignments_unique
					ON rbac_assignments(org_id, user_id, role_id, COALESCE(site_id, ''));
				CREATE INDEX IF NOT EXISTS idx_rbac_assignments_org_user ON rbac_assignments(org_id, user_id);
				CREATE INDEX IF NOT EXISTS idx_rbac_assignments_role_id ON rbac_assignments(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create rbac_org_policies table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_org_policies (
					org_id VARCHAR(255) NOT NULL,
					capability_key VARCHAR(100) NOT NULL,
					enabled BOOLEAN NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (org_id, capability_key)
				);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("migration completed")
	}

	return nil
}
