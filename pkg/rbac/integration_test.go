//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// setupPostgres starts a disposable PostgreSQL with the RBAC schema and a
// sites table owned by the tenant subsystem
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gatekeeper_test"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, RunMigrations(ctx, db, logger))
	// a second run is a no-op
	require.NoError(t, RunMigrations(ctx, db, logger))

	_, err = db.ExecContext(ctx, `
		CREATE TABLE sites (id VARCHAR(255) PRIMARY KEY, org_id VARCHAR(255) NOT NULL);
		INSERT INTO sites (id, org_id) VALUES ('site-1', 'org-1'), ('site-2', 'org-1'), ('site-9', 'org-2');
	`)
	require.NoError(t, err)

	return db
}

func newPostgresManager(t *testing.T, db *sql.DB) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DB = db
	cfg.Cache = NewLRUCache(100, time.Minute)
	cfg.Logger = observability.NewLogger(observability.ErrorLevel, io.Discard)

	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func TestPostgres_EndToEnd(t *testing.T) {
	db := setupPostgres(t)
	m := newPostgresManager(t, db)
	ctx := context.Background()

	require.NoError(t, m.BootstrapOrg(ctx, testOrg, "owner"))
	require.NoError(t, m.BootstrapOrg(ctx, testOrg, "owner"))

	roles, err := m.Roles().ListRoles(ctx, testOrg, nil)
	require.NoError(t, err)
	require.Len(t, roles, 4)

	owner, err := m.Resolver().Check(ctx, Query{OrgID: testOrg, UserID: "owner", SiteID: testSite}, "builder.rollback")
	require.NoError(t, err)
	assert.True(t, owner.Allowed)

	_, err = m.Policies().SetPolicy(ctx, testOrg, "builder.rollback", false)
	require.NoError(t, err)
	owner, err = m.Resolver().Check(ctx, Query{OrgID: testOrg, UserID: "owner", SiteID: testSite}, "builder.rollback")
	require.NoError(t, err)
	assert.False(t, owner.Allowed)
	assert.Equal(t, ReasonPolicyDisabled, owner.Reason)

	custom, err := m.Roles().CreateRole(ctx, testOrg, "Reviewer", ScopeSite, RoleTypeCustom, []string{"content.view", "content.edit"})
	require.NoError(t, err)

	_, err = m.Roles().CreateRole(ctx, testOrg, "Reviewer", ScopeSite, RoleTypeCustom, nil)
	assert.ErrorIs(t, err, authzerr.ErrConflict)

	a, created, err := m.Assignments().Assign(ctx, testOrg, "u1", custom.ID, strPtr(testSite))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = m.Assignments().Assign(ctx, testOrg, "u1", custom.ID, strPtr(testSite))
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = m.Assignments().Assign(ctx, testOrg, "u1", custom.ID, strPtr(foreignSite))
	assert.ErrorIs(t, err, authzerr.ErrValidation)

	perms, err := m.Resolver().Resolve(ctx, Query{OrgID: testOrg, UserID: "u1", SiteID: testSite})
	require.NoError(t, err)
	assert.True(t, perms["content.edit"].Allowed)
	assert.Equal(t, []string{"Reviewer"}, perms["content.edit"].RoleSources)

	perms, err = m.Resolver().Resolve(ctx, Query{OrgID: testOrg, UserID: "u1", SiteID: otherSite})
	require.NoError(t, err)
	assert.False(t, perms["content.edit"].Allowed)

	assert.ErrorIs(t, m.Roles().DeleteRole(ctx, custom.ID), authzerr.ErrRoleInUse)

	_, err = m.Roles().UpdateRoleCapabilities(ctx, custom.ID, []string{"content.view"})
	require.NoError(t, err)
	perms, err = m.Resolver().Resolve(ctx, Query{OrgID: testOrg, UserID: "u1", SiteID: testSite})
	require.NoError(t, err)
	assert.False(t, perms["content.edit"].Allowed)

	require.NoError(t, m.Assignments().Revoke(ctx, a.ID))
	require.NoError(t, m.Assignments().Revoke(ctx, a.ID))
	require.NoError(t, m.Roles().DeleteRole(ctx, custom.ID))
}

func TestPostgres_ConcurrentWritersSerialize(t *testing.T) {
	db := setupPostgres(t)
	m := newPostgresManager(t, db)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Roles().ProvisionSystemRoles(ctx, testOrg)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	roles, err := m.Roles().ListRoles(ctx, testOrg, nil)
	require.NoError(t, err)
	assert.Len(t, roles, 4)
}
