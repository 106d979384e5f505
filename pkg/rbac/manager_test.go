package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
	"github.com/platinummonkey/gatekeeper/pkg/config"
)

func TestNewManager_MemoryDefaults(t *testing.T) {
	m, err := NewManager(DefaultConfig())
	require.NoError(t, err)

	assert.IsType(t, &MemoryStore{}, m.Repository())
	assert.NotNil(t, m.Registry())
	assert.NotNil(t, m.Resolver())
	assert.NotNil(t, m.Middleware())
	assert.NoError(t, m.Initialize(context.Background()))
}

func TestNewManager_Postgres(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := DefaultConfig()
	cfg.DB = db
	m, err := NewManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &PostgresStore{}, m.Repository())

	cfg.SitesTable = "bad name"
	_, err = NewManager(cfg)
	assert.Error(t, err)
}

func TestBootstrapOrg(t *testing.T) {
	m, err := NewManager(DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.BootstrapOrg(ctx, testOrg, "owner"))
	require.NoError(t, m.BootstrapOrg(ctx, testOrg, "owner"))
	require.NoError(t, m.BootstrapOrg(ctx, otherOrg, ""))

	assignments, err := m.Assignments().ListForUser(ctx, testOrg, "owner")
	require.NoError(t, err)
	require.Len(t, assignments, 1)

	perm, err := m.Resolver().Check(ctx, Query{OrgID: testOrg, UserID: "owner"}, "org.billing.manage")
	require.NoError(t, err)
	assert.True(t, perm.Allowed)

	perm, err = m.Resolver().Check(ctx, Query{OrgID: otherOrg, UserID: "owner"}, "org.billing.manage")
	require.NoError(t, err)
	assert.False(t, perm.Allowed)

	assert.Error(t, m.BootstrapOrg(ctx, "", "owner"))
}

func TestManager_MemoryModeSiteAssignments(t *testing.T) {
	owners, err := config.DatabaseConfig{StaticSites: []string{testSite + "=" + testOrg}}.StaticSiteOwners()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Sites = NewStaticSiteDirectory(owners)
	m, err := NewManager(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	editor, err := m.Roles().CreateRole(ctx, testOrg, "Site Editor", ScopeSite, RoleTypeCustom, []string{"content.edit", "content.view"})
	require.NoError(t, err)
	_, created, err := m.Assignments().Assign(ctx, testOrg, "u1", editor.ID, strPtr(testSite))
	require.NoError(t, err)
	assert.True(t, created)

	perm, err := m.Resolver().Check(ctx, Query{OrgID: testOrg, UserID: "u1", SiteID: testSite}, "content.edit")
	require.NoError(t, err)
	assert.True(t, perm.Allowed)

	_, _, err = m.Assignments().Assign(ctx, testOrg, "u1", editor.ID, strPtr(otherSite))
	var crossOrg *authzerr.CrossOrgSiteError
	assert.ErrorAs(t, err, &crossOrg)
}

func TestNewCacheFromConfig(t *testing.T) {
	c, err := NewCacheFromConfig(config.CacheConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", c.Name())

	c, err = NewCacheFromConfig(config.CacheConfig{Backend: config.CacheMemory, Size: 10, TTL: time.Minute}, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", c.Name())

	_, err = NewCacheFromConfig(config.CacheConfig{Backend: config.CacheRedis}, nil)
	assert.Error(t, err)

	_, client := newTestRedis(t)
	c, err = NewCacheFromConfig(config.CacheConfig{Backend: config.CacheRedis, TTL: time.Minute}, client)
	require.NoError(t, err)
	assert.Equal(t, "redis", c.Name())

	_, err = NewCacheFromConfig(config.CacheConfig{Backend: "memcached"}, nil)
	assert.Error(t, err)
}
