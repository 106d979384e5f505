package rbac

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/capabilities"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

const (
	testOrg     = "org-1"
	otherOrg    = "org-2"
	testSite    = "site-1"
	otherSite   = "site-2"
	foreignSite = "site-9"
)

// recordingAudit keeps every event it receives
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
}

func (a *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) ofType(t audit.EventType) []*audit.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*audit.AuditEvent
	for _, e := range a.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// failingCache wraps a cache and fails invalidation on demand
type failingCache struct {
	Cache
	failInvalidate bool
	failGeneration bool
}

func (c *failingCache) InvalidateOrg(ctx context.Context, orgID string) error {
	if c.failInvalidate {
		return errors.New("redis unavailable")
	}
	return c.Cache.InvalidateOrg(ctx, orgID)
}

func (c *failingCache) Generation(ctx context.Context, orgID string) (uint64, error) {
	if c.failGeneration {
		return 0, errors.New("redis unavailable")
	}
	return c.Cache.Generation(ctx, orgID)
}

// countingRepo counts snapshot loads and can fail them
type countingRepo struct {
	Repository
	mu        sync.Mutex
	snapshots int
	fail      error
	delay     time.Duration
}

func (r *countingRepo) Snapshot(ctx context.Context, orgID, userID string) (*Snapshot, error) {
	r.mu.Lock()
	r.snapshots++
	fail := r.fail
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}
	return r.Repository.Snapshot(ctx, orgID, userID)
}

func (r *countingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots
}

// testEnv is a fully wired in-memory engine
type testEnv struct {
	registry    *capabilities.Registry
	repo        *countingRepo
	cache       *failingCache
	sites       *StaticSiteDirectory
	audit       *recordingAudit
	roles       *RoleStore
	policies    *PolicyStore
	assignments *AssignmentStore
	resolver    *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := capabilities.Default()
	repo := &countingRepo{Repository: NewMemoryStore()}
	cache := &failingCache{Cache: NewLRUCache(100, time.Minute)}
	sites := NewStaticSiteDirectory(map[string]string{
		testSite:    testOrg,
		otherSite:   testOrg,
		foreignSite: otherOrg,
	})
	rec := &recordingAudit{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	opts := []StoreOption{WithAuditLogger(rec), WithLogger(logger)}
	return &testEnv{
		registry:    registry,
		repo:        repo,
		cache:       cache,
		sites:       sites,
		audit:       rec,
		roles:       NewRoleStore(repo, registry, cache, opts...),
		policies:    NewPolicyStore(repo, registry, cache, opts...),
		assignments: NewAssignmentStore(repo, sites, cache, opts...),
		resolver:    NewResolver(repo, registry, cache, WithResolverLogger(logger)),
	}
}

func (e *testEnv) createRole(t *testing.T, org, name string, scope Scope, roleType RoleType, keys ...string) *Role {
	t.Helper()
	role, err := e.roles.CreateRole(context.Background(), org, name, scope, roleType, keys)
	require.NoError(t, err)
	return role
}

func (e *testEnv) assign(t *testing.T, org, user, roleID, site string) *Assignment {
	t.Helper()
	var sitePtr *string
	if site != "" {
		sitePtr = &site
	}
	a, _, err := e.assignments.Assign(context.Background(), org, user, roleID, sitePtr)
	require.NoError(t, err)
	return a
}

func (e *testEnv) resolve(t *testing.T, org, user, site string) map[string]EffectivePermission {
	t.Helper()
	perms, err := e.resolver.Resolve(context.Background(), Query{OrgID: org, UserID: user, SiteID: site})
	require.NoError(t, err)
	return perms
}

func strPtr(s string) *string { return &s }
