package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatekeeper/pkg/capabilities"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

var tracer = observability.Tracer("github.com/platinummonkey/gatekeeper/pkg/rbac")

// Resolution sources for metrics
const (
	sourceCache = "cache"
	sourceStore = "store"
)

// Checker answers capability questions for a principal
type Checker interface {
	// Resolve returns the decision for every capability of interest
	Resolve(ctx context.Context, q Query) (map[string]EffectivePermission, error)

	// Check returns the decision for one capability key
	Check(ctx context.Context, q Query, key string) (EffectivePermission, error)
}

// Evaluate computes effective permissions from a snapshot. Grants of ORG
// roles always apply; grants of SITE roles apply only when their site equals
// siteID. Policies only restrict: a disabled policy denies a granted key and
// never grants one. An empty module selects every capability.
func Evaluate(registry *capabilities.Registry, snap *Snapshot, siteID, module string) map[string]EffectivePermission {
	var caps []capabilities.Capability
	if module == "" {
		caps = registry.All()
	} else {
		caps = registry.ByModule(module)
	}

	sources := make(map[string]map[string]struct{})
	if snap != nil {
		for _, g := range snap.Grants {
			if !grantApplies(g, siteID) {
				continue
			}
			for _, key := range g.CapabilityKeys {
				names, ok := sources[key]
				if !ok {
					names = make(map[string]struct{})
					sources[key] = names
				}
				names[g.RoleName] = struct{}{}
			}
		}
	}

	out := make(map[string]EffectivePermission, len(caps))
	for _, c := range caps {
		policyEnabled := true
		if c.CanBePolicyControlled && snap != nil {
			if enabled, ok := snap.Policies[c.Key]; ok {
				policyEnabled = enabled
			}
		}

		roleSources := make([]string, 0, len(sources[c.Key]))
		for name := range sources[c.Key] {
			roleSources = append(roleSources, name)
		}
		sort.Strings(roleSources)

		granted := len(roleSources) > 0
		perm := EffectivePermission{
			Key:           c.Key,
			Allowed:       policyEnabled && granted,
			PolicyEnabled: policyEnabled,
			RoleSources:   roleSources,
		}
		switch {
		case perm.Allowed:
			perm.Reason = ReasonGranted
		case !policyEnabled:
			perm.Reason = ReasonPolicyDisabled
		default:
			perm.Reason = ReasonNotGranted
		}
		out[c.Key] = perm
	}
	return out
}

func grantApplies(g Grant, siteID string) bool {
	switch g.Scope {
	case ScopeOrg:
		return true
	case ScopeSite:
		return siteID != "" && g.SiteID == siteID
	}
	return false
}

// Resolver loads snapshots, evaluates them and caches the results
type Resolver struct {
	repo     Repository
	registry *capabilities.Registry
	cache    Cache

	logger      *observability.Logger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics

	group singleflight.Group
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used for cache warnings
func WithResolverLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithResolverMetrics sets the metric sinks; either may be nil
func WithResolverMetrics(metrics *observability.Metrics, otelMetrics *observability.OTelMetrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = metrics
		r.otelMetrics = otelMetrics
	}
}

// NewResolver creates a resolver. A nil cache disables caching.
func NewResolver(repo Repository, registry *capabilities.Registry, cache Cache, opts ...ResolverOption) *Resolver {
	if cache == nil {
		cache = NoopCache{}
	}
	r := &Resolver{
		repo:     repo,
		registry: registry,
		cache:    cache,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return r
}

// Resolve returns effective permissions for q. An error means the backing
// store failed and the caller must deny.
func (r *Resolver) Resolve(ctx context.Context, q Query) (_ map[string]EffectivePermission, err error) {
	ctx, span := tracer.Start(ctx, "rbac.Resolve", trace.WithAttributes(
		attribute.String("authz.org_id", q.OrgID),
		attribute.String("authz.user_id", q.UserID),
		attribute.String("authz.site_id", q.SiteID),
		attribute.String("authz.module", q.Module),
	))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	perms, source, err := r.resolveAll(ctx, q.OrgID, q.UserID, q.SiteID)
	r.metrics.RecordResolve(source, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	r.otelMetrics.RecordResolve(ctx, source, time.Since(start))
	span.SetAttributes(attribute.String("authz.source", source))

	return filterModule(r.registry, perms, q.Module), nil
}

// Check resolves a single registered capability
func (r *Resolver) Check(ctx context.Context, q Query, key string) (EffectivePermission, error) {
	c, err := r.registry.Get(key)
	if err != nil {
		return EffectivePermission{}, err
	}

	q.Module = c.Module
	perms, err := r.Resolve(ctx, q)
	if err != nil {
		return EffectivePermission{}, err
	}

	perm := perms[key]
	r.metrics.RecordDecision(perm.Allowed, perm.Reason)
	r.otelMetrics.RecordDecision(ctx, key, perm.Allowed)
	return perm, nil
}

// resolveAll returns the unfiltered map for (org, user, site) and whether it
// came from the cache or the store
func (r *Resolver) resolveAll(ctx context.Context, orgID, userID, siteID string) (map[string]EffectivePermission, string, error) {
	logger := r.logger.WithSubject(orgID, userID, siteID).WithField("cache", r.cache.Name())

	gen, genErr := r.cache.Generation(ctx, orgID)
	if genErr != nil {
		logger.WithError(genErr).Warn("failed to read cache generation, bypassing cache")
	} else {
		perms, hit, err := r.cache.Get(ctx, orgID, gen, userID, siteID)
		if err != nil {
			logger.WithError(err).Warn("permission cache read failed")
		}
		r.metrics.RecordCacheLookup(r.cache.Name(), hit)
		r.otelMetrics.RecordCacheLookup(ctx, r.cache.Name(), hit)
		if hit {
			return perms, sourceCache, nil
		}
	}

	load := func(ctx context.Context) (map[string]EffectivePermission, error) {
		snap, err := r.repo.Snapshot(ctx, orgID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load permission snapshot: %w", err)
		}
		perms := Evaluate(r.registry, snap, siteID, "")

		if genErr == nil {
			if err := r.cache.Set(ctx, orgID, gen, userID, siteID, perms); err != nil {
				logger.WithError(err).Warn("permission cache write failed")
			}
		}
		return perms, nil
	}

	if genErr != nil {
		perms, err := load(ctx)
		if err != nil {
			return nil, sourceStore, err
		}
		return perms, sourceStore, nil
	}

	// The shared load outlives any single caller; each caller still stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(entryKey(orgID, gen, userID, siteID), func() (interface{}, error) {
		return load(shared)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, sourceStore, res.Err
		}
		return res.Val.(map[string]EffectivePermission), sourceStore, nil
	case <-ctx.Done():
		return nil, sourceStore, fmt.Errorf("failed to load permission snapshot: %w", ctx.Err())
	}
}

// filterModule copies the entries of module out of perms. Callers receive
// their own RoleSources slices since perms may be shared through the cache.
func filterModule(registry *capabilities.Registry, perms map[string]EffectivePermission, module string) map[string]EffectivePermission {
	var keys []string
	if module == "" {
		keys = make([]string, 0, len(perms))
		for k := range perms {
			keys = append(keys, k)
		}
	} else {
		for _, c := range registry.ByModule(module) {
			keys = append(keys, c.Key)
		}
	}

	out := make(map[string]EffectivePermission, len(keys))
	for _, k := range keys {
		p, ok := perms[k]
		if !ok {
			continue
		}
		p.RoleSources = append([]string{}, p.RoleSources...)
		out[k] = p
	}
	return out
}
