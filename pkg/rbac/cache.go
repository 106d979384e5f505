package rbac

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores resolved permission maps. Entries are keyed by the org's
// generation; InvalidateOrg advances the generation so every earlier entry
// becomes unreachable.
type Cache interface {
	Generation(ctx context.Context, orgID string) (uint64, error)
	Get(ctx context.Context, orgID string, gen uint64, userID, siteID string) (map[string]EffectivePermission, bool, error)
	Set(ctx context.Context, orgID string, gen uint64, userID, siteID string, perms map[string]EffectivePermission) error
	InvalidateOrg(ctx context.Context, orgID string) error
	// Name labels the implementation in metrics
	Name() string
}

// NoopCache never stores anything
type NoopCache struct{}

// Generation is always 0
func (NoopCache) Generation(ctx context.Context, orgID string) (uint64, error) { return 0, nil }

// Get always misses
func (NoopCache) Get(ctx context.Context, orgID string, gen uint64, userID, siteID string) (map[string]EffectivePermission, bool, error) {
	return nil, false, nil
}

// Set discards perms
func (NoopCache) Set(ctx context.Context, orgID string, gen uint64, userID, siteID string, perms map[string]EffectivePermission) error {
	return nil
}

// InvalidateOrg is a no-op
func (NoopCache) InvalidateOrg(ctx context.Context, orgID string) error { return nil }

// Name reports "none"
func (NoopCache) Name() string { return "none" }

// Default LRU settings
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 5 * time.Minute
)

// LRUCache is an in-process cache bounded by size and TTL
type LRUCache struct {
	entries *expirable.LRU[string, map[string]EffectivePermission]

	mu          sync.Mutex
	generations map[string]uint64
}

// NewLRUCache creates an LRU cache. Non-positive arguments use the defaults.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{
		entries:     expirable.NewLRU[string, map[string]EffectivePermission](size, nil, ttl),
		generations: make(map[string]uint64),
	}
}

// entryKey joins the parts of a cache entry name with a length prefix on
// each, so no two (org, generation, user, site) tuples share a key whatever
// characters the identifiers contain.
func entryKey(orgID string, gen uint64, userID, siteID string) string {
	var b strings.Builder
	for _, part := range []string{orgID, strconv.FormatUint(gen, 10), userID, siteID} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// Generation returns the org's current generation, 0 if never invalidated
func (c *LRUCache) Generation(ctx context.Context, orgID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[orgID], nil
}

// Get returns the entry stored under gen, if it has not expired
func (c *LRUCache) Get(ctx context.Context, orgID string, gen uint64, userID, siteID string) (map[string]EffectivePermission, bool, error) {
	perms, ok := c.entries.Get(entryKey(orgID, gen, userID, siteID))
	return perms, ok, nil
}

// Set stores perms under gen, evicting the least recently used entry when full
func (c *LRUCache) Set(ctx context.Context, orgID string, gen uint64, userID, siteID string, perms map[string]EffectivePermission) error {
	c.entries.Add(entryKey(orgID, gen, userID, siteID), perms)
	return nil
}

// InvalidateOrg advances the org generation. Older entries age out of the LRU.
func (c *LRUCache) InvalidateOrg(ctx context.Context, orgID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[orgID]++
	return nil
}

// Name reports "memory"
func (c *LRUCache) Name() string { return "memory" }

// Len returns the number of live entries
func (c *LRUCache) Len() int {
	return c.entries.Len()
}
