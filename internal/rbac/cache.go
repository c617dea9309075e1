package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a resolved permission set stays fresh.
const DefaultCacheTTL = 300 * time.Second

// DefaultCacheMaxEntries bounds the number of cached users.
const DefaultCacheMaxEntries = 10000

// CacheConfig configures a DecisionCache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
	Metrics    *Metrics
	Clock      func() time.Time
}

type cacheEntry struct {
	perms      PermissionSet
	computedAt time.Time
}

// DecisionCache keeps resolved permission sets per user for TTL.
//
// Writers (fill, Invalidate, Purge) serialise on mu; storage I/O never runs
// under it. Each user has a version: the sequence number of the last
// Invalidate naming them or of the last Purge, whichever is newer. A fill
// only lands when the user's version is unchanged since it started, so a
// resolution that raced a mutation can never re-populate the entry the
// mutation just dropped, while fills for other users are unaffected.
type DecisionCache struct {
	resolver   PermissionResolver
	entries    *lru.Cache[string, cacheEntry]
	ttl        time.Duration
	clock      func() time.Time
	metrics    *Metrics
	maxEntries int

	mu          sync.Mutex
	seq         uint64
	purgedAt    uint64
	invalidated map[string]uint64
	flights     singleflight.Group
}

// NewDecisionCache constructs a cache in front of resolver.
func NewDecisionCache(resolver PermissionResolver, cfg CacheConfig) (*DecisionCache, error) {
	if resolver == nil {
		return nil, fmt.Errorf("rbac: cache requires a resolver")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheMaxEntries
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	entries, err := lru.New[string, cacheEntry](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("rbac: cache: %w", err)
	}
	return &DecisionCache{
		resolver:    resolver,
		entries:     entries,
		ttl:         cfg.TTL,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		maxEntries:  cfg.MaxEntries,
		invalidated: make(map[string]uint64),
	}, nil
}

// TTL returns the configured freshness window.
func (c *DecisionCache) TTL() time.Duration { return c.ttl }

// Permissions returns the user's permission set, resolving on miss or when
// the cached entry is older than TTL.
func (c *DecisionCache) Permissions(ctx context.Context, userID string) (PermissionSet, error) {
	if e, ok := c.entries.Get(userID); ok {
		if c.clock().Sub(e.computedAt) < c.ttl {
			c.metrics.lookup("hit")
			return e.perms, nil
		}
		c.metrics.lookup("stale")
	} else {
		c.metrics.lookup("miss")
	}
	return c.fill(ctx, userID)
}

func (c *DecisionCache) fill(ctx context.Context, userID string) (PermissionSet, error) {
	c.mu.Lock()
	version := c.versionLocked(userID)
	c.mu.Unlock()
	key := fmt.Sprintf("%s@%d", userID, version)
	// Joined callers must not inherit the first caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (interface{}, error) {
		computedAt := c.clock()
		perms, err := c.resolver.Resolve(flightCtx, userID)
		if err != nil {
			return nil, err
		}
		c.store(userID, cacheEntry{perms: perms, computedAt: computedAt}, version)
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return PermissionSet{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return PermissionSet{}, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

func (c *DecisionCache) store(userID string, e cacheEntry, version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionLocked(userID) != version {
		return
	}
	c.entries.Add(userID, e)
}

func (c *DecisionCache) versionLocked(userID string) uint64 {
	return max(c.purgedAt, c.invalidated[userID])
}

// Invalidate drops the user's entry. It is idempotent.
func (c *DecisionCache) Invalidate(userID string) {
	c.mu.Lock()
	c.seq++
	c.invalidated[userID] = c.seq
	// Folding the map into purgedAt keeps it bounded. It only costs in-flight
	// fills; cached entries stay.
	if len(c.invalidated) > c.maxEntries {
		c.purgedAt = c.seq
		clear(c.invalidated)
	}
	c.entries.Remove(userID)
	c.mu.Unlock()
	c.metrics.invalidated("user")
}

// Purge drops every entry, used when a role bundle changes for all holders.
func (c *DecisionCache) Purge() {
	c.mu.Lock()
	c.seq++
	c.purgedAt = c.seq
	clear(c.invalidated)
	c.entries.Purge()
	c.mu.Unlock()
	c.metrics.invalidated("all")
}

// Len reports the number of cached users, stale ones included.
func (c *DecisionCache) Len() int { return c.entries.Len() }
