package rebac

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CacheKey identifies one cached check decision. Generation is the object's
// invalidation counter at the time the check started; bumping it orphans every
// decision computed before the bump.
type CacheKey struct {
	TupleKey
	Generation uint64
}

// String renders the key for external caches. Ids are quoted so that
// delimiters inside them cannot make two keys render alike.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%q:%d:%s:%q", k.Namespace, k.ObjectID, k.Generation, k.Relation, k.SubjectID)
}

// Cache is an optional side-cache of check decisions.
//
// A check reads Generation first and keys both Get and Set with it. Writers
// call InvalidateObject after the store commits, which bumps the generation,
// so a decision computed from pre-write state can never be stored under the
// post-write key.
type Cache interface {
	Generation(ctx context.Context, ns Namespace, objectID string) (uint64, error)
	Get(ctx context.Context, key CacheKey) (allowed bool, found bool, err error)
	Set(ctx context.Context, key CacheKey, allowed bool) error
	InvalidateObject(ctx context.Context, ns Namespace, objectID string) error
}

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache of check decisions.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu          sync.RWMutex
	generations map[objectRef]uint64
	entries     map[objectRef]map[CacheKey]cacheEntry
}

// NewMemoryCache creates an in-memory cache with the given TTL. Expired
// decisions are dropped when read; call Run to sweep the rest.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &MemoryCache{
		ttl:         ttl,
		now:         time.Now,
		generations: make(map[objectRef]uint64),
		entries:     make(map[objectRef]map[CacheKey]cacheEntry),
	}
}

func (c *MemoryCache) Generation(ctx context.Context, ns Namespace, objectID string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[objectRef{ns: ns, objectID: objectID}], nil
}

func (c *MemoryCache) Get(ctx context.Context, key CacheKey) (bool, bool, error) {
	ref := objectRef{ns: key.Namespace, objectID: key.ObjectID}

	c.mu.RLock()
	entry, found := c.entries[ref][key]
	c.mu.RUnlock()

	if !found {
		return false, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if e, ok := c.entries[ref][key]; ok && !c.now().Before(e.expiresAt) {
			c.removeLocked(ref, key)
		}
		c.mu.Unlock()
		return false, false, nil
	}
	return entry.allowed, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key CacheKey, allowed bool) error {
	ref := objectRef{ns: key.Namespace, objectID: key.ObjectID}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Stale generation: an invalidation happened while the check ran.
	if key.Generation != c.generations[ref] {
		return nil
	}
	bucket, ok := c.entries[ref]
	if !ok {
		bucket = make(map[CacheKey]cacheEntry)
		c.entries[ref] = bucket
	}
	bucket[key] = cacheEntry{
		allowed:   allowed,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryCache) InvalidateObject(ctx context.Context, ns Namespace, objectID string) error {
	ref := objectRef{ns: ns, objectID: objectID}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[ref]++
	delete(c.entries, ref)
	return nil
}

// Prune drops every expired decision and returns how many were removed.
func (c *MemoryCache) Prune() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for ref, bucket := range c.entries {
		for key, entry := range bucket {
			if !now.Before(entry.expiresAt) {
				delete(bucket, key)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(c.entries, ref)
		}
	}
	return removed
}

// Run prunes expired decisions every interval until ctx is done. A
// non-positive interval uses the TTL.
func (c *MemoryCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

func (c *MemoryCache) removeLocked(ref objectRef, key CacheKey) {
	bucket := c.entries[ref]
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(c.entries, ref)
	}
}

// Len returns the number of cached decisions, expired ones not yet pruned
// included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, bucket := range c.entries {
		n += len(bucket)
	}
	return n
}

var _ Cache = (*MemoryCache)(nil)
