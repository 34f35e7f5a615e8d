package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
)

// DefaultMaxEntries bounds an in-process cache's size before LRU
// eviction kicks in.
const DefaultMaxEntries = 10000

// DefaultSweepInterval is how often the periodic sweeper prunes
// expired entries in addition to the lazy per-Get pruning.
const DefaultSweepInterval = 30 * time.Second

type memEntry struct {
	key      string
	entry    Entry
	listElem *list.Element
}

// MemCache is the default, single-instance Resolution Cache backend:
// a mutex-protected map plus an LRU list for bounded-size eviction,
// same texture as the teacher lineage's InMemoryLimiterStore
// (mutex-guarded map of per-key state, no external dependency for a
// concern stdlib already expresses directly).
type MemCache struct {
	mu         sync.Mutex
	entries    map[string]*memEntry
	lru        *list.List // front = most recently used
	maxEntries int
	clock      ids.Clock
}

// NewMemCache builds a MemCache bounded at maxEntries (DefaultMaxEntries if 0).
func NewMemCache(maxEntries int, clock ids.Clock) *MemCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clock == nil {
		clock = ids.SystemClock{}
	}
	return &MemCache{
		entries:    make(map[string]*memEntry),
		lru:        list.New(),
		maxEntries: maxEntries,
		clock:      clock,
	}
}

func (c *MemCache) Get(_ context.Context, key string) (carp.Resolution, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	me, ok := c.entries[key]
	if !ok {
		return carp.Resolution{}, false, nil
	}
	if c.clock.Now().After(me.entry.ExpiresAt) {
		c.removeLocked(me)
		return carp.Resolution{}, false, nil
	}

	c.lru.MoveToFront(me.listElem)
	return me.entry.Resolution, true, nil
}

// Set inserts or overwrites key. On an existing key, last writer wins
// (the new entry replaces the old one outright, including its TTL and
// atlas refs). Eviction runs after insert if over capacity.
func (c *MemCache) Set(_ context.Context, key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.entry = entry
		c.lru.MoveToFront(existing.listElem)
		return nil
	}

	me := &memEntry{key: key, entry: entry}
	me.listElem = c.lru.PushFront(me)
	c.entries[key] = me

	for len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*memEntry))
	}
	return nil
}

func (c *MemCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if me, ok := c.entries[key]; ok {
		c.removeLocked(me)
	}
	return nil
}

// Invalidate removes every entry whose resolution depends on
// atlasRef, returning the number removed.
func (c *MemCache) Invalidate(_ context.Context, atlasRef string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for _, me := range c.entries {
		if containsRef(me.entry.AtlasRefs, atlasRef) {
			c.removeLocked(me)
			removed++
		}
	}
	return removed, nil
}

func (c *MemCache) Len(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneExpiredLocked()
	return len(c.entries), nil
}

// removeLocked must be called with mu held.
func (c *MemCache) removeLocked(me *memEntry) {
	c.lru.Remove(me.listElem)
	delete(c.entries, me.key)
}

func (c *MemCache) pruneExpiredLocked() {
	now := c.clock.Now()
	for e := c.lru.Back(); e != nil; {
		me := e.Value.(*memEntry)
		prev := e.Prev()
		if now.After(me.entry.ExpiresAt) {
			c.removeLocked(me)
		}
		e = prev
	}
}

// RunSweeper periodically prunes expired entries until ctx is done,
// supplementing the lazy per-Get expiry check (§4.6).
func (c *MemCache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.pruneExpiredLocked()
			c.mu.Unlock()
		}
	}
}

func containsRef(refs []string, ref string) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
