// Package cache implements the Resolution Cache (§4.6): a key→Resolution
// map with TTL expiry, lazy and periodic sweeping, atlas-reference
// invalidation, bounded size with LRU eviction, and last-writer-wins
// semantics on an identical key. Two backends share the Cache
// interface: an in-process map guarded by a single mutex, with an LRU
// list (default), and a Redis-backed implementation for multi-instance
// deployments.
package cache

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// Entry is a cached resolution plus its own expiry and the atlas refs
// it depends on, so Invalidate can find it without deserializing the
// resolution payload.
type Entry struct {
	Resolution carp.Resolution
	ExpiresAt  time.Time
	AtlasRefs  []string
}

// Cache is the Resolution Cache's storage-agnostic contract. Get
// returns ok=false for a miss or an expired, already-evicted entry —
// callers never observe an expired entry as a hit.
type Cache interface {
	Get(ctx context.Context, key string) (carp.Resolution, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Invalidate(ctx context.Context, atlasRef string) (int, error)
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
}

// Key computes the resolution cache key from its three components
// (§4.6: "fingerprint"): the canonical hash of the task goal, the
// requesting agent id, and the canonical hash of the request scope.
// Identical inputs always produce the identical key (§8 determinism
// property); callers supply already-hashed components so this package
// has no canonicalization dependency of its own beyond string
// concatenation.
func Key(goalHash, agentID, scopeHash string) string {
	return goalHash + "|" + agentID + "|" + scopeHash
}
