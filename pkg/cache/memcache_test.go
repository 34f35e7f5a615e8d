package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
)

func TestMemCache_SetAndGet(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1000, 0), Step: time.Second}
	c := cache.NewMemCache(10, clock)
	ctx := context.Background()

	entry := cache.Entry{
		Resolution: carp.Resolution{ID: "res-1"},
		ExpiresAt:  clock.Now().Add(time.Hour),
		AtlasRefs:  []string{"docs@1.0.0"},
	}
	require.NoError(t, c.Set(ctx, "k1", entry))

	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "res-1", got.ID)
}

func TestMemCache_ExpiredEntryIsMiss(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1000, 0), Step: time.Minute}
	c := cache.NewMemCache(10, clock)
	ctx := context.Background()

	entry := cache.Entry{Resolution: carp.Resolution{ID: "res-1"}, ExpiresAt: clock.Now()}
	require.NoError(t, c.Set(ctx, "k1", entry))

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemCache_LastWriterWins(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1000, 0), Step: time.Second}
	c := cache.NewMemCache(10, clock)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", cache.Entry{Resolution: carp.Resolution{ID: "v1"}, ExpiresAt: clock.Now().Add(time.Hour)}))
	require.NoError(t, c.Set(ctx, "k1", cache.Entry{Resolution: carp.Resolution{ID: "v2"}, ExpiresAt: clock.Now().Add(time.Hour)}))

	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", got.ID)
}

func TestMemCache_LRUEvictsOldestOnOverflow(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1000, 0), Step: time.Second}
	c := cache.NewMemCache(2, clock)
	ctx := context.Background()

	future := clock.Now().Add(time.Hour)
	require.NoError(t, c.Set(ctx, "k1", cache.Entry{Resolution: carp.Resolution{ID: "v1"}, ExpiresAt: future}))
	require.NoError(t, c.Set(ctx, "k2", cache.Entry{Resolution: carp.Resolution{ID: "v2"}, ExpiresAt: future}))
	require.NoError(t, c.Set(ctx, "k3", cache.Entry{Resolution: carp.Resolution{ID: "v3"}, ExpiresAt: future}))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, ok, _ := c.Get(ctx, "k1")
	require.False(t, ok, "k1 should have been evicted as least recently used")

	_, ok, _ = c.Get(ctx, "k3")
	require.True(t, ok)
}

func TestMemCache_InvalidateByAtlasRef(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1000, 0), Step: time.Second}
	c := cache.NewMemCache(10, clock)
	ctx := context.Background()
	future := clock.Now().Add(time.Hour)

	require.NoError(t, c.Set(ctx, "k1", cache.Entry{Resolution: carp.Resolution{ID: "v1"}, ExpiresAt: future, AtlasRefs: []string{"docs@1.0.0"}}))
	require.NoError(t, c.Set(ctx, "k2", cache.Entry{Resolution: carp.Resolution{ID: "v2"}, ExpiresAt: future, AtlasRefs: []string{"billing@2.0.0"}}))

	removed, err := c.Invalidate(ctx, "docs@1.0.0")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, _ := c.Get(ctx, "k1")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "k2")
	require.True(t, ok)
}

func TestKey_IsDeterministic(t *testing.T) {
	k1 := cache.Key("goalhash", "agent-1", "scopehash")
	k2 := cache.Key("goalhash", "agent-1", "scopehash")
	require.Equal(t, k1, k2)
}
