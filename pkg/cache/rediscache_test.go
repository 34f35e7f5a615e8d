package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// TestRedisCache_Integration requires a running Redis; it skips if one
// is not reachable on localhost, matching the pack's own Redis
// integration-test convention of pinging first and skipping on
// failure rather than failing the suite in environments without
// Redis.
func TestRedisCache_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("skipping Redis integration test: redis not available")
	}
	defer client.Close()

	c := cache.NewRedisCache(client, "atlas-runtime-test:", 2)

	future := time.Now().Add(time.Hour)
	require.NoError(t, c.Set(ctx, "k1", cache.Entry{
		Resolution: carp.Resolution{ID: "res-1"}, ExpiresAt: future, AtlasRefs: []string{"docs@1.0.0"},
	}))

	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "res-1", got.ID)

	removed, err := c.Invalidate(ctx, "docs@1.0.0")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}
