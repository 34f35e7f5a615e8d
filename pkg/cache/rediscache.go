package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// redisGetScript performs an atomic "read, and if present, refresh LRU
// recency" in one round trip: a bare GET plus ZADD would otherwise let
// a key expire between the two calls and resurrect a stale LRU entry.
//
// KEYS[1] = value key
// KEYS[2] = lru sorted-set key
// ARGV[1] = current unix-nano timestamp (LRU score)
var redisGetScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if value then
    redis.call("ZADD", KEYS[2], ARGV[1], KEYS[1])
end
return value
`)

// redisSetScript writes the entry with its TTL, bumps its LRU score,
// and evicts the coldest entries once the sorted set exceeds
// maxEntries — the same "one script, one round trip" idiom the
// teacher lineage's token-bucket limiter uses for its own atomic
// check-and-update.
//
// KEYS[1] = value key
// KEYS[2] = lru sorted-set key
// ARGV[1] = serialized entry
// ARGV[2] = ttl milliseconds
// ARGV[3] = current unix-nano timestamp
// ARGV[4] = max entries
var redisSetScript = redis.NewScript(`
local key = KEYS[1]
local lru = KEYS[2]
local value = ARGV[1]
local ttl_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local max_entries = tonumber(ARGV[4])

redis.call("SET", key, value, "PX", ttl_ms)
redis.call("ZADD", lru, now, key)

local count = redis.call("ZCARD", lru)
local evicted = {}
if count > max_entries then
    local excess = count - max_entries
    local stale = redis.call("ZRANGE", lru, 0, excess - 1)
    for _, stale_key in ipairs(stale) do
        redis.call("DEL", stale_key)
        redis.call("ZREM", lru, stale_key)
        table.insert(evicted, stale_key)
    end
end
return evicted
`)

// redisEntryDoc is the JSON wire shape stored in Redis for one Entry.
type redisEntryDoc struct {
	Resolution carp.Resolution `json:"resolution"`
	ExpiresAt  time.Time       `json:"expires_at"`
	AtlasRefs  []string        `json:"atlas_refs"`
}

// RedisCache is the multi-instance Resolution Cache backend (§4.6
// DOMAIN STACK), grounded on the teacher lineage's
// kernel/limiter_redis.go atomic-script pattern.
type RedisCache struct {
	client     redis.UniversalClient
	keyPrefix  string
	lruKey     string
	maxEntries int
}

// NewRedisCache builds a RedisCache. keyPrefix namespaces all keys
// this cache instance touches (e.g. "atlas-runtime:rescache:").
func NewRedisCache(client redis.UniversalClient, keyPrefix string, maxEntries int) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "atlas-runtime:rescache:"
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &RedisCache{
		client:     client,
		keyPrefix:  keyPrefix,
		lruKey:     keyPrefix + "lru",
		maxEntries: maxEntries,
	}
}

func (c *RedisCache) valueKey(key string) string { return c.keyPrefix + "v:" + key }
func (c *RedisCache) refsKey(atlasRef string) string { return c.keyPrefix + "refs:" + atlasRef }

func (c *RedisCache) Get(ctx context.Context, key string) (carp.Resolution, bool, error) {
	vkey := c.valueKey(key)
	res, err := redisGetScript.Run(ctx, c.client, []string{vkey, c.lruKey}, time.Now().UnixNano()).Result()
	if err == redis.Nil {
		return carp.Resolution{}, false, nil
	}
	if err != nil {
		return carp.Resolution{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return carp.Resolution{}, false, nil
	}

	var doc redisEntryDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return carp.Resolution{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return doc.Resolution, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry Entry) error {
	doc := redisEntryDoc{Resolution: entry.Resolution, ExpiresAt: entry.ExpiresAt, AtlasRefs: entry.AtlasRefs}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	vkey := c.valueKey(key)
	_, err = redisSetScript.Run(ctx, c.client, []string{vkey, c.lruKey},
		string(raw), ttl.Milliseconds(), time.Now().UnixNano(), c.maxEntries).Result()
	if err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}

	for _, ref := range entry.AtlasRefs {
		if err := c.client.SAdd(ctx, c.refsKey(ref), vkey).Err(); err != nil {
			return fmt.Errorf("cache: index atlas ref %q: %w", ref, err)
		}
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	vkey := c.valueKey(key)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, vkey)
	pipe.ZRem(ctx, c.lruKey, vkey)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	return nil
}

// Invalidate removes every cache entry tied to atlasRef via the
// reverse index populated at Set time.
func (c *RedisCache) Invalidate(ctx context.Context, atlasRef string) (int, error) {
	rkey := c.refsKey(atlasRef)
	members, err := c.client.SMembers(ctx, rkey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: read atlas ref index: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := c.client.TxPipeline()
	for _, vkey := range members {
		pipe.Del(ctx, vkey)
		pipe.ZRem(ctx, c.lruKey, vkey)
	}
	pipe.Del(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cache: redis invalidate: %w", err)
	}
	return len(members), nil
}

func (c *RedisCache) Len(ctx context.Context) (int, error) {
	n, err := c.client.ZCard(ctx, c.lruKey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: redis len: %w", err)
	}
	return int(n), nil
}
