package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/storage/filestore"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/storage/memstore"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/storage/pgstore"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/storage/sqlitestore"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// BuildCache constructs the Resolution Cache backend selected by
// Cache.Backend, mirroring the teacher lineage's env-selected
// artifact-store factory (core/pkg/artifacts.NewStoreFromEnv).
func BuildCache(cfg CacheConfig, clock ids.Clock) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemCache(cfg.MaxEntries, clock), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("config: cache.redis_addr is required for backend=redis")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return cache.NewRedisCache(client, "atlasrun:resolution", cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("config: unknown cache backend %q", cfg.Backend)
	}
}

// BuildStorage constructs the TRACE StorageAdapter backend selected by
// Storage.Backend.
func BuildStorage(ctx context.Context, cfg StorageConfig) (trace.StorageAdapter, error) {
	switch cfg.Backend {
	case "", "memory":
		return memstore.New(), nil
	case "file":
		root := cfg.FileRoot
		if root == "" {
			root = "data/trace"
		}
		return filestore.New(root)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("config: storage.postgres_dsn is required for backend=postgres")
		}
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("config: open postgres: %w", err)
		}
		return pgstore.New(ctx, db)
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "data/atlasrun.db"
		}
		return sqlitestore.Open(ctx, path)
	default:
		return nil, fmt.Errorf("config: unknown storage backend %q", cfg.Backend)
	}
}
