// Package config loads the runtime's layered configuration: YAML
// defaults, overridden by environment variables, with usable
// zero-config defaults so tests never need a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/observability"
)

// CacheConfig selects and configures the Resolution Cache backend.
type CacheConfig struct {
	Backend    string `yaml:"backend"` // "memory" | "redis"
	MaxEntries int    `yaml:"max_entries"`
	RedisAddr  string `yaml:"redis_addr"`
}

// StorageConfig selects and configures the TRACE StorageAdapter.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // "memory" | "file" | "postgres" | "sqlite"
	FileRoot    string `yaml:"file_root"`
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`

	// ArtifactBackend, S3 and GCS name an external object store for
	// artifacts above the inline threshold. BuildStorage does not read
	// them: no external artifact store is built, and artifacts go to the
	// primary StorageAdapter's own artifact methods.
	ArtifactBackend string    `yaml:"artifact_backend"` // "" | "s3" | "gcs"
	S3              S3Config  `yaml:"s3"`
	GCS             GCSConfig `yaml:"gcs"`
}

// S3Config configures the s3store artifact backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// GCSConfig configures the gcsstore artifact backend.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// ApprovalConfig controls the default approvers and timeout for
// resolutions requiring approval.
type ApprovalConfig struct {
	Approvers      []string `yaml:"approvers"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// AuthConfig configures bearer-token validation for incoming
// requesters. Empty SigningKey disables authentication: requester
// context then carries only agent_id/session_id, with no delegation
// or scope information available to policy conditions.
type AuthConfig struct {
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
}

// Config is the runtime's complete configuration surface.
type Config struct {
	DefaultTTLSeconds      int            `yaml:"default_ttl_seconds"`
	MaxContextTokens       int            `yaml:"max_context_tokens"`
	MaxActions             int            `yaml:"max_actions"`
	RingBufferCapacity     int            `yaml:"ring_buffer_capacity"`
	ProcessorBatchSize     int            `yaml:"processor_batch_size"`
	ProcessorBackoffMillis int            `yaml:"processor_backoff_millis"`
	Cache                  CacheConfig    `yaml:"cache"`
	Storage                StorageConfig  `yaml:"storage"`
	Approval               ApprovalConfig `yaml:"approval"`
	Auth                   AuthConfig     `yaml:"auth"`
	Observability          *observability.Config `yaml:"observability"`
}

// Default returns a usable, zero-config Config: in-memory cache and
// storage, no-op observability, a five-minute resolution TTL.
func Default() Config {
	return Config{
		DefaultTTLSeconds:      300,
		MaxContextTokens:       8000,
		MaxActions:             20,
		RingBufferCapacity:     4096,
		ProcessorBatchSize:     64,
		ProcessorBackoffMillis: 50,
		Cache:                  CacheConfig{Backend: "memory", MaxEntries: 10000},
		Storage:                StorageConfig{Backend: "memory"},
		Approval:               ApprovalConfig{Approvers: []string{"duty-approver"}, TimeoutSeconds: 600},
		Observability:          observability.DefaultConfig(),
	}
}

// Load reads YAML config from path (if non-empty and present), falls
// back to Default() otherwise, then applies environment-variable
// overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mirrors the teacher lineage's env-override
// pattern for a subset of fields: the TTL, the context-token and action
// limits, the cache backend and Redis address, the storage backend with
// its file root, Postgres DSN and SQLite path, observability enablement,
// and the auth signing key and issuer each have an ATLASRUN_* variable,
// applied only when set so an absent variable never clobbers a YAML
// value. The remaining fields are set from YAML only.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATLASRUN_DEFAULT_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTTLSeconds = n
		}
	}
	if v := os.Getenv("ATLASRUN_MAX_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxContextTokens = n
		}
	}
	if v := os.Getenv("ATLASRUN_MAX_ACTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxActions = n
		}
	}
	if v := os.Getenv("ATLASRUN_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("ATLASRUN_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("ATLASRUN_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("ATLASRUN_STORAGE_FILE_ROOT"); v != "" {
		cfg.Storage.FileRoot = v
	}
	if v := os.Getenv("ATLASRUN_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("ATLASRUN_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ATLASRUN_OBSERVABILITY_ENABLED"); v != "" {
		cfg.Observability.Enabled = v == "true"
	}
	if v := os.Getenv("ATLASRUN_AUTH_SIGNING_KEY"); v != "" {
		cfg.Auth.SigningKey = v
	}
	if v := os.Getenv("ATLASRUN_AUTH_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}
}

// TTL returns DefaultTTLSeconds as a time.Duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// ApprovalTimeout returns Approval.TimeoutSeconds as a time.Duration.
func (c Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Approval.TimeoutSeconds) * time.Second
}
