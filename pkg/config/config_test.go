package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/config"
)

func TestDefaultIsZeroConfig(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.False(t, cfg.Observability.Enabled)
	require.Equal(t, 300, cfg.DefaultTTLSeconds)
}

func TestLoadMissingPathFallsBackToDefault(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default().MaxActions, cfg.MaxActions)
}

func TestLoadYAMLOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "max_actions: 5\ncache:\n  backend: redis\n  redis_addr: localhost:6379\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxActions)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_actions: 5\n"), 0o644))

	t.Setenv("ATLASRUN_MAX_ACTIONS", "9")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.MaxActions)
}

func TestAuthDisabledByDefault(t *testing.T) {
	cfg := config.Default()
	require.Empty(t, cfg.Auth.SigningKey)
}

func TestEnvOverridesAuth(t *testing.T) {
	t.Setenv("ATLASRUN_AUTH_SIGNING_KEY", "s3cr3t")
	t.Setenv("ATLASRUN_AUTH_ISSUER", "atlasrund")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", cfg.Auth.SigningKey)
	require.Equal(t, "atlasrund", cfg.Auth.Issuer)
}
