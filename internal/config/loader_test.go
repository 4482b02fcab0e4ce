package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storeharness.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_NoFile(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, Default().Run, cfg.Run)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBackends, cfg.Run.Backends)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	path := writeConfig(t, `run:
  backends: memory, sql
  embedding_dim: 3
  similarity: dot_product
  strict_tags: true
services:
  launcher: testcontainers
  teardown: true
  qdrant:
    endpoint: qdrant.internal:6334
    settle_delay: 15s
sql:
  type: postgres
  postgres_url: postgres://u:p@db/test?sslmode=disable
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "memory, sql", cfg.Run.Backends)
	assert.Equal(t, 3, cfg.Run.EmbeddingDim)
	assert.Equal(t, "dot_product", cfg.Run.Similarity)
	assert.True(t, cfg.Run.StrictTags)
	assert.Equal(t, LauncherTestcontainers, cfg.Services.Launcher)
	assert.True(t, cfg.Services.Teardown)
	assert.Equal(t, "qdrant.internal:6334", cfg.Services.Qdrant.Endpoint)
	assert.Equal(t, 15*time.Second, cfg.Services.Qdrant.SettleDelay.Duration())
	// untouched fields keep their defaults
	assert.Equal(t, "qdrant/qdrant:v1.12.4", cfg.Services.Qdrant.Image)
	assert.Equal(t, SQLTypePostgres, cfg.SQL.Type)
	assert.Equal(t, "postgres://u:p@db/test?sslmode=disable", cfg.SQL.PostgresURL.Value())
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "run:\n  backends: memory\n", 0600)

	t.Setenv("STOREHARNESS_RUN_BACKENDS", "sql")
	t.Setenv("STOREHARNESS_SERVICES_REDIS_ENDPOINT", "redis.internal:6379")
	t.Setenv("STOREHARNESS_CLOUD_PASSTHROUGH", "true")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "sql", cfg.Run.Backends)
	assert.Equal(t, "redis.internal:6379", cfg.Services.Redis.Endpoint)
	assert.True(t, cfg.Cloud.Passthrough)
}

func TestLoadWithFile_InvalidValuesRejected(t *testing.T) {
	path := writeConfig(t, "sql:\n  type: oracle\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sql.type")
}

func TestLoadWithFile_WorldWritableRejected(t *testing.T) {
	path := writeConfig(t, "run:\n  backends: memory\n", 0666)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world-writable")
}

func TestLoad_UsesConfigEnv(t *testing.T) {
	path := writeConfig(t, "run:\n  backends: bolt\n", 0600)
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Run.Backends)
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STOREHARNESS_RUN_BACKENDS", "run.backends"},
		{"STOREHARNESS_RUN_EMBEDDING_DIM", "run.embedding_dim"},
		{"STOREHARNESS_SQL_POSTGRES_URL", "sql.postgres_url"},
		{"STOREHARNESS_SERVICES_QDRANT_SETTLE_DELAY", "services.qdrant.settle_delay"},
		{"STOREHARNESS_SERVICES_LAUNCHER", "services.launcher"},
		{"STOREHARNESS_TELEMETRY_SAMPLE_RATE", "telemetry.sample_rate"},
		{"STOREHARNESS_VERBOSE", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}
