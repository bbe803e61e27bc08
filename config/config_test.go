package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{FileEnv, "API_ADDR", "STORAGE_BACKEND", "DATABASE_DRIVER", "DATABASE_URL",
		"STORAGE_CONNECTION_STRING", "BOARD_EVENTS_QUEUE", "REDIS_CONNECTION_STRING", "BOARD_CACHE_TTL",
		"DEDUPER_TTL", "TASK_DEBOUNCE", "LIST_DEBOUNCE", "WRITE_TIMEOUT", "POLL_INTERVAL",
		"PUBLISH_WORKERS", "PUBLISH_BUFFER", "DEBUG", "PRISM_BOARD_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 300*time.Millisecond, cfg.TaskDebounce)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
databaseDriver: pgx
databaseUrl: postgres://localhost/board
taskDebounce: 150ms
publishWorkers: 8
`), 0o600))

	t.Setenv(FileEnv, path)
	t.Setenv("PUBLISH_WORKERS", "2")
	t.Setenv("WRITE_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, 150*time.Millisecond, cfg.TaskDebounce)
	assert.Equal(t, 300*time.Millisecond, cfg.ListDebounce)
	assert.Equal(t, 2, cfg.PublishWorkers)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TASK_DEBOUNCE", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASK_DEBOUNCE")

	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", BackendTable)
	_, err = Load("")
	require.ErrorContains(t, err, "missing storage config")

	clearEnv(t)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("redis://:secret@localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = RedisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	require.NoError(t, err)
	assert.Equal(t, "cache.example.net:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.NotNil(t, opts.TLSConfig)

	_, err = RedisOptions("")
	require.Error(t, err)
}
