package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/affixlabs/affix/queue"
	"github.com/affixlabs/affix/remote"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "affix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimal = `
storages:
  cache:
    type: memory
  store:
    type: memory
`

func TestLoad(t *testing.T) {
	t.Run("defaults fill in around the file", func(t *testing.T) {
		require := require.New(t)

		cfg, err := Load(writeConfig(t, minimal))
		require.NoError(err)
		require.Equal(":8080", cfg.Server.Addr)
		require.EqualValues(32<<20, cfg.Server.MaxUploadSize)
		require.EqualValues(remote.DefaultMaxSize, cfg.Server.RemoteMaxSize)
		require.Equal(30*time.Second, cfg.Server.ShutdownTimeout)
		require.Equal("info", cfg.Logging.Level)
		require.Equal("text", cfg.Logging.Format)
		require.Equal("database", cfg.Queue.Type)
		require.Equal("cache", cfg.Cache)
		require.Equal("store", cfg.Store)
	})

	t.Run("the file wins over defaults", func(t *testing.T) {
		require := require.New(t)

		cfg, err := Load(writeConfig(t, minimal+`
logging:
  level: DEBUG
server:
  addr: ":9000"
  shutdown_timeout: 5s
`))
		require.NoError(err)
		require.Equal("debug", cfg.Logging.Level, "levels are normalized to lowercase")
		require.Equal(":9000", cfg.Server.Addr)
		require.Equal(5*time.Second, cfg.Server.ShutdownTimeout)
	})

	t.Run("environment variables win over the file", func(t *testing.T) {
		require := require.New(t)
		t.Setenv("AFFIX_SERVER_ADDR", ":9999")

		cfg, err := Load(writeConfig(t, minimal+`
server:
  addr: ":9000"
`))
		require.NoError(err)
		require.Equal(":9999", cfg.Server.Addr)
	})

	t.Run("a configuration without storages is rejected", func(t *testing.T) {
		require := require.New(t)

		_, err := Load(writeConfig(t, "logging:\n  level: info\n"))
		require.ErrorContains(err, "at least one storage")
	})

	t.Run("tier names must reference configured storages", func(t *testing.T) {
		require := require.New(t)

		_, err := Load(writeConfig(t, `
storages:
  blob:
    type: memory
store: blob
`))
		require.ErrorContains(err, `cache storage "cache" is not configured`)
	})

	t.Run("an unknown storage type is rejected", func(t *testing.T) {
		require := require.New(t)

		_, err := Load(writeConfig(t, `
storages:
  cache:
    type: ftp
  store:
    type: memory
`))
		require.ErrorContains(err, "oneof")
	})
}

func TestBuildRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("every configured storage is constructed", func(t *testing.T) {
		require := require.New(t)

		cfg := &Config{
			Storages: map[string]StorageConfig{
				"cache": {Type: "fs", FS: map[string]any{"dir": t.TempDir()}},
				"store": {Type: "memory"},
			},
		}
		registry, err := BuildRegistry(ctx, cfg)
		require.NoError(err)
		for _, name := range []string{"cache", "store"} {
			_, err := registry.Lookup(name)
			require.NoError(err)
		}
	})

	t.Run("a broken storage reports its name", func(t *testing.T) {
		require := require.New(t)

		cfg := &Config{
			Storages: map[string]StorageConfig{
				"cache": {Type: "fs"},
			},
		}
		_, err := BuildRegistry(ctx, cfg)
		require.ErrorContains(err, `storage "cache"`)
		require.ErrorContains(err, "dir is required")
	})
}

func TestBuildQueue(t *testing.T) {
	t.Run("the database transport rides the shared handle", func(t *testing.T) {
		require := require.New(t)

		q, err := BuildQueue(&QueueConfig{Type: "database"}, nil)
		require.NoError(err)
		require.IsType(&queue.Database{}, q)
	})

	t.Run("redis requires an address", func(t *testing.T) {
		require := require.New(t)

		_, err := BuildQueue(&QueueConfig{Type: "redis"}, nil)
		require.ErrorContains(err, "addr is required")
	})

	t.Run("redis builds from its options", func(t *testing.T) {
		require := require.New(t)

		q, err := BuildQueue(&QueueConfig{
			Type:  "redis",
			Redis: map[string]any{"addr": "localhost:6379"},
		}, nil)
		require.NoError(err)
		require.IsType(&queue.Redis{}, q)
	})
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("the configured level holds", func(t *testing.T) {
		require := require.New(t)

		logger := NewLogger(&LoggingConfig{Level: "warn", Format: "text"}, false)
		require.False(logger.Enabled(ctx, slog.LevelDebug))
		require.True(logger.Enabled(ctx, slog.LevelWarn))
	})

	t.Run("debug overrides the configured level", func(t *testing.T) {
		require := require.New(t)

		logger := NewLogger(&LoggingConfig{Level: "warn", Format: "json"}, true)
		require.True(logger.Enabled(ctx, slog.LevelDebug))
	})
}
