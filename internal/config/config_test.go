package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	loader := NewLoader(t.TempDir(), Development)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 1536, cfg.Index.Dim)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "single_active", cfg.Conversation.SessionPolicy)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ProfileTTL)
	assert.Contains(t, cfg.LoadedFrom, "defaults")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	base := `
storage:
  driver: memory
index:
  dim: 128
conversation:
  session_policy: always_new
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o644))

	cfg, err := NewLoader(dir, Development).Load()
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Index.Dim)
	assert.Equal(t, "always_new", cfg.Conversation.SessionPolicy)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Conversation.HistoryWindow)
}

func TestLoad_EnvironmentFileOverridesBase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"),
		[]byte("index:\n  dim: 64\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "production.yaml"),
		[]byte("index:\n  dim: 128\n"), 0o644))

	cfg, err := NewLoader(dir, Production).Load()
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Index.Dim)
}

func TestLoad_EnvVarsWin(t *testing.T) {
	t.Setenv("ENGRAM_INDEX_DIM", "256")
	t.Setenv("ENGRAM_LOG_LEVEL", "debug")

	cfg, err := NewLoader(t.TempDir(), Development).Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Index.Dim)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return NewLoader("", Development).defaultConfig()
	}

	t.Run("UnknownDriver", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Driver = "postgres"
		assert.Error(t, cfg.Validate())
	})

	t.Run("DynamoRequiresTable", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Driver = "dynamodb"
		cfg.Storage.TableName = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadDim", func(t *testing.T) {
		cfg := base()
		cfg.Index.Dim = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadPolicy", func(t *testing.T) {
		cfg := base()
		cfg.Conversation.SessionPolicy = "round_robin"
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		cfg := base()
		cfg.Logging.Level = "loud"
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"),
		[]byte("storage: [not a map"), 0o644))

	_, err := NewLoader(dir, Development).Load()
	require.Error(t, err)
}
