package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("AVAILABLE_MODELS", "")
	t.Setenv("ADMIN_IDS", "")
	t.Setenv("PROVIDER_ATTEMPTS", "")

	cfg := Load()

	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, "gpt-4o", cfg.DefaultModel)
	assert.Equal(t, 3, cfg.ProviderAttempts)
	assert.Equal(t, 4096, cfg.MaxMessageLength)
	assert.Equal(t, 24*time.Hour, cfg.ModeStateTTL)
	require.Len(t, cfg.AvailableModels, 8)
	assert.Equal(t, CatalogEntry{Name: "gpt-4", Provider: "openrouter"}, cfg.AvailableModels[0])
	assert.Empty(t, cfg.AdminIDs)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "")
	t.Setenv("AVAILABLE_MODELS", "llama3:ollama, deepseek-r1")
	t.Setenv("ADMIN_IDS", "12, x, 34")
	t.Setenv("MODE_STATE_TTL", "30m")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "chat_history.db", cfg.DBDSN)
	assert.Equal(t, []CatalogEntry{
		{Name: "llama3", Provider: "ollama"},
		{Name: "deepseek-r1", Provider: "openrouter"},
	}, cfg.AvailableModels)
	assert.Equal(t, []int64{12, 34}, cfg.AdminIDs)
	assert.Equal(t, 30*time.Minute, cfg.ModeStateTTL)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
	assert.True(t, cfg.IsAdmin(34))
	assert.False(t, cfg.IsAdmin(35))
}
