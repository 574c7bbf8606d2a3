package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"anthropic"}, cfg.LLM.Providers)
	assert.Equal(t, 2, cfg.LLM.Attempts)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 100, cfg.Cache.Size)
	assert.True(t, cfg.Access.FailOpen)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
llm:
  providers: [gemini]
  timeout: 30s
billing:
  prices:
    essential_monthly: price_123
`), 0o600))

	t.Setenv("PORT", "7000")
	t.Setenv("LLM_PROVIDER", "anthropic, gemini")
	t.Setenv("CORS_ORIGINS", "https://a.test,https://b.test")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, []string{"anthropic", "gemini"}, cfg.LLM.Providers)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "price_123", cfg.Billing.Prices["essential_monthly"])
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 1000, cfg.Usage.BufferSize, "untouched defaults survive")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	_, err := Load("")
	assert.ErrorContains(t, err, `unknown llm provider "openai"`)

	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("REDIS_DB", "x")
	_, err = Load("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))
	t.Setenv("REDIS_DB", "")
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate_MemoryTTLCoversDailyWindow(t *testing.T) {
	cfg := Default()
	cfg.Access.MemoryTTL = 2 * time.Hour
	assert.ErrorContains(t, cfg.Validate(), "access.memoryTTL")

	cfg.Access.MemoryTTL = 24 * time.Hour
	assert.NoError(t, cfg.Validate())

	cfg.Access.MemoryTTL = 0
	assert.NoError(t, cfg.Validate())
}
