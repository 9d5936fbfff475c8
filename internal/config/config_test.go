package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("CACHE_REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.True(t, cfg.Cache.Redis.Enabled)
	assert.Equal(t, StrategyIncremental, cfg.Sync.AggregateStrategy)
	assert.Equal(t, 3, cfg.GPTLoad.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.GPTLoad.Retry.InitialInterval)
	assert.Equal(t, 10*time.Second, cfg.GPTLoad.Retry.MaxInterval)
	assert.Equal(t, 30*time.Second, cfg.GPTLoad.Timeout)
	assert.Equal(t, 10, cfg.Sync.UpstreamWeight)
}

func TestLoadConfig_FileAndSecretResolution(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TEST_GPTLOAD_KEY", "sk-admin-12345")

	configContent := `
gptload:
  url: "http://gptload.internal:3001/"
  auth_key: "ENV:TEST_GPTLOAD_KEY"
sync:
  aggregate_strategy: recreate
server:
  api_keys: ["sk-one", "sk-two"]
`
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://gptload.internal:3001", cfg.GPTLoad.URL)
	assert.Equal(t, "sk-admin-12345", cfg.GPTLoad.AuthKey)
	assert.Equal(t, StrategyRecreate, cfg.Sync.AggregateStrategy)
	assert.Equal(t, []string{"sk-one", "sk-two"}, cfg.Server.APIKeys)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GPTLoad: GPTLoadConfig{URL: "http://localhost:3001", Retry: RetryConfig{MaxAttempts: 3}},
			Sync:    SyncConfig{AggregateStrategy: StrategyIncremental},
		}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.Sync.AggregateStrategy = "sometimes"
	assert.ErrorContains(t, c.Validate(), "aggregate_strategy")

	c = valid()
	c.GPTLoad.URL = ""
	assert.ErrorContains(t, c.Validate(), "gptload.url")

	c = valid()
	c.GPTLoad.URL = "ftp://nope"
	assert.ErrorContains(t, c.Validate(), "http(s)")

	c = valid()
	c.GPTLoad.Retry.MaxAttempts = 0
	assert.Error(t, c.Validate())
}
