package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Database.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.Database.AcquireTimeout)

	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, "cosine", cfg.Embedding.Distance)

	assert.Equal(t, 8, cfg.Tagging.MaxTags)
	assert.Equal(t, 5, cfg.Tagging.MaxDepth)

	assert.Equal(t, "auto", cfg.JobBackend.Selector)

	assert.Equal(t, 128000, cfg.WorkingMemory.DefaultMaxTokens)

	assert.Equal(t, "sunday", cfg.Retrieval.WeekStart)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.InDelta(t, 0.3, cfg.Retrieval.TagBoostAlpha, 1e-9)

	assert.Equal(t, 5, cfg.CircuitBreaker.ConsecutiveFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.OpenDuration)
	assert.Equal(t, 300*time.Second, cfg.CircuitBreaker.MaxReopenDuration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "valid config", modify: func(c *Config) {}, expectErr: false},
		{name: "empty dsn", modify: func(c *Config) { c.Database.DSN = "" }, expectErr: true},
		{name: "zero pool size", modify: func(c *Config) { c.Database.PoolSize = 0 }, expectErr: true},
		{name: "oversize embedding dimension", modify: func(c *Config) { c.Embedding.Dimension = 3000 }, expectErr: true},
		{name: "invalid distance", modify: func(c *Config) { c.Embedding.Distance = "manhattan" }, expectErr: true},
		{name: "invalid job backend", modify: func(c *Config) { c.JobBackend.Selector = "rabbitmq" }, expectErr: true},
		{name: "zero working memory budget", modify: func(c *Config) { c.WorkingMemory.DefaultMaxTokens = 0 }, expectErr: true},
		{name: "invalid week start", modify: func(c *Config) { c.Retrieval.WeekStart = "wednesday" }, expectErr: true},
		{name: "invalid logging level", modify: func(c *Config) { c.Logging.Level = "verbose" }, expectErr: true},
		{name: "invalid logging format", modify: func(c *Config) { c.Logging.Format = "xml" }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigNoFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 128000, cfg.WorkingMemory.DefaultMaxTokens)
}

func TestLoadConfigWithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
profile: test
database:
  dsn: postgres://localhost:5432/htm_test
  pool_size: 3
embedding:
  dimension: 1536
working_memory:
  default_max_tokens: 4000
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Profile)
	assert.Equal(t, "postgres://localhost:5432/htm_test", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Database.PoolSize)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 4000, cfg.WorkingMemory.DefaultMaxTokens)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	assert.NotEmpty(t, path)

	homeDir, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(homeDir, ".htm"), path)
}
