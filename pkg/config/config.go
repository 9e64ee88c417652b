// Package config loads and validates the htm service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete service configuration.
type Config struct {
	Profile        string               `mapstructure:"profile"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Embedding      EmbeddingConfig      `mapstructure:"embedding"`
	Tagging        TaggingConfig        `mapstructure:"tagging"`
	JobBackend     JobBackendConfig     `mapstructure:"job_backend"`
	WorkingMemory  WorkingMemoryConfig  `mapstructure:"working_memory"`
	Chunking       ChunkingConfig       `mapstructure:"chunking"`
	Retrieval      RetrievalConfig      `mapstructure:"retrieval"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Group          GroupConfig          `mapstructure:"group"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	DSN            string        `mapstructure:"dsn"`
	PoolSize       int           `mapstructure:"pool_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

// EmbeddingConfig holds embedding-provider configuration.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	Distance  string `mapstructure:"distance"` // cosine output is L2-normalized per spec
}

// TaggingConfig holds tag-extraction provider configuration.
type TaggingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	MaxTags  int    `mapstructure:"max_tags"`
	MaxDepth int    `mapstructure:"max_depth"`
}

// JobBackendConfig selects and sizes the asynchronous enrichment backend.
type JobBackendConfig struct {
	Selector string `mapstructure:"selector"` // inline | pool | queue_a | queue_b | auto
	PoolSize int    `mapstructure:"pool_size"`
}

// WorkingMemoryConfig holds the default per-robot token budget.
type WorkingMemoryConfig struct {
	DefaultMaxTokens int `mapstructure:"default_max_tokens"`
}

// ChunkingConfig holds chunk size/overlap used by the (out-of-scope) file
// loader collaborator; carried here only so its config keys resolve.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// RetrievalConfig holds retrieval-engine tunables.
type RetrievalConfig struct {
	WeekStart     string  `mapstructure:"week_start"` // sunday | monday
	RRFK          int     `mapstructure:"rrf_k"`
	TagBoostAlpha float64 `mapstructure:"tag_boost_alpha"`
}

// CircuitBreakerConfig holds the per-upstream breaker tunables.
type CircuitBreakerConfig struct {
	ConsecutiveFailureThreshold int           `mapstructure:"consecutive_failure_threshold"`
	FailureRatioThreshold       float64       `mapstructure:"failure_ratio_threshold"`
	MinRequestsForRatio         int           `mapstructure:"min_requests_for_ratio"`
	OpenDuration                time.Duration `mapstructure:"open_duration"`
	MaxReopenDuration           time.Duration `mapstructure:"max_reopen_duration"`
}

// GroupConfig holds robot-group channel tunables.
type GroupConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DefaultConfig returns configuration with htm's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Profile: "default",
		Database: DatabaseConfig{
			DSN:            "postgres://localhost:5432/htm?sslmode=disable",
			PoolSize:       5,
			AcquireTimeout: 5 * time.Second,
			QueryTimeout:   5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Dimension: 768,
			Distance:  "cosine",
		},
		Tagging: TaggingConfig{
			Provider: "ollama",
			Model:    "qwen2.5:3b",
			MaxTags:  8,
			MaxDepth: 5,
		},
		JobBackend: JobBackendConfig{
			Selector: "auto",
			PoolSize: 8,
		},
		WorkingMemory: WorkingMemoryConfig{
			DefaultMaxTokens: 128000,
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 100,
		},
		Retrieval: RetrievalConfig{
			WeekStart:     "sunday",
			RRFK:          60,
			TagBoostAlpha: 0.3,
		},
		CircuitBreaker: CircuitBreakerConfig{
			ConsecutiveFailureThreshold: 5,
			FailureRatioThreshold:       0.5,
			MinRequestsForRatio:         10,
			OpenDuration:                30 * time.Second,
			MaxReopenDuration:           300 * time.Second,
		},
		Group: GroupConfig{
			ReconcileInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load loads configuration from YAML file with fallback to defaults.
// Searches, in order: ./config.yaml, ~/.htm/config.yaml, /etc/htm/config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".htm"))
	v.AddConfigPath("/etc/htm")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("profile", d.Profile)

	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.pool_size", d.Database.PoolSize)
	v.SetDefault("database.acquire_timeout", d.Database.AcquireTimeout)
	v.SetDefault("database.query_timeout", d.Database.QueryTimeout)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.distance", d.Embedding.Distance)

	v.SetDefault("tagging.provider", d.Tagging.Provider)
	v.SetDefault("tagging.model", d.Tagging.Model)
	v.SetDefault("tagging.max_tags", d.Tagging.MaxTags)
	v.SetDefault("tagging.max_depth", d.Tagging.MaxDepth)

	v.SetDefault("job_backend.selector", d.JobBackend.Selector)
	v.SetDefault("job_backend.pool_size", d.JobBackend.PoolSize)

	v.SetDefault("working_memory.default_max_tokens", d.WorkingMemory.DefaultMaxTokens)

	v.SetDefault("chunking.size", d.Chunking.Size)
	v.SetDefault("chunking.overlap", d.Chunking.Overlap)

	v.SetDefault("retrieval.week_start", d.Retrieval.WeekStart)
	v.SetDefault("retrieval.rrf_k", d.Retrieval.RRFK)
	v.SetDefault("retrieval.tag_boost_alpha", d.Retrieval.TagBoostAlpha)

	v.SetDefault("circuit_breaker.consecutive_failure_threshold", d.CircuitBreaker.ConsecutiveFailureThreshold)
	v.SetDefault("circuit_breaker.failure_ratio_threshold", d.CircuitBreaker.FailureRatioThreshold)
	v.SetDefault("circuit_breaker.min_requests_for_ratio", d.CircuitBreaker.MinRequestsForRatio)
	v.SetDefault("circuit_breaker.open_duration", d.CircuitBreaker.OpenDuration)
	v.SetDefault("circuit_breaker.max_reopen_duration", d.CircuitBreaker.MaxReopenDuration)

	v.SetDefault("group.reconcile_interval", d.Group.ReconcileInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.PoolSize < 1 {
		return fmt.Errorf("database.pool_size must be >= 1")
	}

	if c.Embedding.Dimension < 1 || c.Embedding.Dimension > 2000 {
		return fmt.Errorf("embedding.dimension must be between 1 and 2000")
	}
	validDistances := map[string]bool{"cosine": true, "l2": true, "inner_product": true}
	if !validDistances[c.Embedding.Distance] {
		return fmt.Errorf("embedding.distance must be one of: cosine, l2, inner_product")
	}

	if c.Tagging.MaxTags < 1 {
		return fmt.Errorf("tagging.max_tags must be >= 1")
	}
	if c.Tagging.MaxDepth < 1 {
		return fmt.Errorf("tagging.max_depth must be >= 1")
	}

	validBackends := map[string]bool{"inline": true, "pool": true, "queue_a": true, "queue_b": true, "auto": true}
	if !validBackends[c.JobBackend.Selector] {
		return fmt.Errorf("job_backend.selector must be one of: inline, pool, queue_a, queue_b, auto")
	}

	if c.WorkingMemory.DefaultMaxTokens < 1 {
		return fmt.Errorf("working_memory.default_max_tokens must be >= 1")
	}

	if c.Retrieval.WeekStart != "sunday" && c.Retrieval.WeekStart != "monday" {
		return fmt.Errorf("retrieval.week_start must be 'sunday' or 'monday'")
	}
	if c.Retrieval.RRFK < 1 {
		return fmt.Errorf("retrieval.rrf_k must be >= 1")
	}

	if c.Group.ReconcileInterval < time.Second {
		return fmt.Errorf("group.reconcile_interval must be >= 1s")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	return nil
}

// ConfigPath returns the path to the configuration directory.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".htm")
}
