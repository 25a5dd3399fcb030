// Package config loads the fabric's configuration knobs. spf13/viper binds
// environment variables and an optional YAML file into a
// mapstructure-tagged struct, then go-playground/validator/v10 validates it
// at startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration for one fabric instance.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	JobStore JobStoreConfig `mapstructure:"jobstore"`
}

// LogConfig mirrors pkg/logger.Config, mapstructure-tagged for viper binding.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	Output     string `mapstructure:"output" validate:"omitempty,oneof=stdout stderr file"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig mirrors internal/cache.Policy's enumerated knobs.
type CacheConfig struct {
	MaxBytes           int64             `mapstructure:"max_bytes" validate:"omitempty,min=0"`
	MaxItems           int               `mapstructure:"max_items" validate:"required,min=1"`
	DefaultTTL         time.Duration     `mapstructure:"default_ttl" validate:"required"`
	EvictionStrategy   string            `mapstructure:"eviction_strategy" validate:"required,oneof=lru lfu fifo"`
	AutoRefreshEnabled bool              `mapstructure:"auto_refresh_enabled"`
	RefreshThreshold   float64           `mapstructure:"refresh_threshold" validate:"gt=0,lt=1"`
	PerPluginLimits    map[string]int    `mapstructure:"per_plugin_limits"`
	PerOperationTTL    map[string]string `mapstructure:"per_operation_ttl"`
	CacheDir           string            `mapstructure:"cache_dir"`
	PersistCache       bool              `mapstructure:"persist_cache"`
}

// BatchConfig mirrors internal/batch.Config's enumerated knobs.
type BatchConfig struct {
	MaxConcurrentJobs       int           `mapstructure:"max_concurrent_jobs" validate:"required,min=1"`
	MaxOperationConcurrency int           `mapstructure:"max_operation_concurrency" validate:"required,min=1"`
	DefaultTimeout          time.Duration `mapstructure:"default_timeout" validate:"required"`
	DefaultMaxRetries       int           `mapstructure:"default_max_retries" validate:"min=0"`
	DefaultRetryDelay       time.Duration `mapstructure:"default_retry_delay"`
}

// PollingConfig mirrors internal/polling.Config's enumerated knobs.
type PollingConfig struct {
	MinInterval       time.Duration `mapstructure:"min_interval" validate:"required"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" validate:"required,min=1"`
}

// WebhookConfig mirrors internal/webhook.Config's enumerated knobs.
type WebhookConfig struct {
	Host               string            `mapstructure:"host" validate:"required"`
	Port               int               `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL            string            `mapstructure:"base_url"`
	VerificationTokens map[string]string `mapstructure:"verification_tokens"`
}

// JobStoreConfig configures the optional SQLite job-history archive.
type JobStoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// DefaultConfig returns the enumerated defaults for every subsystem.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json", Output: "stdout"},
		Cache: CacheConfig{
			MaxItems:         10_000,
			DefaultTTL:       3600 * time.Second,
			EvictionStrategy: "lru",
			RefreshThreshold: 0.8,
			CacheDir:         "./data/cache",
			PersistCache:     true,
		},
		Batch: BatchConfig{
			MaxConcurrentJobs:       5,
			MaxOperationConcurrency: 10,
			DefaultTimeout:          3600 * time.Second,
			DefaultMaxRetries:       3,
			DefaultRetryDelay:       5 * time.Second,
		},
		Polling: PollingConfig{
			MinInterval:       60 * time.Second,
			MaxConcurrentJobs: 10,
		},
		Webhook: WebhookConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		JobStore: JobStoreConfig{
			Enabled: false,
			DSN:     "file:./data/jobs.db",
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)

	v.SetDefault("cache.max_items", cfg.Cache.MaxItems)
	v.SetDefault("cache.default_ttl", cfg.Cache.DefaultTTL)
	v.SetDefault("cache.eviction_strategy", cfg.Cache.EvictionStrategy)
	v.SetDefault("cache.refresh_threshold", cfg.Cache.RefreshThreshold)
	v.SetDefault("cache.cache_dir", cfg.Cache.CacheDir)
	v.SetDefault("cache.persist_cache", cfg.Cache.PersistCache)

	v.SetDefault("batch.max_concurrent_jobs", cfg.Batch.MaxConcurrentJobs)
	v.SetDefault("batch.max_operation_concurrency", cfg.Batch.MaxOperationConcurrency)
	v.SetDefault("batch.default_timeout", cfg.Batch.DefaultTimeout)
	v.SetDefault("batch.default_max_retries", cfg.Batch.DefaultMaxRetries)
	v.SetDefault("batch.default_retry_delay", cfg.Batch.DefaultRetryDelay)

	v.SetDefault("polling.min_interval", cfg.Polling.MinInterval)
	v.SetDefault("polling.max_concurrent_jobs", cfg.Polling.MaxConcurrentJobs)

	v.SetDefault("webhook.host", cfg.Webhook.Host)
	v.SetDefault("webhook.port", cfg.Webhook.Port)

	v.SetDefault("jobstore.enabled", cfg.JobStore.Enabled)
	v.SetDefault("jobstore.dsn", cfg.JobStore.DSN)
}

// Load reads configuration from an optional YAML file at path plus
// environment variables (APIFABRIC_SECTION_KEY, with dots replaced by
// underscores), layered over DefaultConfig, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APIFABRIC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate runs struct-tag validation over the whole configuration tree.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}
