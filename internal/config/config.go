package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StrategyIncremental = "incremental"
	StrategyRecreate    = "recreate"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	GPTLoad     GPTLoadConfig     `mapstructure:"gptload"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	UpdateCheck UpdateCheckConfig `mapstructure:"update_check"`
}

type ServerConfig struct {
	Port      string          `mapstructure:"port"`
	Env       string          `mapstructure:"env"`
	APIKeys   []string        `mapstructure:"api_keys"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// GPTLoadConfig points at the gpt-load instance being reconciled.
type GPTLoadConfig struct {
	URL     string        `mapstructure:"url"`
	AuthKey string        `mapstructure:"auth_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type SyncConfig struct {
	// AggregateStrategy decides how aggregates with membership changes are applied:
	// "incremental" patches links, "recreate" deletes and rebuilds the aggregate.
	AggregateStrategy string `mapstructure:"aggregate_strategy"`
	ExportPath        string `mapstructure:"export_path"`
	UpstreamWeight    int    `mapstructure:"upstream_weight"`
	SubGroupWeight    int    `mapstructure:"sub_group_weight"`
}

type CacheConfig struct {
	Redis     RedisConfig   `mapstructure:"redis"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type UpdateCheckConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Repo    string `mapstructure:"repo"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("./internal/config")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.GPTLoad.AuthKey = resolveSecret(v, cfg.GPTLoad.AuthKey)
	cfg.GPTLoad.URL = strings.TrimRight(cfg.GPTLoad.URL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.rate_limit.requests_per_second", 5.0)
	v.SetDefault("server.rate_limit.burst", 10)

	v.SetDefault("database.dsn", "file:data/gptload_sync.db?_foreign_keys=on")

	v.SetDefault("gptload.url", "http://localhost:3001")
	v.SetDefault("gptload.auth_key", "")
	v.SetDefault("gptload.timeout", 30*time.Second)
	v.SetDefault("gptload.retry.max_attempts", 3)
	v.SetDefault("gptload.retry.initial_interval", time.Second)
	v.SetDefault("gptload.retry.max_interval", 10*time.Second)
	v.SetDefault("gptload.retry.multiplier", 2.0)

	v.SetDefault("sync.aggregate_strategy", StrategyIncremental)
	v.SetDefault("sync.export_path", "")
	v.SetDefault("sync.upstream_weight", 10)
	v.SetDefault("sync.sub_group_weight", 10)

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.status_ttl", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "gptload-sync")

	v.SetDefault("update_check.enabled", false)
	v.SetDefault("update_check.repo", "nulzo/gptload-sync")
}

// resolveSecret expands "ENV:NAME" references from the process environment, then viper.
func resolveSecret(v *viper.Viper, value string) string {
	if !strings.HasPrefix(value, "ENV:") {
		return value
	}
	envVar := strings.TrimPrefix(value, "ENV:")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v.GetString(envVar)
}

// Validate rejects configurations the sync engine cannot run with.
func (c *Config) Validate() error {
	switch c.Sync.AggregateStrategy {
	case StrategyIncremental, StrategyRecreate:
	default:
		return fmt.Errorf("invalid sync.aggregate_strategy %q: want %q or %q",
			c.Sync.AggregateStrategy, StrategyIncremental, StrategyRecreate)
	}
	if c.GPTLoad.URL == "" {
		return errors.New("gptload.url is required")
	}
	if !strings.HasPrefix(c.GPTLoad.URL, "http://") && !strings.HasPrefix(c.GPTLoad.URL, "https://") {
		return fmt.Errorf("gptload.url %q must be an http(s) URL", c.GPTLoad.URL)
	}
	if c.GPTLoad.Retry.MaxAttempts < 1 {
		return errors.New("gptload.retry.max_attempts must be at least 1")
	}
	return nil
}
