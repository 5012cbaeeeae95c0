// Package config defines the top-level configuration for the market
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by MARKETD_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Market   MarketConfig   `toml:"market"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// ServiceKeyHash is the bcrypt hash of the shared key the identity
	// proxy presents on every request. Empty disables the check (dev).
	ServiceKeyHash string `toml:"service_key_hash"`

	// AdminUserIDs lists the user ids granted admin endpoints.
	AdminUserIDs []string `toml:"admin_user_ids"`

	// RateLimitPerMin caps API requests per client IP per minute. Zero
	// disables the limiter middleware.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// MarketConfig holds the engine's economic parameters.
type MarketConfig struct {
	// DefaultLiquidityB is the LMSR liquidity parameter assigned to new
	// markets. Higher values flatten the price response.
	DefaultLiquidityB float64 `toml:"default_liquidity_b"`

	// StartingBalanceCents is granted to every account on first sight.
	StartingBalanceCents int64 `toml:"starting_balance_cents"`

	// CreatesPerDay caps market submissions per user per day.
	CreatesPerDay int `toml:"creates_per_day"`

	// SweepInterval is how often the close sweeper runs.
	SweepInterval duration `toml:"sweep_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the
// settlement archive. An empty bucket disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Kinds             []string `toml:"kinds"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 300,
		},
		Market: MarketConfig{
			DefaultLiquidityB:    100,
			StartingBalanceCents: 100_000,
			CreatesPerDay:        2,
			SweepInterval:        duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Kinds: []string{"review", "settlement", "error"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, "server: rate_limit_per_min must be >= 0")
	}

	if c.Market.DefaultLiquidityB <= 0 {
		errs = append(errs, "market: default_liquidity_b must be > 0")
	}
	if c.Market.StartingBalanceCents <= 0 {
		errs = append(errs, "market: starting_balance_cents must be > 0")
	}
	if c.Market.CreatesPerDay < 1 {
		errs = append(errs, "market: creates_per_day must be >= 1")
	}
	if c.Market.SweepInterval.Duration <= 0 {
		errs = append(errs, "market: sweep_interval must be > 0")
	}

	// An empty DSN means the engine runs on in-memory backends; the
	// remaining Postgres fields only matter when a host is configured.
	if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host != "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when a bucket is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
