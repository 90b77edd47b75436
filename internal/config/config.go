// Package config defines the top-level configuration for the mirror bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MIRROR_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	BTCTurk  BTCTurkConfig  `toml:"btcturk"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Stations StationsConfig `toml:"stations"`
	Stream   StreamConfig   `toml:"stream"`
	Gate     GateConfig     `toml:"gate"`
	Runner   RunnerConfig   `toml:"runner"`
	Robot    RobotConfig    `toml:"robot"`
	Archive  ArchiveConfig  `toml:"archive"`
	Stats    StatsConfig    `toml:"stats"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds Binance API credentials.
type BinanceConfig struct {
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// BTCTurkConfig holds BTCTurk API credentials and endpoints.
type BTCTurkConfig struct {
	BaseURL   string `toml:"base_url"`
	WSURL     string `toml:"ws_url"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// StationsConfig tunes the shared market-data stations.
type StationsConfig struct {
	StaleAfter      duration `toml:"stale_after"`
	RestartDelay    duration `toml:"restart_delay"`
	MaxRestartDelay duration `toml:"max_restart_delay"`
}

// StreamConfig tunes the resilient stream redial policy.
type StreamConfig struct {
	RedialDelay    duration `toml:"redial_delay"`
	MaxRedialDelay duration `toml:"max_redial_delay"`
}

// GateConfig tunes the order execution gate.
type GateConfig struct {
	SubmitTimeout duration `toml:"submit_timeout"`
	MinInterOrder duration `toml:"min_inter_order"`
	CancelTimeout duration `toml:"cancel_timeout"`
	CancelPacing  duration `toml:"cancel_pacing"`
}

// RunnerConfig tunes robot restart supervision.
type RunnerConfig struct {
	RestartDelay    duration `toml:"restart_delay"`
	MaxRestartDelay duration `toml:"max_restart_delay"`
}

// RobotConfig holds robot defaults that are not part of the per-strategy
// fingerprinted config.
type RobotConfig struct {
	StartTimeout       duration `toml:"start_timeout"`
	SellFeeFactor      float64  `toml:"sell_fee_factor"`
	MaxOrdersPerWindow int64    `toml:"max_orders_per_window"`
	OrderLogLimit      int      `toml:"order_log_limit"`
}

// ArchiveConfig tunes the order-log archiver.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// StatsConfig tunes the periodic stats broadcaster.
type StatsConfig struct {
	Interval duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		BTCTurk: BTCTurkConfig{
			BaseURL: "https://api.btcturk.com",
			WSURL:   "wss://ws-feed-pro.btcturk.com",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mirrorbot",
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
			Bucket:         "mirrorbot-data",
			ForcePathStyle: true,
		},
		Stations: StationsConfig{
			StaleAfter:      duration{10 * time.Second},
			RestartDelay:    duration{time.Second},
			MaxRestartDelay: duration{time.Minute},
		},
		Stream: StreamConfig{
			RedialDelay:    duration{250 * time.Millisecond},
			MaxRedialDelay: duration{30 * time.Second},
		},
		Gate: GateConfig{
			SubmitTimeout: duration{5 * time.Second},
			MinInterOrder: duration{200 * time.Millisecond},
			CancelTimeout: duration{5 * time.Second},
			CancelPacing:  duration{100 * time.Millisecond},
		},
		Runner: RunnerConfig{
			RestartDelay:    duration{time.Second},
			MaxRestartDelay: duration{time.Minute},
		},
		Robot: RobotConfig{
			StartTimeout:       duration{15 * time.Second},
			SellFeeFactor:      0.999,
			MaxOrdersPerWindow: 8,
			OrderLogLimit:      1000,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{time.Minute},
		},
		Stats: StatsConfig{
			Interval: duration{5 * time.Second},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. It collects
// every violation rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archiving is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive when archive is enabled")
		}
	}

	// Tickers fed straight from these intervals panic on zero.
	if c.Stats.Interval.Duration <= 0 {
		errs = append(errs, "stats: interval must be positive")
	}

	// Robot defaults
	if c.Robot.SellFeeFactor <= 0 || c.Robot.SellFeeFactor > 1 {
		errs = append(errs, fmt.Sprintf("robot: sell_fee_factor must be in (0, 1], got %v", c.Robot.SellFeeFactor))
	}
	if c.Robot.MaxOrdersPerWindow < 1 {
		errs = append(errs, "robot: max_orders_per_window must be >= 1")
	}
	if c.Robot.OrderLogLimit < 1 {
		errs = append(errs, "robot: order_log_limit must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
