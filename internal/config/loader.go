package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MIRROR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.ApiKey, "MIRROR_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "MIRROR_BINANCE_API_SECRET")

	// ── BTCTurk ──
	setStr(&cfg.BTCTurk.BaseURL, "MIRROR_BTCTURK_BASE_URL")
	setStr(&cfg.BTCTurk.WSURL, "MIRROR_BTCTURK_WS_URL")
	setStr(&cfg.BTCTurk.ApiKey, "MIRROR_BTCTURK_API_KEY")
	setStr(&cfg.BTCTurk.ApiSecret, "MIRROR_BTCTURK_API_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MIRROR_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "MIRROR_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "MIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MIRROR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MIRROR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "MIRROR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MIRROR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MIRROR_S3_FORCE_PATH_STYLE")

	// ── Stations ──
	setDuration(&cfg.Stations.StaleAfter, "MIRROR_STATIONS_STALE_AFTER")
	setDuration(&cfg.Stations.RestartDelay, "MIRROR_STATIONS_RESTART_DELAY")
	setDuration(&cfg.Stations.MaxRestartDelay, "MIRROR_STATIONS_MAX_RESTART_DELAY")

	// ── Stream ──
	setDuration(&cfg.Stream.RedialDelay, "MIRROR_STREAM_REDIAL_DELAY")
	setDuration(&cfg.Stream.MaxRedialDelay, "MIRROR_STREAM_MAX_REDIAL_DELAY")

	// ── Gate ──
	setDuration(&cfg.Gate.SubmitTimeout, "MIRROR_GATE_SUBMIT_TIMEOUT")
	setDuration(&cfg.Gate.MinInterOrder, "MIRROR_GATE_MIN_INTER_ORDER")
	setDuration(&cfg.Gate.CancelTimeout, "MIRROR_GATE_CANCEL_TIMEOUT")
	setDuration(&cfg.Gate.CancelPacing, "MIRROR_GATE_CANCEL_PACING")

	// ── Runner ──
	setDuration(&cfg.Runner.RestartDelay, "MIRROR_RUNNER_RESTART_DELAY")
	setDuration(&cfg.Runner.MaxRestartDelay, "MIRROR_RUNNER_MAX_RESTART_DELAY")

	// ── Robot ──
	setDuration(&cfg.Robot.StartTimeout, "MIRROR_ROBOT_START_TIMEOUT")
	setFloat64(&cfg.Robot.SellFeeFactor, "MIRROR_ROBOT_SELL_FEE_FACTOR")
	setInt64(&cfg.Robot.MaxOrdersPerWindow, "MIRROR_ROBOT_MAX_ORDERS_PER_WINDOW")
	setInt(&cfg.Robot.OrderLogLimit, "MIRROR_ROBOT_ORDER_LOG_LIMIT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MIRROR_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "MIRROR_ARCHIVE_INTERVAL")

	// ── Stats ──
	setDuration(&cfg.Stats.Interval, "MIRROR_STATS_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MIRROR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MIRROR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MIRROR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "MIRROR_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MIRROR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MIRROR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MIRROR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MIRROR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "MIRROR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
