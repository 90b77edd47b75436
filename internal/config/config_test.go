package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Postgres.Host = ""
	cfg.Redis.Addr = ""
	cfg.Robot.SellFeeFactor = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "sell_fee_factor")
}

func TestDSNSkipsHostValidation(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://user:pw@db:5432/mirrorbot"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	require.NoError(t, cfg.Validate())
}

func TestArchiveRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestZeroIntervalsAreRejected(t *testing.T) {
	cfg := Defaults()
	cfg.Stats.Interval.Duration = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stats: interval")

	cfg = Defaults()
	cfg.Archive.Enabled = true
	cfg.Archive.Interval.Duration = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: interval")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRROR_REDIS_ADDR", "redis:6380")
	t.Setenv("MIRROR_SERVER_PORT", "9999")
	t.Setenv("MIRROR_ARCHIVE_ENABLED", "true")
	t.Setenv("MIRROR_STATS_INTERVAL", "30s")
	t.Setenv("MIRROR_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MIRROR_ROBOT_SELL_FEE_FACTOR", "0.998")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Stats.Interval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0.998, cfg.Robot.SellFeeFactor)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Binance.ApiSecret = "s3cret"
	cfg.Postgres.Password = "pw"
	cfg.Notify.TelegramToken = "tok"
	cfg.Server.ApiKey = "key"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Binance.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Server.ApiKey)

	// The original is untouched.
	assert.Equal(t, "s3cret", cfg.Binance.ApiSecret)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("5m")))
	assert.Equal(t, 5*time.Minute, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", string(text))
}
