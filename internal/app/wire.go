package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/ecelik/mirrorbot/internal/blob/s3"
	"github.com/ecelik/mirrorbot/internal/cache/redis"
	"github.com/ecelik/mirrorbot/internal/config"
	"github.com/ecelik/mirrorbot/internal/domain"
	"github.com/ecelik/mirrorbot/internal/notify"
	"github.com/ecelik/mirrorbot/internal/robot"
	"github.com/ecelik/mirrorbot/internal/runner"
	"github.com/ecelik/mirrorbot/internal/server"
	"github.com/ecelik/mirrorbot/internal/server/handler"
	"github.com/ecelik/mirrorbot/internal/station"
	"github.com/ecelik/mirrorbot/internal/store/postgres"
)

// Dependencies bundles everything the application needs to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	ConfigStore domain.ConfigStore
	EventBus    *redis.EventBus
	Notifier    *notify.Notifier
	Stations    *station.Registry
	Runner      *runner.Runner

	// Archiver is nil unless archiving is enabled; Server is nil unless
	// the HTTP API is enabled.
	Archiver *s3blob.Archiver
	Server   *server.Server
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.ConfigStore = postgres.NewConfigStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.EventBus = redis.NewEventBus(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, deps.EventBus, redis.EventsChannel, cfg.Notify.Events, logger)

	// --- Stations and runner ---
	deps.Stations = station.NewRegistry(station.Config{
		StaleAfter:      cfg.Stations.StaleAfter.Duration,
		RestartDelay:    cfg.Stations.RestartDelay.Duration,
		MaxRestartDelay: cfg.Stations.MaxRestartDelay.Duration,
	}, logger)
	deps.Stations.OnError = stationErrorHook(deps.Notifier)
	closers = append(closers, deps.Stations.Close)

	deps.Runner = runner.New(runner.Config{
		RestartDelay:    cfg.Runner.RestartDelay.Duration,
		MaxRestartDelay: cfg.Runner.MaxRestartDelay.Duration,
	}, deps.Notifier, logger)
	deps.Runner.Register(domain.DefaultStrategy, newRobotFactory(cfg, deps.Stations, deps.Notifier, logger))
	closers = append(closers, deps.Runner.Close)

	// --- S3 order-log archiving ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Runner,
			cfg.Archive.Interval.Duration,
			logger,
		)
	}

	// --- HTTP control plane ---
	if cfg.Server.Enabled {
		deps.Server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.ApiKey,
		}, server.Handlers{
			Health:  handler.NewHealthHandler(logger),
			Configs: handler.NewConfigHandler(deps.ConfigStore, logger),
			Robots:  handler.NewRobotHandler(deps.ConfigStore, deps.Runner, logger),
		}, logger)
	}

	return deps, cleanup, nil
}

// stationErrorHook turns publisher failures into error notifications on the
// station's key channel. The registry calls it from the supervise loop, so the
// dispatch runs detached.
func stationErrorHook(notifier robot.Notifier) func(station.Key, error) {
	return func(key station.Key, err error) {
		go notifier.Event(context.Background(), key.String(), domain.Event{
			Error:   true,
			Message: fmt.Sprintf("station %s: %v", key, err),
		})
	}
}
