// Package app provides the top-level application lifecycle management for the
// mirror bot. It wires together all dependencies (config store, event bus,
// stations, runner, archiver, notifications, HTTP API) and runs them until the
// context is cancelled.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecelik/mirrorbot/internal/cache/redis"
	"github.com/ecelik/mirrorbot/internal/config"
)

const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	root    *slog.Logger
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		root:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the long
// running goroutines, and blocks until the context is cancelled or a fatal
// error occurs. Robots are stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("server", a.cfg.Server.Enabled),
		slog.Bool("archive", a.cfg.Archive.Enabled),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.root)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	if deps.Server != nil {
		g.Go(func() error {
			return deps.Server.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return deps.Server.Shutdown(shutCtx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	g.Go(func() error {
		return a.broadcastStats(ctx, deps)
	})

	err = g.Wait()

	if stopped := deps.Runner.StopAll(); len(stopped) > 0 {
		a.logger.Info("stopped robots on shutdown", slog.Int("count", len(stopped)))
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// broadcastStats periodically publishes every live robot's stats snapshot to
// its fingerprint-keyed channel. Publish failures are logged and skipped; the
// next tick retries.
func (a *App) broadcastStats(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Stats.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, st := range deps.Runner.Stats() {
			payload, err := json.Marshal(st)
			if err != nil {
				a.logger.Error("marshal stats", slog.String("error", err.Error()))
				continue
			}
			if err := deps.EventBus.Publish(ctx, redis.StatsChannel(st.Sha), payload); err != nil {
				a.logger.Warn("publish stats",
					slog.String("sha", shortSha(st.Sha)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
