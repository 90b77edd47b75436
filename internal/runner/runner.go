// Package runner supervises one trading robot per strategy fingerprint. A
// crashed robot is rebuilt from scratch — new robot instance, new station
// subscriptions — and restarted forever with capped exponential backoff;
// only an explicit Stop or process shutdown ends a run.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ecelik/mirrorbot/internal/domain"
	"github.com/ecelik/mirrorbot/internal/robot"
)

// TradingRobot is one attempt's robot instance as the supervisor sees it.
type TradingRobot interface {
	Run(ctx context.Context) error
	Stats() domain.RobotStats
	DrainOrderLog() []domain.OrderLogEntry
}

// Factory builds a fresh robot for one supervised attempt. The returned
// release function frees everything the attempt acquired, station handles
// above all, and must be safe to call exactly once after Run returns.
type Factory func(cfg domain.StrategyConfig) (TradingRobot, func(), error)

// Config tunes the restart behaviour of supervised runs.
type Config struct {
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RestartDelay <= 0 {
		c.RestartDelay = time.Second
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = time.Minute
	}
	return c
}

// Runner owns the fingerprint → run table and the supervision goroutines.
type Runner struct {
	cfg       Config
	notifier  robot.Notifier
	logger    *slog.Logger
	factories map[string]Factory

	mu   sync.Mutex
	runs map[string]*run
}

// New builds a Runner. Strategies are registered afterwards with Register;
// notifier may be nil.
func New(cfg Config, notifier robot.Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg.withDefaults(),
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "runner")),
		factories: make(map[string]Factory),
		runs:      make(map[string]*run),
	}
}

// Register maps a strategy type name to its robot factory.
func (r *Runner) Register(strategy string, f Factory) {
	r.factories[strategy] = f
}

// run is one supervised lifecycle, from Start until Stop.
type run struct {
	sha    string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	info    domain.RobotRunInfo
	current TradingRobot
}

func (rn *run) setStatus(s domain.RunStatus) {
	rn.mu.Lock()
	rn.info.Status = s
	rn.mu.Unlock()
}

func (rn *run) setRobot(tr TradingRobot) {
	rn.mu.Lock()
	rn.current = tr
	rn.mu.Unlock()
}

func (rn *run) fail() {
	rn.mu.Lock()
	rn.info.Status = domain.RunFailed
	rn.info.Restarts++
	rn.mu.Unlock()
}

func (rn *run) snapshot() domain.RobotRunInfo {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.info
}

func (rn *run) robot() TradingRobot {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.current
}

// Start launches a supervised run for the config. It returns
// domain.ErrAlreadyRunning when the fingerprint already has a live run. The
// run detaches from ctx's cancellation: it outlives the HTTP request that
// triggered it and stops only via Stop, StopAll or process shutdown.
func (r *Runner) Start(ctx context.Context, cfg domain.StrategyConfig) error {
	factory, ok := r.factories[cfg.Strategy]
	if !ok {
		return fmt.Errorf("runner: unknown strategy %q", cfg.Strategy)
	}

	r.mu.Lock()
	if _, exists := r.runs[cfg.Sha]; exists {
		r.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := &run{
		sha:    cfg.Sha,
		cancel: cancel,
		done:   make(chan struct{}),
		info: domain.RobotRunInfo{
			Sha:       cfg.Sha,
			Status:    domain.RunPending,
			StartedAt: time.Now(),
		},
	}
	r.runs[cfg.Sha] = rn
	r.mu.Unlock()

	go r.supervise(runCtx, rn, cfg, factory)
	return nil
}

// supervise drives one run: build a robot, let it trade, and on any failure
// tear the attempt down completely and retry after a backoff. Every attempt
// gets fresh station subscriptions so a half-broken feed never leaks into
// the next life.
func (r *Runner) supervise(ctx context.Context, rn *run, cfg domain.StrategyConfig, build Factory) {
	defer close(rn.done)

	log := r.logger.With(slog.String("sha", shortSha(cfg.Sha)))
	failures := 0
	for {
		bot, release, err := build(cfg)
		if err == nil {
			rn.setRobot(bot)
			rn.setStatus(domain.RunRunning)
			err = bot.Run(ctx)
			rn.setRobot(nil)
			release()
		}

		if ctx.Err() != nil {
			rn.setStatus(domain.RunCompleted)
			log.Info("robot stopped")
			r.notify(cfg.Sha, false, "stopped")
			return
		}
		if err == nil {
			// Robots only return early on failure or cancellation; treat a
			// nil return as a crash and restart anyway.
			err = fmt.Errorf("runner: robot exited without error")
		}

		failures++
		rn.fail()
		log.Error("robot failed, restarting",
			slog.Int("failures", failures),
			slog.String("error", err.Error()),
		)
		r.notify(cfg.Sha, true, err.Error())

		timer := time.NewTimer(restartBackoff(r.cfg, failures))
		select {
		case <-ctx.Done():
			timer.Stop()
			rn.setStatus(domain.RunCompleted)
			log.Info("robot stopped")
			r.notify(cfg.Sha, false, "stopped")
			return
		case <-timer.C:
		}
	}
}

// Stop cancels the run for sha and waits for its teardown, which releases
// every station handle the current attempt holds. Unknown fingerprints
// return domain.ErrNotFound.
func (r *Runner) Stop(sha string) error {
	r.mu.Lock()
	rn, ok := r.runs[sha]
	if ok {
		delete(r.runs, sha)
	}
	r.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}

	rn.cancel()
	<-rn.done
	return nil
}

// StopAll stops every live run and returns the fingerprints it stopped.
func (r *Runner) StopAll() []string {
	r.mu.Lock()
	shas := make([]string, 0, len(r.runs))
	for sha := range r.runs {
		shas = append(shas, sha)
	}
	r.mu.Unlock()

	sort.Strings(shas)
	stopped := make([]string, 0, len(shas))
	for _, sha := range shas {
		if err := r.Stop(sha); err == nil {
			stopped = append(stopped, sha)
		}
	}
	return stopped
}

// List returns the run table, ordered by fingerprint.
func (r *Runner) List() []domain.RobotRunInfo {
	r.mu.Lock()
	infos := make([]domain.RobotRunInfo, 0, len(r.runs))
	for _, rn := range r.runs {
		infos = append(infos, rn.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Sha < infos[j].Sha })
	return infos
}

// Stats snapshots every robot that is currently live. Runs between attempts
// (rebuilding after a failure) are skipped.
func (r *Runner) Stats() []domain.RobotStats {
	r.mu.Lock()
	rns := make([]*run, 0, len(r.runs))
	for _, rn := range r.runs {
		rns = append(rns, rn)
	}
	r.mu.Unlock()

	stats := make([]domain.RobotStats, 0, len(rns))
	for _, rn := range rns {
		if bot := rn.robot(); bot != nil {
			stats = append(stats, bot.Stats())
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Sha < stats[j].Sha })
	return stats
}

// DrainOrderLogs collects and clears the pending order-log entries of every
// live robot, keyed by fingerprint. Empty logs are omitted.
func (r *Runner) DrainOrderLogs() map[string][]domain.OrderLogEntry {
	r.mu.Lock()
	rns := make([]*run, 0, len(r.runs))
	for _, rn := range r.runs {
		rns = append(rns, rn)
	}
	r.mu.Unlock()

	out := make(map[string][]domain.OrderLogEntry)
	for _, rn := range rns {
		bot := rn.robot()
		if bot == nil {
			continue
		}
		if entries := bot.DrainOrderLog(); len(entries) > 0 {
			out[rn.sha] = entries
		}
	}
	return out
}

// Close stops every run; used on process shutdown.
func (r *Runner) Close() {
	r.StopAll()
}

func (r *Runner) notify(sha string, isErr bool, msg string) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.notifier.Event(ctx, sha, domain.Event{Error: isErr, Message: msg})
}

func restartBackoff(cfg Config, failures int) time.Duration {
	d := cfg.RestartDelay
	for i := 1; i < failures && d < cfg.MaxRestartDelay; i++ {
		d *= 2
	}
	if d > cfg.MaxRestartDelay {
		d = cfg.MaxRestartDelay
	}
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

func shortSha(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
