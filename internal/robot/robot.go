// Package robot implements the sliding-window trader. One Robot mirrors a
// leader exchange's price onto a follower exchange: it maintains a
// theoretical buy/sell window derived from the leader mid and the current
// inventory step, and requests follower orders through the execution gate
// when the follower's best price crosses the window.
package robot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecelik/mirrorbot/internal/domain"
	"github.com/ecelik/mirrorbot/internal/station"
)

// OrderGate is the execution gate contract the robot submits through.
// Implemented by gate.Gate.
type OrderGate interface {
	Run(ctx context.Context) error
	Submit(ctx context.Context, side domain.Side, price, qty float64) (*domain.OrderResult, error)
	CancelAll(ctx context.Context) (int, error)
	Attempted() int64
	Delivered() int64
	OrdersLastWindow() int64
}

// Notifier publishes fire-and-forget events keyed by the config fingerprint.
// Implementations must swallow their own failures.
type Notifier interface {
	Event(ctx context.Context, channel string, ev domain.Event)
}

// Feeds are the station subscriptions a robot reads from. The runner owns the
// subscriptions; the robot only reads snapshots. Bridge is nil when the
// strategy trades without an intermediate asset.
type Feeds struct {
	Leader   *station.Handle
	Follower *station.Handle
	Bridge   *station.Handle
	Balance  *station.Handle
}

// Options are runtime knobs that are not part of the strategy identity.
type Options struct {
	// StartTimeout bounds the wait for the first balance snapshot. Failing
	// it is fatal for the robot: it cannot safely trade without a starting
	// balance.
	StartTimeout time.Duration
	// Reconcile is the balance reconciliation interval. Zero falls back to
	// the strategy's reconcile_seconds.
	Reconcile time.Duration
	// SellFeeFactor marks inventory to bid net of the sell fee in the PnL
	// estimate, e.g. 0.999 for a 10 bps taker fee.
	SellFeeFactor float64
	// MaxOrdersPerWindow is the advisory back-pressure bound read from the
	// gate's rate counter.
	MaxOrdersPerWindow int64
	// OrderLogLimit bounds the in-memory order telemetry log.
	OrderLogLimit int
}

func (o Options) withDefaults(cfg domain.StrategyConfig) Options {
	if o.StartTimeout <= 0 {
		o.StartTimeout = 15 * time.Second
	}
	if o.Reconcile <= 0 {
		o.Reconcile = time.Duration(cfg.ReconcileSeconds * float64(time.Second))
	}
	if o.Reconcile <= 0 {
		o.Reconcile = 5 * time.Second
	}
	if o.SellFeeFactor <= 0 || o.SellFeeFactor > 1 {
		o.SellFeeFactor = 0.999
	}
	if o.MaxOrdersPerWindow <= 0 {
		o.MaxOrdersPerWindow = 8
	}
	if o.OrderLogLimit <= 0 {
		o.OrderLogLimit = 1000
	}
	return o
}

// Robot is one running strategy instance. All trading state is owned by the
// Run goroutine; Stats and DrainOrderLog take the mutex for cross-goroutine
// reads.
type Robot struct {
	cfg      domain.StrategyConfig
	gate     OrderGate
	feeds    Feeds
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	st state
}

// New builds a Robot bound to its gate and station feeds.
func New(cfg domain.StrategyConfig, g OrderGate, feeds Feeds, notifier Notifier, opts Options, logger *slog.Logger) *Robot {
	return &Robot{
		cfg:      cfg,
		gate:     g,
		feeds:    feeds,
		notifier: notifier,
		opts:     opts.withDefaults(cfg),
		logger: logger.With(
			slog.String("component", "robot"),
			slog.String("sha", shortSha(cfg.Sha)),
			slog.String("pair", cfg.Pair().String()),
		),
	}
}

func shortSha(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// Run executes the robot until ctx is cancelled or a fatal error occurs.
// Per-tick processing errors are logged and published, never fatal; a failed
// initial balance read is fatal and bubbles to the supervisor for retry.
func (r *Robot) Run(ctx context.Context) error {
	if err := r.awaitStartBalances(ctx); err != nil {
		return fmt.Errorf("robot: initial balance read: %w", err)
	}
	r.logger.Info("robot started",
		slog.Float64("base_free", r.st.balances[r.cfg.Base].Free),
		slog.Float64("quote_free", r.st.balances[r.cfg.Quote].Free),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.gate.Run(ctx) })
	g.Go(func() error { return r.loop(ctx) })
	err := g.Wait()

	// Sweep resting orders so a stopped robot leaves nothing on the book.
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if n, cerr := r.gate.CancelAll(sweepCtx); cerr != nil {
		r.logger.Warn("cancel open orders on stop", slog.String("error", cerr.Error()))
	} else if n > 0 {
		r.logger.Info("cancelled open orders on stop", slog.Int("count", n))
	}
	return err
}

// awaitStartBalances blocks until the balance station delivers its first
// snapshot, which is captured as the PnL baseline.
func (r *Robot) awaitStartBalances(ctx context.Context) error {
	deadline := time.NewTimer(r.opts.StartTimeout)
	defer deadline.Stop()

	for {
		if snap, ok := r.feeds.Balance.Latest(); ok && snap.Balances != nil {
			r.st.mu.Lock()
			r.st.balances = cloneBalances(snap.Balances)
			r.st.startBalances = cloneBalances(snap.Balances)
			r.st.mu.Unlock()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("no balance snapshot within %s", r.opts.StartTimeout)
		case <-r.feeds.Balance.Updates():
		}
	}
}

func (r *Robot) loop(ctx context.Context) error {
	reconcile := time.NewTicker(r.opts.Reconcile)
	defer reconcile.Stop()

	var bridgeCh <-chan struct{}
	if r.feeds.Bridge != nil {
		bridgeCh = r.feeds.Bridge.Updates()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.feeds.Leader.Updates():
			r.guard(ctx, "leader tick", r.onLeaderTick)
		case <-bridgeCh:
			r.guard(ctx, "bridge tick", r.onLeaderTick)
		case <-r.feeds.Follower.Updates():
			r.guard(ctx, "follower tick", r.maybeTrade)
		case <-reconcile.C:
			r.guard(ctx, "reconcile", r.reconcile)
		}
	}
}

// guard runs one tick handler, converting its error into a logged, published,
// non-fatal event. Nothing in the trading loop terminates the robot.
func (r *Robot) guard(ctx context.Context, what string, fn func(context.Context) error) {
	err := fn(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	r.logger.Error("tick failed",
		slog.String("tick", what),
		slog.String("error", err.Error()),
	)
	if r.notifier != nil {
		r.notifier.Event(ctx, r.cfg.Sha, domain.Event{
			Error:   true,
			Message: fmt.Sprintf("%s: %v", what, err),
		})
	}
}

// reconcile replaces the optimistic local balances with the shared balance
// station's snapshot and refreshes the PnL estimate.
func (r *Robot) reconcile(ctx context.Context) error {
	// The PnL mark depends on the follower bid; drop it first if the feed
	// has gone stale since the last tick.
	staleErr := r.refreshFollower()

	snap, ok := r.feeds.Balance.Latest()
	if !ok || snap.Balances == nil {
		return staleErr
	}

	r.st.mu.Lock()
	r.st.balances = cloneBalances(snap.Balances)
	r.recomputePnLLocked()
	r.st.mu.Unlock()
	return staleErr
}

// Stats returns a point-in-time snapshot of the robot's trading state.
func (r *Robot) Stats() domain.RobotStats {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	return domain.RobotStats{
		Sha:         r.cfg.Sha,
		Pair:        r.cfg.Pair().String(),
		LeaderMid:   r.st.leaderMid,
		BridgeQuote: r.st.bridgeQuote,
		FollowerBid: r.st.follower.Bid,
		FollowerAsk: r.st.follower.Ask,
		TheoBuy:     r.st.theoBuy,
		TheoSell:    r.st.theoSell,
		CurrentStep: r.st.currentStep,
		BaseFree:    r.st.balances[r.cfg.Base].Free,
		QuoteFree:   r.st.balances[r.cfg.Quote].Free,
		Delivered:   r.gate.Delivered(),
		Attempted:   r.gate.Attempted(),
		PnL:         r.st.pnl,
		UpdatedAt:   time.Now().UTC(),
	}
}

// DrainOrderLog returns and clears the accumulated order telemetry entries.
// Consumed by the order-log archiver.
func (r *Robot) DrainOrderLog() []domain.OrderLogEntry {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := r.st.orderLog
	r.st.orderLog = nil
	return out
}

// recomputePnLLocked marks inventory to the best follower bid net of the sell
// fee. It is an estimate, not realized PnL; with the follower book unknown the
// inventory marks at zero until the feed recovers. Caller holds st.mu.
func (r *Robot) recomputePnLLocked() {
	if r.st.startBalances == nil {
		return
	}
	quoteDelta := r.st.balances[r.cfg.Quote].Total() - r.st.startBalances[r.cfg.Quote].Total()
	inventory := r.st.balances[r.cfg.Base].Total() * r.st.follower.Bid * r.opts.SellFeeFactor
	r.st.pnl = quoteDelta + inventory
}

// state is the robot's mutable trading state.
type state struct {
	mu sync.Mutex

	leaderMid     float64
	bridgeQuote   float64
	follower      domain.Book
	followerStale bool

	theoBuy  float64
	theoSell float64

	currentStep int
	lastTrade   time.Time

	balances      map[string]domain.Balance
	startBalances map[string]domain.Balance
	pnl           float64

	orderLog []domain.OrderLogEntry
}

func cloneBalances(in map[string]domain.Balance) map[string]domain.Balance {
	out := make(map[string]domain.Balance, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// inventorySteps converts base holdings into whole inventory steps at the
// given mid price.
func inventorySteps(baseFree, mid, quoteStepQty float64) int {
	if mid <= 0 || quoteStepQty <= 0 {
		return 0
	}
	steps := math.Floor(baseFree * mid / quoteStepQty)
	if steps < 0 {
		return 0
	}
	return int(steps)
}
