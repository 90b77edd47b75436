// Package gate serializes and throttles outbound orders for one robot. Each
// side (buy, sell, cancel) has its own try-lock: a held gate means "skip this
// tick", never "queue behind it" — freshness is preferred over completeness.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// Config bounds the gate's waits and pacing delays.
type Config struct {
	// SubmitTimeout bounds one limit-order submission.
	SubmitTimeout time.Duration
	// MinInterOrder is how long the side gate stays held after a
	// submission, successful or not.
	MinInterOrder time.Duration
	// CancelTimeout bounds one cancel call; CancelPacing spaces successive
	// cancels so a batch does not trip exchange rate limits.
	CancelTimeout time.Duration
	CancelPacing  time.Duration
	// RateWindow is the advisory order-rate accounting window.
	RateWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	if c.MinInterOrder <= 0 {
		c.MinInterOrder = 200 * time.Millisecond
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = 5 * time.Second
	}
	if c.CancelPacing <= 0 {
		c.CancelPacing = 100 * time.Millisecond
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Second
	}
	return c
}

// Gate is owned exclusively by one robot; it is never shared, so two robots
// trading the same pair each get independent throttling.
type Gate struct {
	client domain.ExchangeClient
	pair   domain.Pair
	cfg    Config
	logger *slog.Logger

	buyMu    sync.Mutex
	sellMu   sync.Mutex
	cancelMu sync.Mutex

	attempted  atomic.Int64
	delivered  atomic.Int64
	windowSeen atomic.Int64
}

// New creates a Gate submitting through client for the given pair.
func New(client domain.ExchangeClient, pair domain.Pair, cfg Config, logger *slog.Logger) *Gate {
	return &Gate{
		client: client,
		pair:   pair,
		cfg:    cfg.withDefaults(),
		logger: logger.With(
			slog.String("component", "order_gate"),
			slog.String("pair", pair.String()),
		),
	}
}

// Run resets the advisory per-window order counter on an independent tick.
// It blocks until ctx is cancelled.
func (g *Gate) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.RateWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.windowSeen.Store(0)
		}
	}
}

// sideMu returns the try-lock guarding the given side.
func (g *Gate) sideMu(side domain.Side) *sync.Mutex {
	if side == domain.SideSell {
		return &g.sellMu
	}
	return &g.buyMu
}

// Submit places a limit order on the given side. When the side's gate is held
// it returns domain.ErrGateBusy immediately without queueing. Otherwise the
// gate is held for at least MinInterOrder, the submission runs with a bounded
// wait, and the parsed result is returned. Transport and exchange failures
// are absorbed into a not-delivered result, never an error: they must not
// crash the owning robot.
func (g *Gate) Submit(ctx context.Context, side domain.Side, price, qty float64) (*domain.OrderResult, error) {
	mu := g.sideMu(side)
	if !mu.TryLock() {
		return nil, domain.ErrGateBusy
	}
	defer mu.Unlock()
	defer g.holdGate(ctx)

	g.attempted.Add(1)
	g.windowSeen.Add(1)

	log := g.logger.With(
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("qty", qty),
	)

	subCtx, cancel := context.WithTimeout(ctx, g.cfg.SubmitTimeout)
	defer cancel()

	res, err := g.client.SubmitLimitOrder(subCtx, g.pair, side, price, qty)
	if ctx.Err() != nil {
		// The robot was cancelled mid-flight; discard whatever came back.
		return nil, ctx.Err()
	}
	if err != nil {
		log.Warn("order submission failed", slog.String("error", err.Error()))
		return &domain.OrderResult{
			Symbol: g.pair.Symbol(), Side: side, Price: price, Qty: qty,
			Delivered: false, Message: err.Error(),
		}, nil
	}
	if res == nil || !res.Delivered || res.OrderID == "" {
		msg := "no order id"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		log.Warn("order not delivered", slog.String("reason", msg))
		return &domain.OrderResult{
			Symbol: g.pair.Symbol(), Side: side, Price: price, Qty: qty,
			Delivered: false, Message: msg,
		}, nil
	}

	g.delivered.Add(1)
	log.Info("order delivered", slog.String("order_id", res.OrderID))
	return res, nil
}

// holdGate keeps the side gate occupied for the minimum inter-order delay.
func (g *Gate) holdGate(ctx context.Context) {
	timer := time.NewTimer(g.cfg.MinInterOrder)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// CancelAll fetches the open orders for the pair and cancels them one by one
// with pacing delays between cancels. Individual cancel failures (the order
// may have already filled) are logged and skipped; only the initial listing
// failure is returned. It returns the number of orders cancelled.
func (g *Gate) CancelAll(ctx context.Context) (int, error) {
	if !g.cancelMu.TryLock() {
		return 0, domain.ErrGateBusy
	}
	defer g.cancelMu.Unlock()

	listCtx, cancel := context.WithTimeout(ctx, g.cfg.CancelTimeout)
	orders, err := g.client.OpenOrders(listCtx, g.pair)
	cancel()
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for i, o := range orders {
		if i > 0 {
			timer := time.NewTimer(g.cfg.CancelPacing)
			select {
			case <-ctx.Done():
				timer.Stop()
				return cancelled, ctx.Err()
			case <-timer.C:
			}
		}

		cancelCtx, cfn := context.WithTimeout(ctx, g.cfg.CancelTimeout)
		err := g.client.CancelOrder(cancelCtx, g.pair, o.ID)
		cfn()
		if err != nil {
			g.logger.Warn("cancel failed, skipping",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// Attempted returns the total number of submission attempts.
func (g *Gate) Attempted() int64 {
	return g.attempted.Load()
}

// Delivered returns the total number of delivered orders.
func (g *Gate) Delivered() int64 {
	return g.delivered.Load()
}

// OrdersLastWindow returns the advisory count of submissions in the current
// rate window. It informs back-pressure decisions; it is not a hard block.
func (g *Gate) OrdersLastWindow() int64 {
	return g.windowSeen.Load()
}
