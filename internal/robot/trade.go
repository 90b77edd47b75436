package robot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// Window is the theoretical buy/sell price band. The band is 2*credit wide
// and slides down by step_k per accumulated inventory step: both thresholds
// move together, cheaper buys and cheaper sells as inventory builds up.
type Window struct {
	TheoBuy  float64
	TheoSell float64
	Step     int
}

// ComputeWindow derives the window from the (bridge-adjusted) leader mid and
// the inventory step implied by the current base holdings.
func ComputeWindow(mid, baseFree float64, cfg domain.StrategyConfig) Window {
	step := inventorySteps(baseFree, mid, cfg.QuoteStepQty)
	shift := cfg.StepK * float64(step)
	return Window{
		TheoBuy:  mid - shift - cfg.Credit,
		TheoSell: mid - shift + cfg.Credit,
		Step:     step,
	}
}

// onLeaderTick refreshes the leader mid (times the bridge quote when one is
// configured), recomputes the window, and checks for a trade.
func (r *Robot) onLeaderTick(ctx context.Context) error {
	snap, ok := r.feeds.Leader.Latest()
	if !ok || snap.Book == nil || !snap.Book.Known() {
		r.st.mu.Lock()
		r.st.leaderMid = 0
		r.st.theoBuy, r.st.theoSell = 0, 0
		r.st.mu.Unlock()
		return nil
	}

	bridge := 1.0
	if r.cfg.UseBridge {
		bsnap, bok := r.feeds.Bridge.Latest()
		if !bok || bsnap.Book == nil || !bsnap.Book.Known() {
			// Without a live bridge quote the leader price cannot be
			// converted; the window is unknown until it recovers.
			r.st.mu.Lock()
			r.st.theoBuy, r.st.theoSell = 0, 0
			r.st.mu.Unlock()
			return nil
		}
		bridge = bsnap.Book.Mid()
	}

	r.st.mu.Lock()
	r.st.leaderMid = snap.Book.Mid()
	r.st.bridgeQuote = bridge
	mid := r.st.leaderMid * bridge
	w := ComputeWindow(mid, r.st.balances[r.cfg.Base].Free, r.cfg)
	r.st.theoBuy, r.st.theoSell = w.TheoBuy, w.TheoSell
	r.st.currentStep = w.Step
	r.st.mu.Unlock()

	return r.maybeTrade(ctx)
}

// refreshFollower re-reads the follower station before every decision. A
// snapshot past the staleness bound clears the cached book, so neither side
// can trade against a price the station no longer vouches for, and marks
// inventory at zero until the feed recovers. The live-to-stale transition is
// reported once.
func (r *Robot) refreshFollower() error {
	snap, ok := r.feeds.Follower.Latest()

	r.st.mu.Lock()
	if ok && snap.Book != nil {
		r.st.follower = *snap.Book
		r.st.followerStale = false
		r.st.mu.Unlock()
		return nil
	}

	first := !r.st.followerStale
	r.st.followerStale = true
	r.st.follower = domain.Book{}
	r.recomputePnLLocked()
	r.st.mu.Unlock()

	if first {
		return fmt.Errorf("robot: follower book %s: %w", r.cfg.Pair().Symbol(), domain.ErrStale)
	}
	return nil
}

// intent is one side's trade decision for the current tick.
type intent struct {
	side  domain.Side
	price float64
	qty   float64
}

// maybeTrade evaluates both sides against the current window and submits at
// most one order through the gate. A busy gate or exhausted rate budget means
// this tick is skipped, never queued.
func (r *Robot) maybeTrade(ctx context.Context) error {
	if err := r.refreshFollower(); err != nil {
		return err
	}
	if r.gate.OrdersLastWindow() >= r.opts.MaxOrdersPerWindow {
		return nil
	}

	r.st.mu.Lock()
	in, ok := r.decideLocked()
	r.st.mu.Unlock()
	if !ok {
		return nil
	}

	res, err := r.gate.Submit(ctx, in.side, in.price, in.qty)
	if err != nil {
		// Busy gate and cancellation are expected, not failures.
		return nil
	}
	if res == nil || !res.Delivered {
		return nil
	}
	if ctx.Err() != nil {
		// Result arrived after cancellation; reconciliation will pick the
		// real balances up, do not apply it locally.
		return nil
	}
	r.applyDelivery(res)
	return nil
}

// decideLocked picks a side, if any. Caller holds st.mu.
func (r *Robot) decideLocked() (intent, bool) {
	// sleep_seconds is the strategy's own cool-down between delivered
	// orders, on top of the gate's inter-order pacing.
	if cool := time.Duration(r.cfg.SleepSeconds * float64(time.Second)); cool > 0 {
		if !r.st.lastTrade.IsZero() && time.Since(r.st.lastTrade) < cool {
			return intent{}, false
		}
	}

	ask, bid := r.st.follower.Ask, r.st.follower.Bid
	baseFree := r.st.balances[r.cfg.Base].Free
	quoteFree := r.st.balances[r.cfg.Quote].Free

	mid := r.st.leaderMid * r.bridgeOr1Locked()
	if mid <= 0 {
		return intent{}, false
	}
	// One inventory step in base units, at the current mirrored mid.
	stepQty := r.cfg.QuoteStepQty / mid

	// Buy when the follower's best ask dips below the window floor.
	if ask > 0 && r.st.theoBuy > 0 && ask <= r.st.theoBuy && r.st.currentStep < r.cfg.MaxSteps {
		cost := ask * stepQty
		if quoteFree >= cost && r.withinSpendCapLocked(cost) {
			return intent{side: domain.SideBuy, price: ask, qty: stepQty}, true
		}
	}

	// Sell when the follower's best bid clears the window ceiling. When the
	// base balance does not cover a full step, the quantity clamps down
	// instead of skipping the opportunity.
	if bid > 0 && r.st.theoSell > 0 && bid >= r.st.theoSell && baseFree > 0 {
		qty := stepQty
		if baseFree < qty {
			qty = baseFree
		}
		if qty > 0 {
			return intent{side: domain.SideSell, price: bid, qty: qty}, true
		}
	}

	return intent{}, false
}

// withinSpendCapLocked checks the optional cumulative quote spend cap.
// Caller holds st.mu.
func (r *Robot) withinSpendCapLocked(nextCost float64) bool {
	if r.cfg.MaxSpend <= 0 || r.st.startBalances == nil {
		return true
	}
	spent := r.st.startBalances[r.cfg.Quote].Total() - r.st.balances[r.cfg.Quote].Total()
	if spent < 0 {
		spent = 0
	}
	return spent+nextCost <= r.cfg.MaxSpend
}

// applyDelivery optimistically adjusts local balances ahead of the next
// reconciliation and appends the order to the telemetry log.
func (r *Robot) applyDelivery(res *domain.OrderResult) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	base := r.st.balances[r.cfg.Base]
	quote := r.st.balances[r.cfg.Quote]
	switch res.Side {
	case domain.SideBuy:
		// Commit the whole step budget, not the limit cost: the difference
		// over-covers fees until the next reconciliation corrects it.
		base.Free += res.Qty
		quote.Free -= r.cfg.QuoteStepQty
	case domain.SideSell:
		base.Free -= res.Qty
		quote.Free += res.Price * res.Qty
	}
	r.st.balances[r.cfg.Base] = base
	r.st.balances[r.cfg.Quote] = quote
	r.st.lastTrade = time.Now()

	mid := r.st.leaderMid * r.bridgeOr1Locked()
	w := ComputeWindow(mid, base.Free, r.cfg)
	r.st.theoBuy, r.st.theoSell = w.TheoBuy, w.TheoSell
	r.st.currentStep = w.Step
	r.recomputePnLLocked()

	r.st.orderLog = append(r.st.orderLog, domain.OrderLogEntry{
		At:      time.Now().UTC(),
		Side:    res.Side,
		Price:   res.Price,
		Qty:     res.Qty,
		OrderID: res.OrderID,
	})
	if overflow := len(r.st.orderLog) - r.opts.OrderLogLimit; overflow > 0 {
		r.st.orderLog = append([]domain.OrderLogEntry(nil), r.st.orderLog[overflow:]...)
	}

	r.logger.Info("trade applied",
		slog.String("side", string(res.Side)),
		slog.Float64("price", res.Price),
		slog.Float64("qty", res.Qty),
		slog.Int("current_step", r.st.currentStep),
	)
}

func (r *Robot) bridgeOr1Locked() float64 {
	if r.cfg.UseBridge && r.st.bridgeQuote > 0 {
		return r.st.bridgeQuote
	}
	return 1
}
