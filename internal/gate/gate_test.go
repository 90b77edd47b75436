package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// fakeExchange implements domain.ExchangeClient with scriptable behaviour.
type fakeExchange struct {
	mu          sync.Mutex
	submitDelay time.Duration
	submitErr   error
	noOrderID   bool
	submits     atomic.Int64

	openOrders []domain.Order
	cancelErrs map[string]error
	cancelled  []string
	cancelAt   []time.Time
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) AccountBalances(ctx context.Context) (map[string]domain.Balance, error) {
	return map[string]domain.Balance{}, nil
}

func (f *fakeExchange) SubmitLimitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, qty float64) (*domain.OrderResult, error) {
	n := f.submits.Add(1)
	if f.submitDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.submitDelay):
		}
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.noOrderID {
		return &domain.OrderResult{Delivered: false, Message: "rejected"}, nil
	}
	return &domain.OrderResult{
		OrderID: "order-" + string(rune('0'+n)), Symbol: pair.Symbol(),
		Side: side, Price: price, Qty: qty, Delivered: true,
	}, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	return f.openOrders, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, pair domain.Pair, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAt = append(f.cancelAt, time.Now())
	if err := f.cancelErrs[id]; err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func testGate(f *fakeExchange, cfg Config) *Gate {
	return New(f, domain.Pair{Base: "ETH", Quote: "USDT"}, cfg, slog.New(slog.DiscardHandler))
}

func TestConcurrentSubmitsSameSide(t *testing.T) {
	fake := &fakeExchange{submitDelay: 30 * time.Millisecond}
	g := testGate(fake, Config{MinInterOrder: time.Millisecond})

	type outcome struct {
		res *domain.OrderResult
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := g.Submit(context.Background(), domain.SideBuy, 100, 1)
			results <- outcome{res, err}
		}()
	}

	var deliveredCount, busyCount int
	for i := 0; i < 2; i++ {
		o := <-results
		switch {
		case errors.Is(o.err, domain.ErrGateBusy):
			busyCount++
		case o.err == nil && o.res != nil && o.res.Delivered:
			deliveredCount++
		default:
			t.Fatalf("unexpected outcome: res=%+v err=%v", o.res, o.err)
		}
	}

	assert.Equal(t, 1, deliveredCount, "exactly one submission must go through")
	assert.Equal(t, 1, busyCount, "the overlapping submission must be skipped, not queued")
	assert.Equal(t, int64(1), fake.submits.Load())
}

func TestSidesAreIndependent(t *testing.T) {
	fake := &fakeExchange{submitDelay: 30 * time.Millisecond}
	g := testGate(fake, Config{MinInterOrder: time.Millisecond})

	var wg sync.WaitGroup
	outcomes := make([]error, 2)
	for i, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcomes[i] = g.Submit(context.Background(), side, 100, 1)
		}()
	}
	wg.Wait()

	assert.NoError(t, outcomes[0])
	assert.NoError(t, outcomes[1])
	assert.Equal(t, int64(2), fake.submits.Load())
}

func TestSubmitAbsorbsExchangeFailure(t *testing.T) {
	fake := &fakeExchange{submitErr: errors.New("503 service unavailable")}
	g := testGate(fake, Config{MinInterOrder: time.Millisecond})

	res, err := g.Submit(context.Background(), domain.SideBuy, 100, 1)
	require.NoError(t, err, "transport failures must not surface as errors")
	require.NotNil(t, res)
	assert.False(t, res.Delivered)
	assert.Contains(t, res.Message, "503")
	assert.Equal(t, int64(1), g.Attempted())
	assert.Equal(t, int64(0), g.Delivered())
}

func TestSubmitRequiresOrderID(t *testing.T) {
	fake := &fakeExchange{noOrderID: true}
	g := testGate(fake, Config{MinInterOrder: time.Millisecond})

	res, err := g.Submit(context.Background(), domain.SideSell, 100, 1)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, int64(0), g.Delivered())
}

func TestGateHeldForMinInterOrder(t *testing.T) {
	fake := &fakeExchange{}
	g := testGate(fake, Config{MinInterOrder: 80 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := g.Submit(context.Background(), domain.SideBuy, 100, 1)
		assert.NoError(t, err)
	}()

	// While the first submission cools down, the gate reads busy even
	// though the exchange call itself already returned.
	require.Eventually(t, func() bool { return fake.submits.Load() == 1 },
		time.Second, time.Millisecond)
	_, err := g.Submit(context.Background(), domain.SideBuy, 100, 1)
	assert.ErrorIs(t, err, domain.ErrGateBusy)

	<-done
	assert.Equal(t, int64(1), fake.submits.Load())
}

func TestRateWindowReset(t *testing.T) {
	fake := &fakeExchange{}
	g := testGate(fake, Config{MinInterOrder: time.Millisecond, RateWindow: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = g.Run(ctx) }()

	_, err := g.Submit(ctx, domain.SideBuy, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.OrdersLastWindow())

	require.Eventually(t, func() bool { return g.OrdersLastWindow() == 0 },
		time.Second, 5*time.Millisecond, "counter must reset on the independent tick")
	assert.Equal(t, int64(1), g.Attempted(), "the lifetime counter must survive the reset")
}

func TestCancelAllToleratesFailures(t *testing.T) {
	fake := &fakeExchange{
		openOrders: []domain.Order{
			{ID: "a"}, {ID: "b"}, {ID: "c"},
		},
		cancelErrs: map[string]error{"b": errors.New("order filled")},
	}
	g := testGate(fake, Config{CancelPacing: 5 * time.Millisecond})

	cancelled, err := g.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, []string{"a", "c"}, fake.cancelled)

	// Successive cancels are paced apart.
	require.Len(t, fake.cancelAt, 3)
	assert.GreaterOrEqual(t, fake.cancelAt[1].Sub(fake.cancelAt[0]), 5*time.Millisecond)
}
