package station

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// scriptedTicks yields each tick in order, then the terminal error.
type scriptedTicks struct {
	ticks []domain.BookTick
	err   error
	pos   int
}

func (s *scriptedTicks) Recv(ctx context.Context) (domain.BookTick, error) {
	if s.pos < len(s.ticks) {
		t := s.ticks[s.pos]
		s.pos++
		return t, nil
	}
	if s.err != nil {
		return domain.BookTick{}, s.err
	}
	<-ctx.Done()
	return domain.BookTick{}, ctx.Err()
}

func (s *scriptedTicks) Close() {}

func TestBookPublisherFoldsTicks(t *testing.T) {
	src := &scriptedTicks{ticks: []domain.BookTick{
		{Ask: 101, Bid: 99},
		{Ask: 102, Bid: 100},
	}}
	pub := NewBookPublisher(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var snaps []domain.Snapshot
	done := make(chan error, 1)
	go func() {
		done <- pub.Run(ctx, func(s domain.Snapshot) {
			snaps = append(snaps, s)
			if len(snaps) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}

	require.Len(t, snaps, 2)
	require.NotNil(t, snaps[1].Book)
	assert.Equal(t, 102.0, snaps[1].Book.Ask)
	assert.Equal(t, 100.0, snaps[1].Book.Bid)
	assert.Equal(t, int64(2), snaps[1].Book.Seen, "seen counts every tick")
	assert.False(t, snaps[1].Book.UpdatedAt.IsZero())
}

func TestBookPublisherPropagatesStreamError(t *testing.T) {
	boom := errors.New("bad frame")
	src := &scriptedTicks{err: boom}
	pub := NewBookPublisher(src)

	err := pub.Run(context.Background(), func(domain.Snapshot) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

// pollClient serves canned balances and fails on demand.
type pollClient struct {
	balances map[string]domain.Balance
	err      error
	calls    int
}

func (c *pollClient) Name() string { return "btcturk" }

func (c *pollClient) AccountBalances(ctx context.Context) (map[string]domain.Balance, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.balances, nil
}

func (c *pollClient) SubmitLimitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, qty float64) (*domain.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (c *pollClient) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	return nil, nil
}

func (c *pollClient) CancelOrder(ctx context.Context, pair domain.Pair, id string) error {
	return nil
}

func TestBalancePublisherPollsImmediately(t *testing.T) {
	client := &pollClient{balances: map[string]domain.Balance{
		"ETH":  {Free: 1.5},
		"USDT": {Free: 1000},
	}}
	pub := NewBalancePublisher(client, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var snap domain.Snapshot
	done := make(chan error, 1)
	go func() {
		done <- pub.Run(ctx, func(s domain.Snapshot) {
			snap = s
			cancel()
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}

	assert.Equal(t, 1, client.calls, "first poll happens before the first tick")
	require.NotNil(t, snap.Balances)
	assert.Equal(t, 1.5, snap.Balances["ETH"].Free)
}

func TestBalancePublisherFailsOnPollError(t *testing.T) {
	client := &pollClient{err: errors.New("rate limited")}
	pub := NewBalancePublisher(client, time.Hour)

	err := pub.Run(context.Background(), func(domain.Snapshot) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balance poll")
}
