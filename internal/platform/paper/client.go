// Package paper simulates an exchange for test-mode strategies. Every limit
// order is acknowledged and filled immediately at its limit price against an
// in-memory balance sheet, so a robot in test mode exercises the full
// decision and accounting path without touching a real account.
package paper

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// Client is an in-memory exchange. It implements domain.ExchangeClient.
type Client struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	balances map[string]domain.Balance
	nextID   int64
}

// NewClient creates a simulated exchange carrying the given starting
// balances. The name is reported as-is so logs and stations distinguish
// paper instances from the real exchange.
func NewClient(name string, starting map[string]domain.Balance, logger *slog.Logger) *Client {
	balances := make(map[string]domain.Balance, len(starting))
	for asset, b := range starting {
		balances[asset] = b
	}
	return &Client{
		name:     name,
		logger:   logger.With(slog.String("component", "paper"), slog.String("exchange", name)),
		balances: balances,
	}
}

// Name implements domain.ExchangeClient.
func (c *Client) Name() string { return c.name }

// AccountBalances returns a copy of the simulated balance sheet.
func (c *Client) AccountBalances(ctx context.Context) (map[string]domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]domain.Balance, len(c.balances))
	for asset, b := range c.balances {
		out[asset] = b
	}
	return out, nil
}

// SubmitLimitOrder fills the order immediately at its limit price. An order
// the balance sheet cannot cover is rejected, not an error, matching how a
// real exchange reports insufficient funds.
func (c *Client) SubmitLimitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, qty float64) (*domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.balances[pair.Base]
	quote := c.balances[pair.Quote]

	switch side {
	case domain.SideBuy:
		cost := price * qty
		if quote.Free < cost {
			return c.rejectedLocked(pair, side, price, qty, "insufficient quote balance"), nil
		}
		quote.Free -= cost
		base.Free += qty
	case domain.SideSell:
		if base.Free < qty {
			return c.rejectedLocked(pair, side, price, qty, "insufficient base balance"), nil
		}
		base.Free -= qty
		quote.Free += price * qty
	default:
		return c.rejectedLocked(pair, side, price, qty, "unknown side"), nil
	}

	c.balances[pair.Base] = base
	c.balances[pair.Quote] = quote
	c.nextID++

	c.logger.Info("paper fill",
		slog.String("pair", pair.String()),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("qty", qty),
	)

	return &domain.OrderResult{
		OrderID:   strconv.FormatInt(c.nextID, 10),
		Symbol:    pair.Symbol(),
		Side:      side,
		Price:     price,
		Qty:       qty,
		Delivered: true,
	}, nil
}

func (c *Client) rejectedLocked(pair domain.Pair, side domain.Side, price, qty float64, msg string) *domain.OrderResult {
	return &domain.OrderResult{
		Symbol:  pair.Symbol(),
		Side:    side,
		Price:   price,
		Qty:     qty,
		Message: msg,
	}
}

// OpenOrders is always empty: fills are immediate.
func (c *Client) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	return nil, nil
}

// CancelOrder is a no-op: there is never anything resting to cancel.
func (c *Client) CancelOrder(ctx context.Context, pair domain.Pair, id string) error {
	return nil
}
