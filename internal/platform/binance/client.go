// Package binance implements the leader-side exchange client on top of the
// official connector. The leader is normally read-only (its book drives the
// window) but the full order surface is implemented so a config can point
// either role at it.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// decimalPrecision is the fallback decimal precision for prices and
// quantities. Symbol-specific LOT_SIZE/PRICE_FILTER precision would be
// better; eight decimals is accepted for the supported spot pairs.
const decimalPrecision = 8

// Config configures the client.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Client wraps the spot REST client. It implements domain.ExchangeClient.
type Client struct {
	api    *gobinance.Client
	logger *slog.Logger
}

// NewClient creates a spot client. Testnet selection is a package-level
// switch in the connector and applies to the WebSocket streams as well.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	gobinance.UseTestnet = cfg.Testnet
	return &Client{
		api:    gobinance.NewClient(cfg.APIKey, cfg.APISecret),
		logger: logger.With(slog.String("component", "binance")),
	}
}

// Name implements domain.ExchangeClient.
func (c *Client) Name() string { return "binance" }

// AccountBalances fetches the spot balances of the authenticated account.
// Zero balances are dropped.
func (c *Client) AccountBalances(ctx context.Context) (map[string]domain.Balance, error) {
	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch account: %w", err)
	}

	balances := make(map[string]domain.Balance, len(account.Balances))
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse free balance for %s: %w", b.Asset, err)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse locked balance for %s: %w", b.Asset, err)
		}
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = domain.Balance{Free: free, Locked: locked}
	}
	return balances, nil
}

// SubmitLimitOrder places a GTC limit order.
func (c *Client) SubmitLimitOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, qty float64) (*domain.OrderResult, error) {
	sideType := gobinance.SideTypeBuy
	if side == domain.SideSell {
		sideType = gobinance.SideTypeSell
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(pair.Symbol()).
		Side(sideType).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Price(formatAmount(price)).
		Quantity(formatAmount(qty)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: submit order: %w", err)
	}
	if res.OrderID == 0 {
		return nil, fmt.Errorf("binance: order accepted without an order ID")
	}

	return &domain.OrderResult{
		OrderID:   strconv.FormatInt(res.OrderID, 10),
		Symbol:    pair.Symbol(),
		Side:      side,
		Price:     price,
		Qty:       qty,
		Delivered: true,
	}, nil
}

// OpenOrders lists the open orders for the pair.
func (c *Client) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	raw, err := c.api.NewListOpenOrdersService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: list open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		side := domain.SideBuy
		if o.Side == gobinance.SideTypeSell {
			side = domain.SideSell
		}
		orders = append(orders, domain.Order{
			ID:     strconv.FormatInt(o.OrderID, 10),
			Symbol: o.Symbol,
			Side:   side,
			Price:  price,
			Qty:    qty,
		})
	}
	return orders, nil
}

// CancelOrder cancels a single open order by its ID.
func (c *Client) CancelOrder(ctx context.Context, pair domain.Pair, id string) error {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: invalid order id %q: %w", id, err)
	}
	if _, err := c.api.NewCancelOrderService().Symbol(pair.Symbol()).OrderID(orderID).Do(ctx); err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", id, err)
	}
	return nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', decimalPrecision, 64)
}
