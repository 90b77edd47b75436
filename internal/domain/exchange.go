package domain

import (
	"context"
	"time"
)

// ExchangeClient is the narrow contract the trading runtime needs from a
// concrete exchange. Implementations live under internal/platform. Operations
// return wrapped errors only for genuine transport failures; business-level
// rejections surface through the returned values.
type ExchangeClient interface {
	// Name returns the exchange identifier, e.g. "binance" or "btcturk".
	Name() string

	// AccountBalances returns the free/locked balance per asset symbol.
	AccountBalances(ctx context.Context) (map[string]Balance, error)

	// SubmitLimitOrder places a limit order and returns the parsed result.
	SubmitLimitOrder(ctx context.Context, pair Pair, side Side, price, qty float64) (*OrderResult, error)

	// OpenOrders lists the currently open orders for the pair.
	OpenOrders(ctx context.Context, pair Pair) ([]Order, error)

	// CancelOrder cancels a single open order by ID.
	CancelOrder(ctx context.Context, pair Pair, id string) error
}

// Snapshot is the latest value published by a shared station: either a
// top-of-book Book or an account balance map, never both.
type Snapshot struct {
	Book     *Book
	Balances map[string]Balance
	At       time.Time
}

// Event is a fire-and-forget notification payload keyed by a channel ID
// (typically a config fingerprint).
type Event struct {
	Error   bool        `json:"error"`
	Message string      `json:"message"`
	Stats   *RobotStats `json:"stats,omitempty"`
}

// EventBus publishes raw payloads to a named channel. Implementations must
// never let a publish failure affect trading.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ConfigStore persists strategy configurations keyed by fingerprint.
type ConfigStore interface {
	Create(ctx context.Context, cfg StrategyConfig) error
	Get(ctx context.Context, sha string) (StrategyConfig, error)
	Delete(ctx context.Context, sha string) error
	List(ctx context.Context) ([]StrategyConfig, error)
}
