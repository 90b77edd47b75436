package domain

import "time"

// Side identifies the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is an open order as reported by the follower exchange.
type Order struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
}

// OrderResult is the outcome of one limit-order submission. Delivered is true
// only when the exchange acknowledged the order and returned an order ID;
// everything else counts as "not delivered".
type OrderResult struct {
	OrderID string  `json:"order_id"`
	Symbol  string  `json:"symbol"`
	Side    Side    `json:"side"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`

	Delivered bool   `json:"delivered"`
	Message   string `json:"message,omitempty"`
}

// OrderLogEntry is one line of a robot's order telemetry log.
type OrderLogEntry struct {
	At      time.Time `json:"at"`
	Side    Side      `json:"side"`
	Price   float64   `json:"price"`
	Qty     float64   `json:"qty"`
	OrderID string    `json:"order_id"`
}

// Balance is the free/locked holdings of a single asset.
type Balance struct {
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked holdings.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}
