package domain

import "time"

// Pair is a base/quote asset pair, e.g. {ETH, USDT}.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Symbol returns the concatenated exchange symbol, e.g. "ETHUSDT".
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

// String implements fmt.Stringer.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Book is a top-of-book snapshot for one exchange symbol. A zero Ask or Bid
// means that side has not been observed yet.
type Book struct {
	Ask       float64   `json:"ask"`
	Bid       float64   `json:"bid"`
	Seen      int64     `json:"seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Known reports whether both sides of the book have been observed.
func (b Book) Known() bool {
	return b.Ask > 0 && b.Bid > 0
}

// Mid returns the mid price, or 0 when the book is not yet known.
func (b Book) Mid() float64 {
	if !b.Known() {
		return 0
	}
	return (b.Ask + b.Bid) / 2
}

// SpreadBps returns the bid-ask spread in basis points relative to the mid.
func (b Book) SpreadBps() float64 {
	mid := b.Mid()
	if mid == 0 {
		return 0
	}
	return (b.Ask - b.Bid) / mid * 10000
}

// BookTick is one raw top-of-book update from an exchange stream.
type BookTick struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Ask      float64   `json:"ask"`
	Bid      float64   `json:"bid"`
	At       time.Time `json:"at"`
}
