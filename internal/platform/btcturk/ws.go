package btcturk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ecelik/mirrorbot/internal/domain"
	"github.com/ecelik/mirrorbot/internal/stream"
)

const (
	// DefaultWSURL is the production WebSocket feed.
	DefaultWSURL = "wss://ws-feed-pro.btcturk.com"

	wsHandshakeTimeout = 15 * time.Second
	wsWriteWait        = 10 * time.Second
	wsReadWait         = 60 * time.Second
)

// Message type codes of the feed protocol. Every frame is a two-element
// JSON array: [code, payload].
const (
	msgSubscribe  = 151
	msgTickerPair = 402
)

// tickerPayload is the ticker event payload. The feed abbreviates field
// names: B best bid, A best ask, PS pair symbol.
type tickerPayload struct {
	Bid    string `json:"B"`
	Ask    string `json:"A"`
	Symbol string `json:"PS"`
}

// bookStream is one physical ticker subscription. It yields a BookTick per
// ticker frame; redialing on failure is the caller's concern.
type bookStream struct {
	conn   *websocket.Conn
	symbol string
}

// NewBookStreamFactory returns a stream factory that dials the ticker feed
// for symbol. Wrap it in stream.NewResilient to survive disconnects.
func NewBookStreamFactory(wsURL string, symbol string) stream.Factory[domain.BookTick] {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return func(ctx context.Context) (stream.Stream[domain.BookTick], error) {
		dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("btcturk: dial %s: %w", wsURL, err)
		}

		sub := []any{msgSubscribe, map[string]any{
			"type":    msgSubscribe,
			"channel": "ticker",
			"event":   symbol,
			"join":    true,
		}}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return nil, fmt.Errorf("btcturk: subscribe %s: %w", symbol, err)
		}

		return &bookStream{conn: conn, symbol: symbol}, nil
	}
}

// Recv blocks until the next ticker frame for the subscribed pair. Frames
// for other message types are skipped; malformed ticker payloads are a
// non-recoverable error so the owning station restarts the subscription.
func (s *bookStream) Recv(ctx context.Context) (domain.BookTick, error) {
	var zero domain.BookTick

	// gorilla reads do not take a context; a deadline bounds each read and
	// a watcher closes the connection on cancellation to unblock it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, fmt.Errorf("btcturk: read: %w", err)
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) != 2 {
			return zero, fmt.Errorf("btcturk: malformed frame: %s", string(raw))
		}
		var code int
		if err := json.Unmarshal(frame[0], &code); err != nil {
			return zero, fmt.Errorf("btcturk: malformed frame code: %w", err)
		}
		if code != msgTickerPair {
			continue
		}

		var p tickerPayload
		if err := json.Unmarshal(frame[1], &p); err != nil {
			return zero, fmt.Errorf("btcturk: decode ticker: %w", err)
		}
		if p.Symbol != s.symbol {
			continue
		}
		bid, err := strconv.ParseFloat(p.Bid, 64)
		if err != nil {
			return zero, fmt.Errorf("btcturk: parse bid %q: %w", p.Bid, err)
		}
		ask, err := strconv.ParseFloat(p.Ask, 64)
		if err != nil {
			return zero, fmt.Errorf("btcturk: parse ask %q: %w", p.Ask, err)
		}

		return domain.BookTick{
			Exchange: "btcturk",
			Symbol:   p.Symbol,
			Ask:      ask,
			Bid:      bid,
			At:       time.Now(),
		}, nil
	}
}

// Close implements stream.Stream.
func (s *bookStream) Close() error {
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait),
	)
	return s.conn.Close()
}
