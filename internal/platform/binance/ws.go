package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/ecelik/mirrorbot/internal/domain"
	"github.com/ecelik/mirrorbot/internal/stream"
)

// bookStream adapts the connector's callback-style book-ticker feed to the
// pull-style stream interface. The connector runs its own read goroutine;
// ticks are handed over on a small channel where the newest tick wins.
type bookStream struct {
	ticks chan domain.BookTick
	errs  chan error
	doneC chan struct{}
	stopC chan struct{}

	closeOnce sync.Once
}

// NewBookStreamFactory returns a stream factory for the symbol's best
// bid/ask feed. Wrap it in stream.NewResilient to survive disconnects.
// Testnet selection is a package-level switch in the connector, shared with
// the REST client.
func NewBookStreamFactory(symbol string, testnet bool) stream.Factory[domain.BookTick] {
	return func(ctx context.Context) (stream.Stream[domain.BookTick], error) {
		gobinance.UseTestnet = testnet
		s := &bookStream{
			ticks: make(chan domain.BookTick, 16),
			errs:  make(chan error, 1),
		}

		handler := func(ev *gobinance.WsBookTickerEvent) {
			bid, err := strconv.ParseFloat(ev.BestBidPrice, 64)
			if err != nil {
				s.fail(fmt.Errorf("binance: parse bid %q: %w", ev.BestBidPrice, err))
				return
			}
			ask, err := strconv.ParseFloat(ev.BestAskPrice, 64)
			if err != nil {
				s.fail(fmt.Errorf("binance: parse ask %q: %w", ev.BestAskPrice, err))
				return
			}
			s.push(domain.BookTick{
				Exchange: "binance",
				Symbol:   ev.Symbol,
				Ask:      ask,
				Bid:      bid,
				At:       time.Now(),
			})
		}
		errHandler := func(err error) {
			s.fail(fmt.Errorf("binance: book ticker: %w: %v", domain.ErrWSDisconnect, err))
		}

		doneC, stopC, err := gobinance.WsBookTickerServe(symbol, handler, errHandler)
		if err != nil {
			return nil, fmt.Errorf("binance: subscribe %s: %w", symbol, err)
		}
		s.doneC = doneC
		s.stopC = stopC
		return s, nil
	}
}

// push hands a tick to the reader. When the buffer is full the oldest tick
// is discarded; the robot only ever cares about the freshest book.
func (s *bookStream) push(t domain.BookTick) {
	select {
	case s.ticks <- t:
	default:
		select {
		case <-s.ticks:
		default:
		}
		select {
		case s.ticks <- t:
		default:
		}
	}
}

func (s *bookStream) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Recv implements stream.Stream.
func (s *bookStream) Recv(ctx context.Context) (domain.BookTick, error) {
	var zero domain.BookTick
	select {
	case t := <-s.ticks:
		return t, nil
	case err := <-s.errs:
		return zero, err
	case <-s.doneC:
		return zero, domain.ErrWSDisconnect
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close implements stream.Stream.
func (s *bookStream) Close() error {
	s.closeOnce.Do(func() { close(s.stopC) })
	return nil
}
