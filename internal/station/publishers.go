package station

import (
	"context"
	"fmt"
	"time"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// DefaultBalanceInterval is the balance poll period when none is configured.
const DefaultBalanceInterval = 10 * time.Second

// TickSource is the pull side of a logical market-data stream. It matches
// stream.Resilient over BookTick, which survives publisher restarts: Close
// only drops the physical connection, the next Recv redials.
type TickSource interface {
	Recv(ctx context.Context) (domain.BookTick, error)
	Close()
}

// NewBookPublisher folds raw ticks from src into a running top-of-book
// snapshot and publishes every update.
func NewBookPublisher(src TickSource) Publisher {
	return PublisherFunc(func(ctx context.Context, publish func(domain.Snapshot)) error {
		defer src.Close()

		var book domain.Book
		for {
			tick, err := src.Recv(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("station: book stream: %w", err)
			}
			if tick.At.IsZero() {
				tick.At = time.Now()
			}
			book.Ask = tick.Ask
			book.Bid = tick.Bid
			book.Seen++
			book.UpdatedAt = tick.At

			b := book
			publish(domain.Snapshot{Book: &b, At: tick.At})
		}
	})
}

// NewBalancePublisher polls the exchange account balances every interval and
// publishes each result. A failed poll restarts the publisher through the
// registry's backoff.
func NewBalancePublisher(client domain.ExchangeClient, every time.Duration) Publisher {
	if every <= 0 {
		every = DefaultBalanceInterval
	}
	return PublisherFunc(func(ctx context.Context, publish func(domain.Snapshot)) error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			balances, err := client.AccountBalances(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("station: balance poll %s: %w", client.Name(), err)
			}
			publish(domain.Snapshot{Balances: balances, At: time.Now()})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}
