package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel name schema. Stats snapshots and robot events are fanned out per
// fingerprint so dashboards can subscribe to a single strategy or to
// "mirrorbot:stats:*" for everything.
const (
	statsChannelPrefix  = "mirrorbot:stats:"
	eventsChannelPrefix = "mirrorbot:events:"
)

// StatsChannel returns the Pub/Sub channel carrying a strategy's periodic
// stats snapshots.
func StatsChannel(sha string) string { return statsChannelPrefix + sha }

// EventsChannel returns the Pub/Sub channel carrying a strategy's lifecycle
// and error events.
func EventsChannel(sha string) string { return eventsChannelPrefix + sha }

// EventBus implements domain.EventBus using Redis Pub/Sub. Delivery is
// ephemeral: a subscriber that is not listening at publish time misses the
// message, which is the right trade for live telemetry.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Pub/Sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a read-only channel
// of raw payloads. Glob-style channel names use pattern subscriptions. The
// subscription closes with the context; the returned channel closes with it.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	for _, r := range channel {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
