// Package notify provides a multi-channel notification system. Robot events
// are flattened to text and dispatched to all registered senders (Telegram,
// Discord) and published in structured form to the Redis event bus, filtered
// by event kind so operators receive only the alerts they care about.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// Event kinds usable in the allowed-events filter.
const (
	EventError = "error"
	EventInfo  = "info"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// ChannelFunc maps a config fingerprint to the bus channel carrying its
// structured events.
type ChannelFunc func(sha string) string

// Notifier dispatches robot events. Text renditions go to every Sender;
// the structured event goes to the bus channel for the fingerprint. It
// maintains a set of allowed event kinds; events of other kinds are dropped.
// Failures are logged and swallowed: notifications never affect trading.
type Notifier struct {
	senders    []Sender
	bus        domain.EventBus
	channelFor ChannelFunc
	events     map[string]bool // allowed event kinds
	logger     *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders and,
// when bus is non-nil, publishes structured events via channelFor. Only
// events whose kind appears in the events slice are forwarded; if events is
// empty, all kinds are allowed.
func NewNotifier(senders []Sender, bus domain.EventBus, channelFor ChannelFunc, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:    senders,
		bus:        bus,
		channelFor: channelFor,
		events:     allowed,
		logger:     logger.With(slog.String("component", "notifier")),
	}
}

// Event implements the robot's notifier contract. sha is the config
// fingerprint the event belongs to.
func (n *Notifier) Event(ctx context.Context, sha string, ev domain.Event) {
	kind := EventInfo
	if ev.Error {
		kind = EventError
	}
	if len(n.events) > 0 && !n.events[kind] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("kind", kind),
			slog.String("sha", shortSha(sha)),
		)
		return
	}

	n.publish(ctx, sha, ev)

	title := fmt.Sprintf("mirrorbot %s [%s]", kind, shortSha(sha))
	n.dispatch(ctx, title, ev.Message)
}

// publish sends the structured event to the bus channel for sha.
func (n *Notifier) publish(ctx context.Context, sha string, ev domain.Event) {
	if n.bus == nil || n.channelFor == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.ErrorContext(ctx, "marshal event",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := n.bus.Publish(ctx, n.channelFor(sha), payload); err != nil {
		n.logger.ErrorContext(ctx, "publish event",
			slog.String("sha", shortSha(sha)),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch iterates over all senders. A single sender failure does not
// prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

func shortSha(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
