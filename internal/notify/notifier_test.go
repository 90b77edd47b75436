package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecelik/mirrorbot/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

type recordingBus struct {
	channels []string
	payloads [][]byte
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, payload)
	return nil
}

func testChannel(sha string) string { return "events:" + sha }

func TestEventGoesToBusAndSenders(t *testing.T) {
	sender := &recordingSender{name: "telegram"}
	bus := &recordingBus{}
	n := NewNotifier([]Sender{sender}, bus, testChannel, nil, slog.New(slog.DiscardHandler))

	n.Event(context.Background(), "abcdef1234567890", domain.Event{Error: true, Message: "leader feed down"})

	require.Len(t, bus.channels, 1)
	assert.Equal(t, "events:abcdef1234567890", bus.channels[0])
	assert.Contains(t, string(bus.payloads[0]), "leader feed down")

	require.Len(t, sender.titles, 1)
	assert.Contains(t, sender.titles[0], "error")
	assert.Contains(t, sender.titles[0], "abcdef123456", "title carries the short fingerprint")
	assert.Equal(t, "leader feed down", sender.bodies[0])
}

func TestEventKindFilter(t *testing.T) {
	sender := &recordingSender{name: "discord"}
	bus := &recordingBus{}
	n := NewNotifier([]Sender{sender}, bus, testChannel, []string{EventError}, slog.New(slog.DiscardHandler))

	n.Event(context.Background(), "sha1", domain.Event{Message: "robot started"})
	assert.Empty(t, bus.channels, "info events are dropped by the filter")
	assert.Empty(t, sender.titles)

	n.Event(context.Background(), "sha1", domain.Event{Error: true, Message: "boom"})
	assert.Len(t, bus.channels, 1)
	assert.Len(t, sender.titles, 1)
}

func TestSenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "telegram", err: errors.New("chat not found")}
	good := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, nil, nil, slog.New(slog.DiscardHandler))

	n.Event(context.Background(), "sha1", domain.Event{Message: "hello"})

	assert.Empty(t, bad.titles)
	require.Len(t, good.titles, 1)
}
