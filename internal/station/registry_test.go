package station

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecelik/mirrorbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testKey() Key {
	return Key{Exchange: "btcturk", Network: domain.NetworkTestnet, Topic: "ETHUSDT"}
}

// blockingPublisher publishes one snapshot then blocks until cancelled.
func blockingPublisher(started *atomic.Int32) func() Publisher {
	return func() Publisher {
		return PublisherFunc(func(ctx context.Context, publish func(domain.Snapshot)) error {
			started.Add(1)
			publish(domain.Snapshot{Book: &domain.Book{Ask: 101, Bid: 99}})
			<-ctx.Done()
			return ctx.Err()
		})
	}
}

func TestReferenceCounting(t *testing.T) {
	r := NewRegistry(Config{}, testLogger())
	defer r.Close()

	var started atomic.Int32
	factory := blockingPublisher(&started)

	const n = 3
	handles := make([]*Handle, 0, n)
	for i := 0; i < n; i++ {
		h, isNew := r.Subscribe(testKey(), factory)
		assert.Equal(t, i == 0, isNew, "only the first subscribe starts a station")
		handles = append(handles, h)
	}
	assert.Equal(t, 1, r.Len(), "all listeners share one station")

	// All handles see the same station instance and the same snapshot.
	first := handles[0].Station()
	for _, h := range handles[1:] {
		assert.Same(t, first, h.Station())
	}

	// N-1 unsubscribes leave the station alive.
	for _, h := range handles[:n-1] {
		r.Unsubscribe(h)
	}
	assert.Equal(t, 1, r.Len())

	// The Nth tears it down.
	r.Unsubscribe(handles[n-1])
	assert.Equal(t, 0, r.Len())

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("station publisher did not stop after last unsubscribe")
	}

	// Re-subscribing creates a fresh station, not the torn-down one.
	h, isNew := r.Subscribe(testKey(), factory)
	defer r.Unsubscribe(h)
	assert.True(t, isNew)
	assert.NotSame(t, first, h.Station())

	require.Eventually(t, func() bool { return started.Load() == 2 },
		time.Second, 5*time.Millisecond, "fresh station must start a new publisher")
}

func TestUnsubscribeIdempotent(t *testing.T) {
	r := NewRegistry(Config{}, testLogger())
	defer r.Close()

	var started atomic.Int32
	h1, _ := r.Subscribe(testKey(), blockingPublisher(&started))
	h2, _ := r.Subscribe(testKey(), blockingPublisher(&started))

	r.Unsubscribe(h1)
	r.Unsubscribe(h1) // double release must not steal h2's reference
	assert.Equal(t, 1, r.Len())

	r.Unsubscribe(h2)
	assert.Equal(t, 0, r.Len())
}

func TestPublisherRestartOnFailure(t *testing.T) {
	r := NewRegistry(Config{RestartDelay: time.Millisecond, MaxRestartDelay: 2 * time.Millisecond}, testLogger())
	defer r.Close()

	var failures atomic.Int32
	r.OnError = func(key Key, err error) { failures.Add(1) }

	var runs atomic.Int32
	factory := func() Publisher {
		return PublisherFunc(func(ctx context.Context, publish func(domain.Snapshot)) error {
			n := runs.Add(1)
			if n <= 2 {
				return errors.New("feed parse failure")
			}
			publish(domain.Snapshot{Book: &domain.Book{Ask: 50, Bid: 49}})
			<-ctx.Done()
			return ctx.Err()
		})
	}

	h, _ := r.Subscribe(testKey(), factory)
	defer r.Unsubscribe(h)

	// The publisher fails twice, restarts each time, and the listener is
	// never disturbed: the snapshot from the third run arrives.
	require.Eventually(t, func() bool {
		snap, ok := h.Latest()
		return ok && snap.Book != nil && snap.Book.Ask == 50
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, failures.Load(), int32(2))
	assert.Equal(t, 1, r.Len(), "restarts must not change the station identity")
}

func TestConflatedUpdates(t *testing.T) {
	r := NewRegistry(Config{}, testLogger())
	defer r.Close()

	publishCh := make(chan domain.Book)
	factory := func() Publisher {
		return PublisherFunc(func(ctx context.Context, publish func(domain.Snapshot)) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case b := <-publishCh:
					publish(domain.Snapshot{Book: &b})
				}
			}
		})
	}

	h, _ := r.Subscribe(testKey(), factory)
	defer r.Unsubscribe(h)

	// Burst of updates: the listener sees at most one pending wakeup and
	// always reads the newest snapshot.
	for i := 1; i <= 5; i++ {
		publishCh <- domain.Book{Ask: float64(100 + i), Bid: float64(99 + i)}
	}

	require.Eventually(t, func() bool { return h.Station().Seen() == 5 },
		time.Second, time.Millisecond)

	<-h.Updates()
	snap, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 105.0, snap.Book.Ask)

	select {
	case <-h.Updates():
		t.Fatal("wakeups must be conflated to a single pending signal")
	default:
	}
}

func TestStaleSnapshotReadsAsUnknown(t *testing.T) {
	r := NewRegistry(Config{StaleAfter: 20 * time.Millisecond}, testLogger())
	defer r.Close()

	var started atomic.Int32
	h, _ := r.Subscribe(testKey(), blockingPublisher(&started))
	defer r.Unsubscribe(h)

	require.Eventually(t, func() bool {
		_, ok := h.Latest()
		return ok
	}, time.Second, time.Millisecond)

	// After the staleness window passes with no update, the book reads as
	// unknown even though the last value is still retained.
	require.Eventually(t, func() bool {
		snap, ok := h.Latest()
		return !ok && snap.Book != nil
	}, time.Second, 5*time.Millisecond)
}
