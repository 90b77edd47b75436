package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// scriptedStream yields the queued items, then keeps returning err.
type scriptedStream struct {
	items  []string
	err    error
	closed bool
}

func (s *scriptedStream) Recv(ctx context.Context) (string, error) {
	if len(s.items) > 0 {
		item := s.items[0]
		s.items = s.items[1:]
		return item, nil
	}
	return "", s.err
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastConfig() Config {
	return Config{RedialDelay: time.Millisecond, MaxRedialDelay: 5 * time.Millisecond}
}

func TestRecvSurvivesRecoverableDialFailures(t *testing.T) {
	dials := 0
	factory := func(ctx context.Context) (Stream[string], error) {
		dials++
		if dials <= 2 {
			return nil, fmt.Errorf("dial: %w", syscall.ECONNREFUSED)
		}
		return &scriptedStream{items: []string{"tick1", "tick2"}, err: io.EOF}, nil
	}

	r := NewResilient(factory, fastConfig(), testLogger())
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tick1", msg)
	assert.Equal(t, 3, dials)

	msg, err = r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tick2", msg)
}

func TestRecvRedialsOnRecoverableStreamError(t *testing.T) {
	streams := []*scriptedStream{
		{items: []string{"a"}, err: syscall.ECONNRESET},
		{items: []string{"b"}, err: io.EOF},
	}
	dials := 0
	factory := func(ctx context.Context) (Stream[string], error) {
		s := streams[dials]
		dials++
		return s, nil
	}

	r := NewResilient(factory, fastConfig(), testLogger())
	defer r.Close()

	var reconnects []error
	r.OnReconnect = func(err error) { reconnects = append(reconnects, err) }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", msg)

	// The reset on the first stream must be absorbed, not surfaced.
	msg, err = r.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", msg)

	assert.True(t, streams[0].closed, "broken stream must be closed")
	require.Len(t, reconnects, 1)
	assert.ErrorIs(t, reconnects[0], syscall.ECONNRESET)
}

func TestRecvPropagatesFatalErrors(t *testing.T) {
	parseErr := errors.New("parse: unexpected payload")
	factory := func(ctx context.Context) (Stream[string], error) {
		return &scriptedStream{err: parseErr}, nil
	}

	r := NewResilient(factory, fastConfig(), testLogger())
	defer r.Close()

	_, err := r.Recv(context.Background())
	assert.ErrorIs(t, err, parseErr)
}

func TestRecvStopsOnCancel(t *testing.T) {
	factory := func(ctx context.Context) (Stream[string], error) {
		return &scriptedStream{err: io.EOF}, nil
	}

	r := NewResilient(factory, Config{RedialDelay: time.Hour, MaxRedialDelay: time.Hour}, testLogger())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecoverableClassification(t *testing.T) {
	assert.True(t, Recoverable(io.EOF))
	assert.True(t, Recoverable(fmt.Errorf("wrapped: %w", syscall.ECONNABORTED)))
	assert.True(t, Recoverable(context.DeadlineExceeded))
	assert.True(t, Recoverable(domain.ErrMaxReconnect))
	assert.False(t, Recoverable(context.Canceled))
	assert.False(t, Recoverable(errors.New("bad json")))
	assert.False(t, Recoverable(nil))
}
