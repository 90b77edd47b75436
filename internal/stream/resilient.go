// Package stream provides a resilient wrapper that keeps a logical message
// stream alive across physical connection failures. Consumers read through
// Recv and never observe recoverable transport errors; only genuine logic
// failures (parse errors and the like) propagate, so the owning station can
// restart the whole publisher.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// Stream is a single physical connection yielding parsed messages.
type Stream[T any] interface {
	// Recv blocks until the next message, a transport error, or ctx is done.
	Recv(ctx context.Context) (T, error)
	Close() error
}

// Factory dials a fresh physical stream.
type Factory[T any] func(ctx context.Context) (Stream[T], error)

// Config controls the redial policy. The source system reconnected
// immediately; a capped backoff with jitter avoids a tight failure loop
// against a misbehaving exchange while still never giving up.
type Config struct {
	RedialDelay    time.Duration
	MaxRedialDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RedialDelay <= 0 {
		c.RedialDelay = 250 * time.Millisecond
	}
	if c.MaxRedialDelay <= 0 {
		c.MaxRedialDelay = 30 * time.Second
	}
	return c
}

// Resilient is a logical stream over a Factory. Not safe for concurrent Recv
// calls; each station owns exactly one.
type Resilient[T any] struct {
	factory Factory[T]
	cfg     Config
	logger  *slog.Logger

	// OnReconnect, when set, is invoked with the error that triggered each
	// redial. Used for telemetry; must not block.
	OnReconnect func(error)

	cur      Stream[T]
	failures int
}

// NewResilient wraps factory into a never-terminating logical stream.
func NewResilient[T any](factory Factory[T], cfg Config, logger *slog.Logger) *Resilient[T] {
	return &Resilient[T]{
		factory: factory,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "resilient_stream")),
	}
}

// Recv returns the next message from the logical stream. Recoverable
// transport failures are absorbed by redialing; any other error is returned
// to the caller and the underlying stream is closed.
func (r *Resilient[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		if r.cur == nil {
			s, err := r.factory(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return zero, ctx.Err()
				}
				if !Recoverable(err) {
					return zero, err
				}
				if herr := r.redial(ctx, err); herr != nil {
					return zero, herr
				}
				continue
			}
			r.cur = s
			r.failures = 0
		}

		msg, err := r.cur.Recv(ctx)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			r.Close()
			return zero, ctx.Err()
		}
		r.dropCurrent()
		if !Recoverable(err) {
			return zero, err
		}
		if herr := r.redial(ctx, err); herr != nil {
			return zero, herr
		}
	}
}

// Close releases the current physical stream, if any.
func (r *Resilient[T]) Close() {
	r.dropCurrent()
}

func (r *Resilient[T]) dropCurrent() {
	if r.cur != nil {
		_ = r.cur.Close()
		r.cur = nil
	}
}

// redial logs the failure, notifies telemetry, and sleeps the backoff delay.
func (r *Resilient[T]) redial(ctx context.Context, cause error) error {
	r.failures++
	r.logger.Warn("stream disconnected, redialing",
		slog.Int("failures", r.failures),
		slog.String("error", cause.Error()),
	)
	if r.OnReconnect != nil {
		r.OnReconnect(cause)
	}

	delay := r.backoff()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns the capped exponential redial delay with up to 25% jitter.
func (r *Resilient[T]) backoff() time.Duration {
	d := r.cfg.RedialDelay << (r.failures - 1)
	if r.failures > 16 || d > r.cfg.MaxRedialDelay || d <= 0 {
		d = r.cfg.MaxRedialDelay
	}
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

// Recoverable reports whether err is a transient transport failure that the
// resilient stream should absorb by redialing. Everything else is fatal for
// the logical stream.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, domain.ErrMaxReconnect) ||
		errors.Is(err, domain.ErrWSDisconnect) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return false
}
