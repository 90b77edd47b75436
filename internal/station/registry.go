// Package station deduplicates expensive external subscriptions across
// robots. A station is a shared background publisher for one market-data feed
// or balance poller, keyed by exchange, network, and topic. The registry
// reference-counts listeners: the first subscriber starts the publisher, the
// last unsubscribe tears it down, and an internal failure restarts the same
// publisher from scratch without disturbing the listeners.
package station

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// BalanceTopic is the topic used for account-balance stations, as opposed to
// a market symbol.
const BalanceTopic = "balance"

// Key identifies one shared station.
type Key struct {
	Exchange string
	Network  domain.Network
	Topic    string
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Exchange + "/" + string(k.Network) + "/" + k.Topic
}

// Publisher produces snapshots for one station. Run blocks until ctx is done
// or the publisher fails; every produced value goes through publish. A
// returned error restarts the publisher; ctx cancellation tears it down.
type Publisher interface {
	Run(ctx context.Context, publish func(domain.Snapshot)) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, publish func(domain.Snapshot)) error

// Run implements Publisher.
func (f PublisherFunc) Run(ctx context.Context, publish func(domain.Snapshot)) error {
	return f(ctx, publish)
}

// Config controls snapshot staleness and the publisher restart policy.
type Config struct {
	// StaleAfter bounds how old a snapshot may be before Latest reports it
	// as unknown. Zero disables the staleness check.
	StaleAfter time.Duration
	// RestartDelay and MaxRestartDelay bound the capped backoff between
	// publisher restarts.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RestartDelay <= 0 {
		c.RestartDelay = 500 * time.Millisecond
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = 30 * time.Second
	}
	return c
}

// Registry owns all live stations. Construct one per process and inject it;
// tests get isolated instances.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	// OnError, when set, receives every publisher failure before the
	// restart. Wired to the notifier; must not block.
	OnError func(key Key, err error)

	mu       sync.Mutex
	stations map[Key]*Station
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "station_registry")),
		stations: make(map[Key]*Station),
	}
}

// Subscribe registers a listener for key. When a live station already exists
// its listener count is incremented and the second return is false; otherwise
// a new station is built from factory, its publisher goroutine started, and
// the second return is true.
func (r *Registry) Subscribe(key Key, factory func() Publisher) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stations[key]
	if !ok {
		st = r.startStation(key, factory)
		r.stations[key] = st
	}

	h := &Handle{
		station: st,
		updates: make(chan struct{}, 1),
	}
	st.mu.Lock()
	st.listeners++
	st.subs[h] = struct{}{}
	st.mu.Unlock()

	return h, !ok
}

// Unsubscribe releases a listener. When the station's listener count reaches
// zero its publisher is cancelled and the station removed. Safe to call more
// than once per handle.
func (r *Registry) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	st := h.station
	st.mu.Lock()
	if _, ok := st.subs[h]; !ok {
		st.mu.Unlock()
		return
	}
	delete(st.subs, h)
	st.listeners--
	last := st.listeners == 0
	st.mu.Unlock()

	if last {
		st.cancel()
		if r.stations[st.key] == st {
			delete(r.stations, st.key)
		}
	}
}

// Len returns the number of live stations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stations)
}

// Close tears down every station regardless of listener counts. Used on
// process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, st := range r.stations {
		st.cancel()
		delete(r.stations, key)
	}
}

// startStation builds a Station and launches its supervised publisher loop.
// Caller holds r.mu.
func (r *Registry) startStation(key Key, factory func() Publisher) *Station {
	ctx, cancel := context.WithCancel(context.Background())
	st := &Station{
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[*Handle]struct{}),
		stale:  r.cfg.StaleAfter,
	}

	go r.supervise(ctx, st, factory)
	return st
}

// supervise runs the station's publisher, restarting it from scratch (a fresh
// publisher, a fresh physical connection) on every failure. Cancellation of
// ctx — the last listener dropping — is the only exit.
func (r *Registry) supervise(ctx context.Context, st *Station, factory func() Publisher) {
	defer close(st.done)

	log := r.logger.With(slog.String("station", st.key.String()))
	failures := 0
	for {
		err := factory().Run(ctx, st.publish)
		if ctx.Err() != nil {
			log.Info("station stopped")
			return
		}
		if err == nil {
			// Publishers only return early on failure or cancellation; a
			// nil return here is a publisher bug, restart anyway.
			err = domain.ErrWSDisconnect
		}

		failures++
		log.Error("station publisher failed, restarting",
			slog.Int("failures", failures),
			slog.String("error", err.Error()),
		)
		if r.OnError != nil {
			r.OnError(st.key, err)
		}

		delay := restartBackoff(r.cfg, failures)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("station stopped")
			return
		case <-timer.C:
		}
	}
}

// restartBackoff returns the capped exponential restart delay with jitter.
func restartBackoff(cfg Config, failures int) time.Duration {
	d := cfg.RestartDelay
	for i := 1; i < failures && d < cfg.MaxRestartDelay; i++ {
		d *= 2
	}
	if d > cfg.MaxRestartDelay {
		d = cfg.MaxRestartDelay
	}
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

// Station is one shared publisher. Robots only ever read its latest snapshot;
// the publisher goroutine is the sole writer.
type Station struct {
	key    Key
	cancel context.CancelFunc
	done   chan struct{}
	stale  time.Duration

	latest atomic.Pointer[domain.Snapshot]
	seen   atomic.Int64

	mu        sync.Mutex
	listeners int
	subs      map[*Handle]struct{}
}

// publish stores the snapshot as the new latest value and wakes every
// listener. Notifications are conflated: a listener that has not consumed the
// previous wakeup does not queue another.
func (st *Station) publish(s domain.Snapshot) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	st.latest.Store(&s)
	st.seen.Add(1)

	st.mu.Lock()
	for h := range st.subs {
		select {
		case h.updates <- struct{}{}:
		default:
		}
	}
	st.mu.Unlock()
}

// Seen returns the number of snapshots published so far.
func (st *Station) Seen() int64 {
	return st.seen.Load()
}

// Handle is one listener's view of a station.
type Handle struct {
	station *Station
	updates chan struct{}
}

// Key returns the station key this handle is subscribed to.
func (h *Handle) Key() Key {
	return h.station.key
}

// Updates returns a conflated wakeup channel: at most one pending signal, a
// receive means "the latest snapshot changed since you last looked".
func (h *Handle) Updates() <-chan struct{} {
	return h.updates
}

// Latest returns the station's most recent snapshot. The second return is
// false when nothing has been published yet or the snapshot is older than the
// staleness bound.
func (h *Handle) Latest() (domain.Snapshot, bool) {
	p := h.station.latest.Load()
	if p == nil {
		return domain.Snapshot{}, false
	}
	if h.station.stale > 0 && time.Since(p.At) > h.station.stale {
		return *p, false
	}
	return *p, true
}

// Station exposes the underlying station, primarily for tests that need to
// distinguish instances across teardown/re-subscribe cycles.
func (h *Handle) Station() *Station {
	return h.station
}
