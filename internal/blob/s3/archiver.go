package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// OrderLogSource drains the pending order-log entries of every live robot,
// keyed by config fingerprint. Draining is destructive: entries handed out
// here are gone from the in-memory log.
type OrderLogSource interface {
	DrainOrderLogs() map[string][]domain.OrderLogEntry
}

// Archiver periodically snapshots robot order logs and uploads them as JSON
// objects at orderlogs/<sha>/<timestamp>.json. Uploads are best-effort: a
// failed flush is logged and the affected entries are dropped, never allowed
// to back-pressure trading.
type Archiver struct {
	writer *Writer
	source OrderLogSource
	every  time.Duration
	logger *slog.Logger
}

// NewArchiver creates an Archiver. A non-positive interval defaults to one
// minute.
func NewArchiver(writer *Writer, source OrderLogSource, every time.Duration, logger *slog.Logger) *Archiver {
	if every <= 0 {
		every = time.Minute
	}
	return &Archiver{
		writer: writer,
		source: source,
		every:  every,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run flushes on a fixed interval until ctx is cancelled. One final flush
// runs during shutdown so entries from the last partial interval are not
// lost.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

func (a *Archiver) flush(ctx context.Context) {
	logs := a.source.DrainOrderLogs()
	if len(logs) == 0 {
		return
	}

	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	for sha, entries := range logs {
		payload, err := json.Marshal(entries)
		if err != nil {
			a.logger.Error("marshal order log",
				slog.String("sha", sha),
				slog.String("error", err.Error()),
			)
			continue
		}

		key := fmt.Sprintf("orderlogs/%s/%s.json", sha, stamp)
		if err := a.writer.Put(ctx, key, bytes.NewReader(payload), "application/json"); err != nil {
			a.logger.Error("upload order log",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}

		a.logger.Debug("order log archived",
			slog.String("key", key),
			slog.Int("entries", len(entries)),
		)
	}
}
