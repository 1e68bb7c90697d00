package archive

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/calyxlabs/calyx/internal/store"
)

// Destination is an export target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// DefaultRetention is how far back each export reaches.
const DefaultRetention = 90 * 24 * time.Hour

// Scheduler exports the trailing retention window to every destination on a
// fixed interval. Run blocks until its context is cancelled, so the caller
// owns the goroutine.
type Scheduler struct {
	store     store.Store
	dests     []Destination
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	now func() time.Time
}

func NewScheduler(s store.Store, dests []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     s,
		dests:     dests,
		interval:  interval,
		retention: DefaultRetention,
		logger:    logger,
		now:       time.Now,
	}
}

// Run exports once immediately, then on every tick, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.export(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.export(ctx)
		}
	}
}

func (s *Scheduler) export(ctx context.Context) {
	since := s.now().UTC().Add(-s.retention)

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, since, &buf); err != nil {
		s.logger.Error("archive export failed", "err", err)
		return
	}

	ok := 0
	for i, dest := range s.dests {
		if err := dest.Write(ctx, buf.Bytes()); err != nil {
			s.logger.Error("archive write failed", "destination", i, "err", err)
			continue
		}
		ok++
	}
	s.logger.Info("archive export done", "written", ok, "destinations", len(s.dests), "bytes", buf.Len())
}
