// Package usage records resource consumption events and aggregates them
// over counting windows, with a short-lived cache in front of the sums.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/classify"
	"github.com/calyxlabs/calyx/internal/counter"
	"github.com/calyxlabs/calyx/internal/idgen"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/store"
)

// DefaultCacheTTL bounds how stale an aggregated total may be.
const DefaultCacheTTL = 5 * time.Minute

// RecordResult reports what happened to one observed message.
type RecordResult struct {
	// Counted is false when the classifier exempted the message.
	Counted bool
	// Decision explains which rule fired.
	Decision classify.Result
	// EventID is set when an event was written.
	EventID string
}

// Counter turns observed actions into stored usage events and answers
// windowed totals.
type Counter struct {
	store    store.Store
	cache    counter.Backend
	cacheTTL time.Duration
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Counter.
type Option func(*Counter)

// WithCache installs a cache backend for aggregated totals.
func WithCache(b counter.Backend, ttl time.Duration) Option {
	return func(c *Counter) {
		c.cache = b
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithLocation sets the timezone windows are computed in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Counter) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithNowFunc overrides the clock. Test hook.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

func NewCounter(st store.Store, logger *slog.Logger, opts ...Option) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Counter{
		store:    st,
		cacheTTL: DefaultCacheTTL,
		loc:      time.UTC,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordMessage classifies text and, when the message counts, writes a usage
// event. Exempt messages produce no event and no error.
func (c *Counter) RecordMessage(ctx context.Context, userID, text string) (RecordResult, error) {
	decision := classify.Classify(text)
	if decision.Decision == classify.Exempt {
		return RecordResult{Counted: false, Decision: decision}, nil
	}

	id, err := c.Record(ctx, userID, model.ResourceMessage, 1, nil)
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{Counted: true, Decision: decision, EventID: id}, nil
}

// Record writes a usage event unconditionally and invalidates cached totals
// for the (user, kind) pair. Returns the new event's ID.
func (c *Counter) Record(ctx context.Context, userID string, kind model.ResourceKind, quantity int64, metadata json.RawMessage) (string, error) {
	if !kind.IsValid() {
		return "", fmt.Errorf("record usage: unknown resource kind %q", kind)
	}
	if quantity <= 0 {
		quantity = 1
	}

	event := &model.UsageEvent{
		ID:         idgen.NewUsageID(),
		UserID:     userID,
		Kind:       kind,
		Quantity:   quantity,
		OccurredAt: c.now().UTC(),
		Metadata:   metadata,
	}
	if err := c.store.RecordUsage(ctx, event); err != nil {
		return "", err
	}
	c.invalidate(ctx, userID, kind)
	return event.ID, nil
}

// WindowTotal returns the summed quantity for (user, kind) in the window
// containing now. Totals are served from the cache when present; a cache
// failure falls through to the database.
func (c *Counter) WindowTotal(ctx context.Context, userID string, kind model.ResourceKind, window model.Window) (int64, error) {
	key := c.cacheKey(userID, kind, window)
	if c.cache != nil {
		if v, found, err := c.cache.Get(ctx, key); err == nil && found {
			if total, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				return total, nil
			}
		}
	}

	total, err := TotalInWindow(ctx, c.store, userID, kind, window, c.now(), c.loc)
	if err != nil {
		return 0, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, strconv.FormatInt(total, 10), c.cacheTTL); err != nil {
			c.logger.Warn("usage cache set failed", "backend", c.cache.Name(), "error", err)
		}
	}
	return total, nil
}

// TotalInWindow sums usage for the window containing now using the given
// transaction or store handle directly, with no cache. The quota guard calls
// this inside its serializable transaction.
func TotalInWindow(ctx context.Context, tx store.Tx, userID string, kind model.ResourceKind, window model.Window, now time.Time, loc *time.Location) (int64, error) {
	since, until := Bounds(window, now, loc)
	return tx.SumUsage(ctx, model.UsageFilter{
		UserID: userID,
		Kind:   kind,
		Since:  since,
		Until:  until,
	})
}

// Snapshot builds the per-resource usage view for one user at their current
// tier, one entry per configured limit.
func (c *Counter) Snapshot(ctx context.Context, userID string, tier model.Tier, cat *catalog.Catalog) ([]model.ResourceUsage, error) {
	spec := cat.Spec(tier)
	var out []model.ResourceUsage
	for _, kind := range model.Kinds {
		for _, wl := range spec.Limits[kind] {
			used, err := c.WindowTotal(ctx, userID, kind, wl.Window)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s/%s: %w", kind, wl.Window, err)
			}
			out = append(out, model.ResourceUsage{
				Kind:      kind,
				Window:    wl.Window,
				Used:      used,
				Limit:     wl.Ceiling,
				Remaining: model.Remaining(used, wl.Ceiling),
			})
		}
	}
	return out, nil
}

// Invalidate drops cached totals for (user, kind). Callers that write events
// through their own transaction use it after commit.
func (c *Counter) Invalidate(ctx context.Context, userID string, kind model.ResourceKind) {
	c.invalidate(ctx, userID, kind)
}

func (c *Counter) cacheKey(userID string, kind model.ResourceKind, window model.Window) string {
	start, _ := Bounds(window, c.now(), c.loc)
	return fmt.Sprintf("usage:%s:%s:%s:%d", userID, kind, window, start.Unix())
}

func (c *Counter) invalidate(ctx context.Context, userID string, kind model.ResourceKind) {
	if c.cache == nil {
		return
	}
	for _, w := range []model.Window{model.WindowDaily, model.WindowWeekly, model.WindowMonthly, model.WindowAll} {
		if err := c.cache.Delete(ctx, c.cacheKey(userID, kind, w)); err != nil {
			c.logger.Warn("usage cache invalidate failed", "backend", c.cache.Name(), "error", err)
		}
	}
}
