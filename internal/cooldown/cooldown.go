// Package cooldown enforces minimum inter-action spacing per (user, action
// kind). It is an anti-spam nicety, not a security boundary: every failure
// path degrades toward allowing the action.
package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/counter"
	"github.com/calyxlabs/calyx/internal/model"
)

// ttlMargin is added to the backend expiry so a mark never vanishes a hair
// before the cooldown it guards has elapsed.
const ttlMargin = time.Second

// knownActions enumerates every action kind a mark can exist for; used by
// Reset when no specific kind is given.
var knownActions = []string{
	catalog.ActionMessage,
	catalog.ActionWorldMessage,
	catalog.ActionImageAnalysis,
	catalog.ActionVoiceMessage,
}

// Status is the outcome of a cooldown check.
type Status struct {
	Allowed       bool
	WaitRemaining time.Duration
}

// Tracker checks and records cooldown marks. The primary backend (networked)
// is preferred per call; any I/O error falls back to the in-process backend
// for that call only, so primary recovery is picked up automatically.
type Tracker struct {
	primary  counter.Backend // nil when no networked backend is configured
	fallback counter.Backend
	catalog  *catalog.Catalog
	logger   *slog.Logger

	now func() time.Time
}

// New creates a tracker. primary may be nil; fallback must not be.
func New(primary, fallback counter.Backend, cat *catalog.Catalog, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		primary:  primary,
		fallback: fallback,
		catalog:  cat,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNowFunc overrides the time source. Test hook.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.now = now
}

// Check reports whether an action of the given kind is allowed now. It never
// returns an error: if no backend is reachable the check fails open.
func (t *Tracker) Check(ctx context.Context, userID, actionKind string, tier model.Tier) Status {
	duration := t.catalog.CooldownFor(tier, actionKind)
	if duration <= 0 {
		return Status{Allowed: true}
	}

	value, found, ok := t.get(ctx, markKey(userID, actionKind))
	if !ok {
		// Both backends down. Spam protection yields; the quota guard is
		// still authoritative downstream.
		t.logger.Warn("cooldown check failing open",
			"user_id", userID, "action_kind", actionKind)
		return Status{Allowed: true}
	}
	if !found {
		return Status{Allowed: true}
	}

	last, err := parseMark(value)
	if err != nil {
		t.logger.Warn("cooldown mark unparseable, ignoring",
			"user_id", userID, "action_kind", actionKind, "error", err)
		return Status{Allowed: true}
	}

	elapsed := t.now().Sub(last)
	if elapsed >= duration {
		return Status{Allowed: true}
	}
	return Status{Allowed: false, WaitRemaining: duration - elapsed}
}

// Track overwrites the cooldown mark for (user, action kind) with the current
// time. Losing a mark only weakens anti-spam, so failures are logged and
// swallowed.
func (t *Tracker) Track(ctx context.Context, userID, actionKind string, tier model.Tier) {
	duration := t.catalog.CooldownFor(tier, actionKind)
	if duration <= 0 {
		return
	}

	key := markKey(userID, actionKind)
	value := formatMark(t.now())
	ttl := duration + ttlMargin

	if t.primary != nil {
		err := t.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return
		}
		t.logger.Warn("cooldown track falling back",
			"user_id", userID, "action_kind", actionKind,
			"backend", t.primary.Name(), "error", err)
	}
	if err := t.fallback.Set(ctx, key, value, ttl); err != nil {
		t.logger.Warn("cooldown track dropped",
			"user_id", userID, "action_kind", actionKind,
			"backend", t.fallback.Name(), "error", err)
	}
}

// Reset clears the cooldown mark for one action kind, or for all known kinds
// when actionKind is empty. Marks are deleted from both backends because a
// mark may live in either after a failover.
func (t *Tracker) Reset(ctx context.Context, userID, actionKind string) {
	kinds := knownActions
	if actionKind != "" {
		kinds = []string{actionKind}
	}
	for _, kind := range kinds {
		key := markKey(userID, kind)
		if t.primary != nil {
			if err := t.primary.Delete(ctx, key); err != nil {
				t.logger.Warn("cooldown reset failed on backend",
					"user_id", userID, "action_kind", kind,
					"backend", t.primary.Name(), "error", err)
			}
		}
		if err := t.fallback.Delete(ctx, key); err != nil {
			t.logger.Warn("cooldown reset failed on backend",
				"user_id", userID, "action_kind", kind,
				"backend", t.fallback.Name(), "error", err)
		}
	}
}

// get reads a mark with per-call failover. ok=false means no backend
// answered.
func (t *Tracker) get(ctx context.Context, key string) (value string, found, ok bool) {
	if t.primary != nil {
		value, found, err := t.primary.Get(ctx, key)
		if err == nil {
			return value, found, true
		}
		t.logger.Warn("cooldown check falling back",
			"backend", t.primary.Name(), "error", err)
	}
	value, found, err := t.fallback.Get(ctx, key)
	if err != nil {
		return "", false, false
	}
	return value, found, true
}

func markKey(userID, actionKind string) string {
	return fmt.Sprintf("cooldown:%s:%s", userID, actionKind)
}

func formatMark(at time.Time) string {
	return strconv.FormatInt(at.UnixNano(), 10)
}

func parseMark(value string) (time.Time, error) {
	ns, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse mark %q: %w", value, err)
	}
	return time.Unix(0, ns), nil
}
