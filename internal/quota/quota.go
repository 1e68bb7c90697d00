// Package quota enforces per-tier resource ceilings. The guard is
// fail-closed: any doubt about the current count denies the action.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/store"
	"github.com/calyxlabs/calyx/internal/usage"
)

// Guard checks resource consumption against the tier limit table.
type Guard struct {
	catalog *catalog.Catalog
	loc     *time.Location
	now     func() time.Time
}

func NewGuard(cat *catalog.Catalog) *Guard {
	return &Guard{catalog: cat, loc: time.UTC, now: time.Now}
}

// SetLocation sets the timezone counting windows are computed in.
func (g *Guard) SetLocation(loc *time.Location) {
	if loc != nil {
		g.loc = loc
	}
}

// SetNowFunc overrides the clock. Test hook.
func (g *Guard) SetNowFunc(now func() time.Time) { g.now = now }

// Reserve checks every configured window ceiling for (tier, kind) against
// current totals read through tx. It returns *model.QuotaExceededError when
// any ceiling is reached and writes nothing itself; the caller records the
// usage event on the same tx so that check and commit are atomic. Callers
// must pass a handle obtained from RunSerializable, otherwise two concurrent
// requests can both pass the check.
func (g *Guard) Reserve(ctx context.Context, tx store.Tx, userID string, kind model.ResourceKind, tier model.Tier) error {
	limits := g.catalog.LimitsFor(tier, kind)
	now := g.now()

	for _, wl := range limits {
		if model.IsUnlimited(wl.Ceiling) {
			continue
		}

		current, err := usage.TotalInWindow(ctx, tx, userID, kind, wl.Window, now, g.loc)
		if err != nil {
			// Fail closed: an unreadable count denies the action.
			return fmt.Errorf("reserve %s for %s: %w", kind, userID, err)
		}
		if current >= wl.Ceiling {
			return &model.QuotaExceededError{
				Kind:    kind,
				Window:  wl.Window,
				Current: current,
				Limit:   wl.Ceiling,
				Tier:    tier,
			}
		}
	}
	return nil
}

// Check is Reserve against the store directly, outside any transaction. Use
// it for advisory UI checks only; admission must go through Reserve inside
// RunSerializable.
func (g *Guard) Check(ctx context.Context, st store.Store, userID string, kind model.ResourceKind, tier model.Tier) error {
	return g.Reserve(ctx, st, userID, kind, tier)
}
