// Package tier resolves a user's effective subscription tier, including
// temporary promotional grants layered on top of the paid plan.
package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/idgen"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/store"
)

// DefaultGrantDuration is how long a promotional grant lasts when the
// caller does not say otherwise.
const DefaultGrantDuration = 48 * time.Hour

// Policy answers tier questions and manages grants.
type Policy struct {
	store   store.Store
	catalog *catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

func NewPolicy(st store.Store, cat *catalog.Catalog, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{store: st, catalog: cat, logger: logger, now: time.Now}
}

// SetNowFunc overrides the clock. Test hook.
func (p *Policy) SetNowFunc(now func() time.Time) { p.now = now }

// EffectiveTier returns the tier that limits should be evaluated at: the
// user's base plan, raised by their latest active grant when that grant has
// not yet expired. Expiry is checked live; a grant whose window has passed
// stops applying immediately even if the sweep has not flipped it yet.
func (p *Policy) EffectiveTier(ctx context.Context, userID string, base model.Tier) (model.Tier, error) {
	if !base.IsValid() {
		base = model.TierFree
	}

	grant, err := p.store.LatestGrant(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return base, nil
	}
	if err != nil {
		return "", fmt.Errorf("effective tier for %s: %w", userID, err)
	}

	if !grant.Live(p.now()) {
		return base, nil
	}
	if grant.ToTier.Compare(base) > 0 {
		return grant.ToTier, nil
	}
	return base, nil
}

// LimitsFor returns the limit table row for a tier and resource kind.
func (p *Policy) LimitsFor(tier model.Tier, kind model.ResourceKind) []catalog.WindowLimit {
	return p.catalog.LimitsFor(tier, kind)
}

// ActivateGrant records a promotional tier grant for a user. Each (user,
// event) pair activates at most once; a repeat returns
// *model.AlreadyUsedError and changes nothing.
func (p *Policy) ActivateGrant(ctx context.Context, userID, eventID, eventName string, base, to model.Tier, duration time.Duration) (*model.TierGrant, error) {
	if userID == "" || eventID == "" {
		return nil, fmt.Errorf("activate grant: user and event IDs are required")
	}
	if !to.IsValid() {
		return nil, fmt.Errorf("activate grant: unknown tier %q", to)
	}
	if !base.IsValid() {
		base = model.TierFree
	}
	if duration <= 0 {
		duration = DefaultGrantDuration
	}

	now := p.now().UTC()
	grant := &model.TierGrant{
		ID:        idgen.NewGrantID(),
		UserID:    userID,
		EventID:   eventID,
		EventName: eventName,
		FromTier:  base,
		ToTier:    to,
		ExpiresAt: now.Add(duration),
		Active:    true,
		CreatedAt: now,
	}
	if err := p.store.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}

	p.logger.Info("tier grant activated",
		"user", userID, "event", eventID, "to", to, "expires_at", grant.ExpiresAt)
	return grant, nil
}

// SweepExpired deactivates grants whose expiry has passed. Correctness does
// not depend on it running; EffectiveTier checks expiry on every read. The
// sweep keeps the active set small.
func (p *Policy) SweepExpired(ctx context.Context) (int64, error) {
	n, err := p.store.DeactivateExpiredGrants(ctx, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired grants: %w", err)
	}
	if n > 0 {
		p.logger.Info("expired tier grants deactivated", "count", n)
	}
	return n, nil
}

// Grants lists a user's grants, newest first.
func (p *Policy) Grants(ctx context.Context, userID string) ([]*model.TierGrant, error) {
	return p.store.ListGrants(ctx, userID)
}
