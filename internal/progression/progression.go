// Package progression drives the relationship stage machine between a user
// and an agent. A stage advances only when trust, interaction volume, and
// the user's plan all allow it, and never regresses.
package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/store"
)

// interactionFloors is the minimum interaction count for each stage. Trust
// alone cannot rush a bond; time in conversation has to accumulate too.
var interactionFloors = map[model.Stage]int64{
	model.StageStranger:     0,
	model.StageAcquaintance: 5,
	model.StageFriend:       15,
	model.StageClose:        35,
	model.StageIntimate:     60,
}

// StageFromTrust maps a trust score in [0, 1] onto the stage ladder in
// equal bands. Out-of-range scores are clamped.
func StageFromTrust(trust float64) model.Stage {
	switch {
	case trust < 0.2:
		return model.StageStranger
	case trust < 0.4:
		return model.StageAcquaintance
	case trust < 0.6:
		return model.StageFriend
	case trust < 0.8:
		return model.StageClose
	default:
		return model.StageIntimate
	}
}

// StageFromInteractions returns the highest stage whose interaction floor
// the count satisfies.
func StageFromInteractions(n int64) model.Stage {
	stage := model.StageStranger
	for _, s := range model.Stages {
		if n >= interactionFloors[s] {
			stage = s
		}
	}
	return stage
}

// LimitNotice reports that the bond has earned a stage the plan does not
// allow. It is informational; callers render it as an upgrade prompt.
type LimitNotice struct {
	Current        model.Stage  `json:"current"`
	Next           model.Stage  `json:"next"`
	UnlockingTiers []model.Tier `json:"unlocking_tiers"`
}

// Result describes one observed interaction's effect on a bond.
type Result struct {
	Bond     *model.BondState `json:"bond"`
	Advanced bool             `json:"advanced"`
	From     model.Stage      `json:"from,omitempty"`
	To       model.Stage      `json:"to,omitempty"`
	Limit    *LimitNotice     `json:"limit,omitempty"`
}

// Tracker owns bond state transitions.
type Tracker struct {
	store   store.Store
	catalog *catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

func NewTracker(st store.Store, cat *catalog.Catalog, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, catalog: cat, logger: logger, now: time.Now}
}

// SetNowFunc overrides the clock. Test hook.
func (t *Tracker) SetNowFunc(now func() time.Time) { t.now = now }

// ComputeStage returns the stage the bond qualifies for: the lowest of the
// trust stage, the interaction stage, and the plan ceiling.
func (t *Tracker) ComputeStage(trust float64, interactions int64, tier model.Tier) model.Stage {
	return model.MinStage(
		StageFromTrust(trust),
		StageFromInteractions(interactions),
		t.catalog.MaxStageFor(tier),
	)
}

// Bond returns the current state for (user, agent), or model.ErrNotFound.
func (t *Tracker) Bond(ctx context.Context, userID, agentID string) (*model.BondState, error) {
	return t.store.GetBond(ctx, userID, agentID)
}

// Observe records one interaction on the bond: it bumps the interaction
// count, stores the updated trust score, and settles the stage to the one
// the updated totals compute to. A crossed boundary is reported exactly
// once, in the Result of the call that crossed it.
// When trust and volume qualify for a stage above the plan ceiling, the
// Result carries a LimitNotice naming the tiers that would unlock it.
func (t *Tracker) Observe(ctx context.Context, userID, agentID string, trust float64, tier model.Tier) (*Result, error) {
	if userID == "" || agentID == "" {
		return nil, fmt.Errorf("observe bond: user and agent IDs are required")
	}
	if trust < 0 {
		trust = 0
	}
	if trust > 1 {
		trust = 1
	}

	var res *Result
	err := t.store.RunInTransaction(ctx, func(tx store.Tx) error {
		bond, err := tx.GetBond(ctx, userID, agentID)
		if errors.Is(err, model.ErrNotFound) {
			bond = &model.BondState{
				UserID:       userID,
				AgentID:      agentID,
				CurrentStage: model.StageStranger,
			}
		} else if err != nil {
			return err
		}

		bond.Trust = trust
		bond.TotalInteractions++

		r, err := t.settle(ctx, tx, bond, tier)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("observe bond %s/%s: %w", userID, agentID, err)
	}

	if res.Advanced {
		t.logger.Info("bond stage advanced",
			"user", userID, "agent", agentID, "from", res.From, "to", res.To)
	}
	return res, nil
}

// Advance re-evaluates a bond against the current tier without counting an
// interaction. Used after an upgrade or grant, when a previously capped bond
// may now be allowed to move.
func (t *Tracker) Advance(ctx context.Context, userID, agentID string, tier model.Tier) (*Result, error) {
	var res *Result
	err := t.store.RunInTransaction(ctx, func(tx store.Tx) error {
		bond, err := tx.GetBond(ctx, userID, agentID)
		if err != nil {
			return err
		}
		r, err := t.settle(ctx, tx, bond, tier)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance bond %s/%s: %w", userID, agentID, err)
	}
	return res, nil
}

// settle recomputes the bond's stage and writes it back. The stored stage is
// a cache of ComputeStage over the bond's current totals, so an increase is
// applied in full; crossing several boundaries at once reports one transition
// spanning the whole move. The stage never regresses.
func (t *Tracker) settle(ctx context.Context, tx store.Tx, bond *model.BondState, tier model.Tier) (*Result, error) {
	res := &Result{}
	prior := bond.CurrentStage
	target := t.ComputeStage(bond.Trust, bond.TotalInteractions, tier)

	if target.Index() > prior.Index() {
		bond.CurrentStage = target
		res.Advanced = true
		res.From = prior
		res.To = target
	}

	// Earned a stage the plan withholds.
	earned := model.MinStage(StageFromTrust(bond.Trust), StageFromInteractions(bond.TotalInteractions))
	ceiling := t.catalog.MaxStageFor(tier)
	if earned.Index() > ceiling.Index() && bond.CurrentStage == ceiling {
		next := model.Stages[ceiling.Index()+1]
		res.Limit = &LimitNotice{
			Current:        bond.CurrentStage,
			Next:           next,
			UnlockingTiers: t.catalog.UnlockingTiers(next),
		}
	}

	if err := tx.PutBond(ctx, bond); err != nil {
		return nil, err
	}
	res.Bond = bond
	return res, nil
}
