// Package engine is the entitlement pipeline: one call admits or denies an
// action, records its usage, and moves the relationship state forward.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/classify"
	"github.com/calyxlabs/calyx/internal/cooldown"
	"github.com/calyxlabs/calyx/internal/events"
	"github.com/calyxlabs/calyx/internal/idgen"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/progression"
	"github.com/calyxlabs/calyx/internal/quota"
	"github.com/calyxlabs/calyx/internal/store"
	"github.com/calyxlabs/calyx/internal/tier"
	"github.com/calyxlabs/calyx/internal/usage"
)

// actionResources maps an action kind to the resource its usage counts as.
var actionResources = map[string]model.ResourceKind{
	catalog.ActionMessage:       model.ResourceMessage,
	catalog.ActionWorldMessage:  model.ResourceMessage,
	catalog.ActionImageAnalysis: model.ResourceImageAnalysis,
	catalog.ActionVoiceMessage:  model.ResourceVoiceMessage,
}

// ActionRequest describes one user action entering the pipeline.
type ActionRequest struct {
	UserID     string     `json:"user_id"`
	AgentID    string     `json:"agent_id,omitempty"`
	ActionKind string     `json:"action_kind"`
	Text       string     `json:"text,omitempty"`
	Trust      float64    `json:"trust,omitempty"`
	BaseTier   model.Tier `json:"base_tier"`
}

// ActionResult reports what the pipeline did with an admitted action.
type ActionResult struct {
	Tier     model.Tier          `json:"tier"`
	Counted  bool                `json:"counted"`
	EventID  string              `json:"event_id,omitempty"`
	Decision classify.Result     `json:"decision"`
	Bond     *progression.Result `json:"bond,omitempty"`
}

// Engine wires the cooldown tracker, quota guard, usage counter, tier
// policy, and progression machine behind one entry point.
type Engine struct {
	store     store.Store
	catalog   *catalog.Catalog
	cooldowns *cooldown.Tracker
	guard     *quota.Guard
	counter   *usage.Counter
	tiers     *tier.Policy
	bonds     *progression.Tracker
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Params collects the engine's collaborators.
type Params struct {
	Store     store.Store
	Catalog   *catalog.Catalog
	Cooldowns *cooldown.Tracker
	Counter   *usage.Counter
	Tiers     *tier.Policy
	Bonds     *progression.Tracker
	Publisher events.Publisher
	Logger    *slog.Logger
	Location  *time.Location
}

func New(p Params) *Engine {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Publisher == nil {
		p.Publisher = events.Discard
	}
	guard := quota.NewGuard(p.Catalog)
	if p.Location != nil {
		guard.SetLocation(p.Location)
	}
	return &Engine{
		store:     p.Store,
		catalog:   p.Catalog,
		cooldowns: p.Cooldowns,
		guard:     guard,
		counter:   p.Counter,
		tiers:     p.Tiers,
		bonds:     p.Bonds,
		publisher: p.Publisher,
		logger:    p.Logger,
		now:       time.Now,
	}
}

// SetNowFunc overrides the clock on the engine and its guard. Test hook.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
	e.guard.SetNowFunc(now)
}

// ProcessAction runs the full admission pipeline for one action:
//
//  1. resolve the effective tier, grants included
//  2. check the cooldown for the action kind at that tier
//  3. classify message text; exempt messages skip quota and recording
//  4. reserve quota and record usage in one serializable transaction
//  5. mark the cooldown
//  6. feed the interaction to the relationship machine
//
// Denials come back as *model.CooldownActiveError or
// *model.QuotaExceededError; anything else is an infrastructure failure.
func (e *Engine) ProcessAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	effective, err := e.tiers.EffectiveTier(ctx, req.UserID, req.BaseTier)
	if err != nil {
		return nil, err
	}
	res := &ActionResult{Tier: effective}

	status := e.cooldowns.Check(ctx, req.UserID, req.ActionKind, effective)
	if !status.Allowed {
		return nil, &model.CooldownActiveError{
			ActionKind:    req.ActionKind,
			WaitRemaining: status.WaitRemaining,
		}
	}

	kind, countable := actionResources[req.ActionKind]
	counted := countable
	if countable && kind.MessageLike() {
		res.Decision = classify.Classify(req.Text)
		counted = res.Decision.Counted()
	}

	if counted {
		event := &model.UsageEvent{
			ID:         idgen.NewUsageID(),
			UserID:     req.UserID,
			Kind:       kind,
			Quantity:   1,
			OccurredAt: e.now().UTC(),
		}
		err := e.store.RunSerializable(ctx, func(tx store.Tx) error {
			if err := e.guard.Reserve(ctx, tx, req.UserID, kind, effective); err != nil {
				return err
			}
			return tx.RecordUsage(ctx, event)
		})
		if err != nil {
			if qe, ok := model.IsQuotaExceeded(err); ok {
				e.publish(ctx, events.TopicQuotaExceeded, events.QuotaExceeded{
					UserID: req.UserID,
					Denial: qe,
				})
			}
			return nil, err
		}
		res.Counted = true
		res.EventID = event.ID
		e.counter.Invalidate(ctx, req.UserID, kind)
		e.publish(ctx, events.TopicUsageRecorded, events.UsageRecorded{Event: event})
	}

	e.cooldowns.Track(ctx, req.UserID, req.ActionKind, effective)

	if req.AgentID != "" {
		bond, err := e.bonds.Observe(ctx, req.UserID, req.AgentID, req.Trust, effective)
		if err != nil {
			// The action itself succeeded; a bond write failure is logged,
			// not surfaced as a denial.
			e.logger.Error("bond update failed",
				"user", req.UserID, "agent", req.AgentID, "error", err)
		} else {
			res.Bond = bond
			if bond.Advanced {
				e.publish(ctx, events.TopicStageAdvanced, events.StageAdvanced{
					UserID:  req.UserID,
					AgentID: req.AgentID,
					From:    bond.From,
					To:      bond.To,
				})
			}
			if bond.Limit != nil {
				e.publish(ctx, events.TopicStageCapped, events.StageCapped{
					UserID:  req.UserID,
					AgentID: req.AgentID,
					Notice:  bond.Limit,
				})
			}
		}
	}

	return res, nil
}

// EffectiveTier resolves the tier limits apply at, grants included.
func (e *Engine) EffectiveTier(ctx context.Context, userID string, base model.Tier) (model.Tier, error) {
	return e.tiers.EffectiveTier(ctx, userID, base)
}

// CheckQuota is an advisory read of one resource's headroom, outside any
// transaction. Admission still happens in ProcessAction.
func (e *Engine) CheckQuota(ctx context.Context, userID string, kind model.ResourceKind, base model.Tier) error {
	effective, err := e.tiers.EffectiveTier(ctx, userID, base)
	if err != nil {
		return err
	}
	return e.guard.Check(ctx, e.store, userID, kind, effective)
}

// CheckCooldown reports whether an action kind is currently allowed.
func (e *Engine) CheckCooldown(ctx context.Context, userID, actionKind string, base model.Tier) (cooldown.Status, error) {
	effective, err := e.tiers.EffectiveTier(ctx, userID, base)
	if err != nil {
		return cooldown.Status{}, err
	}
	return e.cooldowns.Check(ctx, userID, actionKind, effective), nil
}

// ResetCooldowns clears cooldown marks for a user; empty actionKind clears
// every kind.
func (e *Engine) ResetCooldowns(ctx context.Context, userID, actionKind string) {
	e.cooldowns.Reset(ctx, userID, actionKind)
}

// UsageSnapshot returns the per-resource quota view at the user's effective
// tier.
func (e *Engine) UsageSnapshot(ctx context.Context, userID string, base model.Tier) (model.Tier, []model.ResourceUsage, error) {
	effective, err := e.tiers.EffectiveTier(ctx, userID, base)
	if err != nil {
		return "", nil, err
	}
	snap, err := e.counter.Snapshot(ctx, userID, effective, e.catalog)
	if err != nil {
		return "", nil, err
	}
	return effective, snap, nil
}

// ActivateGrant activates a promotional tier grant and announces it.
func (e *Engine) ActivateGrant(ctx context.Context, userID, eventID, eventName string, base, to model.Tier, duration time.Duration) (*model.TierGrant, error) {
	grant, err := e.tiers.ActivateGrant(ctx, userID, eventID, eventName, base, to, duration)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.TopicGrantActivated, events.GrantActivated{Grant: grant})
	return grant, nil
}

// SweepGrants deactivates expired grants and announces the count.
func (e *Engine) SweepGrants(ctx context.Context) (int64, error) {
	n, err := e.tiers.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.publish(ctx, events.TopicGrantsSwept, events.GrantsSwept{
			Count:   n,
			SweptAt: e.now().UTC(),
		})
	}
	return n, nil
}

// Grants lists a user's grants, newest first.
func (e *Engine) Grants(ctx context.Context, userID string) ([]*model.TierGrant, error) {
	return e.tiers.Grants(ctx, userID)
}

// Bond returns the relationship state for (user, agent).
func (e *Engine) Bond(ctx context.Context, userID, agentID string) (*model.BondState, error) {
	return e.bonds.Bond(ctx, userID, agentID)
}

// AdvanceBond re-evaluates a bond at the user's effective tier, used after
// upgrades to release a plan-capped stage.
func (e *Engine) AdvanceBond(ctx context.Context, userID, agentID string, base model.Tier) (*progression.Result, error) {
	effective, err := e.tiers.EffectiveTier(ctx, userID, base)
	if err != nil {
		return nil, err
	}
	res, err := e.bonds.Advance(ctx, userID, agentID, effective)
	if err != nil {
		return nil, err
	}
	if res.Advanced {
		e.publish(ctx, events.TopicStageAdvanced, events.StageAdvanced{
			UserID:  userID,
			AgentID: agentID,
			From:    res.From,
			To:      res.To,
		})
	}
	return res, nil
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		e.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
