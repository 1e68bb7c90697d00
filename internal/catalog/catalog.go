// Package catalog holds the plan/tier configuration table: per-tier resource
// ceilings, cooldown durations, and the maximum reachable relationship stage.
// The table is read-only to the engine; it ships with compiled-in defaults and
// can be replaced wholesale from a TOML file.
package catalog

import (
	"time"

	"github.com/calyxlabs/calyx/internal/model"
)

// WindowLimit is one windowed ceiling for a resource kind. A ceiling of
// model.Unlimited (-1) means no enforcement for that window.
type WindowLimit struct {
	Window  model.Window
	Ceiling int64
}

// TierSpec is the full entitlement table for one tier.
type TierSpec struct {
	DisplayName string
	// Limits maps each resource kind to its windowed ceilings. The first
	// entry is the primary window reported back to callers.
	Limits map[model.ResourceKind][]WindowLimit
	// Cooldowns maps action kinds to minimum inter-action spacing.
	// A zero or missing duration disables the cooldown.
	Cooldowns map[string]time.Duration
	// MaxStage is the highest relationship stage this tier can reach.
	MaxStage model.Stage
}

// Catalog is the set of tier specs keyed by tier.
type Catalog struct {
	tiers map[model.Tier]TierSpec
}

// Spec returns the tier spec for the given tier, falling back to the free
// tier for unknown values so a bad subscription record never widens access.
func (c *Catalog) Spec(tier model.Tier) TierSpec {
	if s, ok := c.tiers[tier]; ok {
		return s
	}
	return c.tiers[model.TierFree]
}

// LimitsFor returns the windowed ceilings for a resource kind under a tier.
// A nil result means the kind is not limited for that tier.
func (c *Catalog) LimitsFor(tier model.Tier, kind model.ResourceKind) []WindowLimit {
	return c.Spec(tier).Limits[kind]
}

// PrimaryLimit returns the first configured ceiling for a kind, or
// model.Unlimited when the kind has no entry at all.
func (c *Catalog) PrimaryLimit(tier model.Tier, kind model.ResourceKind) WindowLimit {
	limits := c.LimitsFor(tier, kind)
	if len(limits) == 0 {
		return WindowLimit{Window: model.WindowDaily, Ceiling: model.Unlimited}
	}
	return limits[0]
}

// CooldownFor returns the cooldown duration for an action kind under a tier.
// Zero means no cooldown applies.
func (c *Catalog) CooldownFor(tier model.Tier, actionKind string) time.Duration {
	return c.Spec(tier).Cooldowns[actionKind]
}

// MaxStageFor returns the highest relationship stage reachable on a tier.
func (c *Catalog) MaxStageFor(tier model.Tier) model.Stage {
	return c.Spec(tier).MaxStage
}

// UnlockingTiers returns the tiers whose plan ceiling admits the given stage,
// in ascending tier order. Used to build upgrade prompts when the plan
// ceiling binds a progression.
func (c *Catalog) UnlockingTiers(stage model.Stage) []model.Tier {
	var tiers []model.Tier
	for _, t := range []model.Tier{model.TierFree, model.TierPlus, model.TierUltra} {
		if s, ok := c.tiers[t]; ok && stage.Index() <= s.MaxStage.Index() {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// Action kinds with tier-configured cooldowns.
const (
	ActionMessage       = "message"
	ActionWorldMessage  = "world_message"
	ActionImageAnalysis = "image_analysis"
	ActionVoiceMessage  = "voice_message"
)

// Default returns the compiled-in catalog matching the shipped product tiers.
func Default() *Catalog {
	daily := func(n int64) []WindowLimit {
		return []WindowLimit{{Window: model.WindowDaily, Ceiling: n}}
	}
	held := func(n int64) []WindowLimit {
		return []WindowLimit{{Window: model.WindowAll, Ceiling: n}}
	}

	return &Catalog{tiers: map[model.Tier]TierSpec{
		model.TierFree: {
			DisplayName: "Free",
			Limits: map[model.ResourceKind][]WindowLimit{
				model.ResourceMessage:      daily(10),
				model.ResourceInputTokens:  daily(1500),
				model.ResourceOutputTokens: daily(2000),
				model.ResourceImageAnalysis: {
					{Window: model.WindowDaily, Ceiling: 1},
					{Window: model.WindowMonthly, Ceiling: 2},
				},
				model.ResourceVoiceMessage:     daily(0),
				model.ResourceProactiveMessage: daily(0),
				model.ResourceAgent:            held(3),
				model.ResourceWorld:            held(0),
				model.ResourcePost:             daily(5),
			},
			Cooldowns: map[string]time.Duration{
				ActionMessage:       5 * time.Second,
				ActionWorldMessage:  15 * time.Second,
				ActionImageAnalysis: 10 * time.Second,
			},
			MaxStage: model.StageFriend,
		},
		model.TierPlus: {
			DisplayName: "Plus",
			Limits: map[model.ResourceKind][]WindowLimit{
				model.ResourceMessage:      daily(100),
				model.ResourceInputTokens:  daily(15000),
				model.ResourceOutputTokens: daily(20000),
				model.ResourceImageAnalysis: {
					{Window: model.WindowDaily, Ceiling: 3},
					{Window: model.WindowMonthly, Ceiling: 30},
				},
				model.ResourceVoiceMessage: {
					{Window: model.WindowDaily, Ceiling: 5},
					{Window: model.WindowMonthly, Ceiling: 50},
				},
				model.ResourceProactiveMessage: daily(3),
				model.ResourceAgent:            held(15),
				model.ResourceWorld:            held(3),
				model.ResourcePost:             daily(20),
			},
			Cooldowns: map[string]time.Duration{
				ActionMessage:       2 * time.Second,
				ActionWorldMessage:  3 * time.Second,
				ActionImageAnalysis: 3 * time.Second,
				ActionVoiceMessage:  3 * time.Second,
			},
			MaxStage: model.StageClose,
		},
		model.TierUltra: {
			DisplayName: "Ultra",
			Limits: map[model.ResourceKind][]WindowLimit{
				model.ResourceMessage:      daily(model.Unlimited),
				model.ResourceInputTokens:  daily(model.Unlimited),
				model.ResourceOutputTokens: daily(model.Unlimited),
				model.ResourceImageAnalysis: {
					{Window: model.WindowDaily, Ceiling: 20},
					{Window: model.WindowMonthly, Ceiling: 600},
				},
				model.ResourceVoiceMessage: {
					{Window: model.WindowDaily, Ceiling: 20},
					{Window: model.WindowMonthly, Ceiling: 600},
				},
				model.ResourceProactiveMessage: daily(10),
				model.ResourceAgent:            held(100),
				model.ResourceWorld:            held(20),
				model.ResourcePost:             daily(model.Unlimited),
			},
			Cooldowns: map[string]time.Duration{
				ActionMessage:       time.Second,
				ActionWorldMessage:  time.Second,
				ActionImageAnalysis: 5 * time.Second,
				ActionVoiceMessage:  5 * time.Second,
			},
			MaxStage: model.StageIntimate,
		},
	}}
}
