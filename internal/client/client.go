// Package client provides a transport-agnostic interface for the calyx
// service and an HTTP/JSON implementation that talks to the calyx REST API.
package client

import (
	"context"
	"time"

	"github.com/calyxlabs/calyx/internal/engine"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/progression"
)

// CalyxClient is the interface product backends use to talk to the calyx
// server. It is implemented by HTTPClient and can be backed by any transport.
type CalyxClient interface {
	// Interaction pipeline
	ProcessAction(ctx context.Context, req *engine.ActionRequest) (*engine.ActionResult, error)

	// Usage and tiers
	GetUsage(ctx context.Context, userID string, baseTier model.Tier) (*UsageResponse, error)
	GetTier(ctx context.Context, userID string, baseTier model.Tier) (*TierResponse, error)

	// Grants
	ListGrants(ctx context.Context, userID string) ([]*model.TierGrant, error)
	ActivateGrant(ctx context.Context, userID string, req *ActivateGrantRequest) (*model.TierGrant, error)
	SweepGrants(ctx context.Context) (int64, error)

	// Cooldowns
	GetCooldown(ctx context.Context, userID, actionKind string, baseTier model.Tier) (*CooldownResponse, error)
	ResetCooldowns(ctx context.Context, userID, actionKind string) error

	// Bonds
	GetBond(ctx context.Context, userID, agentID string) (*model.BondState, error)
	AdvanceBond(ctx context.Context, userID, agentID string, baseTier model.Tier) (*progression.Result, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// UsageResponse is a user's usage snapshot against their effective tier.
type UsageResponse struct {
	UserID    string                `json:"user_id"`
	Tier      model.Tier            `json:"tier"`
	Resources []model.ResourceUsage `json:"resources"`
}

// TierResponse reports a user's effective tier alongside their base plan.
type TierResponse struct {
	UserID string     `json:"user_id"`
	Base   model.Tier `json:"base"`
	Tier   model.Tier `json:"tier"`
}

// ActivateGrantRequest holds parameters for activating a tier grant.
type ActivateGrantRequest struct {
	EventID   string        `json:"event_id"`
	EventName string        `json:"event_name,omitempty"`
	BaseTier  model.Tier    `json:"base_tier,omitempty"`
	ToTier    model.Tier    `json:"to_tier"`
	Duration  time.Duration `json:"-"`
}

// CooldownResponse reports whether an action kind is currently allowed.
type CooldownResponse struct {
	UserID        string `json:"user_id"`
	ActionKind    string `json:"action_kind"`
	Allowed       bool   `json:"allowed"`
	WaitRemaining string `json:"wait_remaining"`
}
