// Package events announces entitlement and progression activity on the bus
// so downstream product surfaces (notifications, analytics, monetization
// prompts) can react without polling the store.
package events

import (
	"context"
	"time"

	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/progression"
)

// Subjects follow calyx.<area>.<verb>; "calyx.>" subscribes to everything.
const (
	TopicUsageRecorded = "calyx.usage.recorded"
	TopicQuotaExceeded = "calyx.quota.exceeded"

	TopicGrantActivated = "calyx.grant.activated"
	TopicGrantsSwept    = "calyx.grant.swept"

	TopicStageAdvanced = "calyx.stage.advanced"
	TopicStageCapped   = "calyx.stage.capped"
)

// Envelope is the wire shape of every published event: the topic and emit
// time ride alongside the payload so consumers of wildcard subscriptions can
// route without re-deriving the subject.
type Envelope struct {
	Topic     string    `json:"topic"`
	EmittedAt time.Time `json:"emitted_at"`
	Payload   any       `json:"payload"`
}

// UsageRecorded announces a committed usage event.
type UsageRecorded struct {
	Event *model.UsageEvent `json:"event"`
}

// QuotaExceeded announces a quota denial, payload matching the typed error.
type QuotaExceeded struct {
	UserID string                    `json:"user_id"`
	Denial *model.QuotaExceededError `json:"denial"`
}

// GrantActivated announces a promotional tier grant.
type GrantActivated struct {
	Grant *model.TierGrant `json:"grant"`
}

// GrantsSwept announces an expiry sweep that flipped at least one grant.
type GrantsSwept struct {
	Count   int64     `json:"count"`
	SweptAt time.Time `json:"swept_at"`
}

// StageAdvanced announces a relationship stage transition.
type StageAdvanced struct {
	UserID  string      `json:"user_id"`
	AgentID string      `json:"agent_id"`
	From    model.Stage `json:"from"`
	To      model.Stage `json:"to"`
}

// StageCapped announces a bond held below its earned stage by the plan.
type StageCapped struct {
	UserID  string                   `json:"user_id"`
	AgentID string                   `json:"agent_id"`
	Notice  *progression.LimitNotice `json:"notice"`
}

// Publisher emits events. Publishing is advisory: the engine logs publish
// failures and moves on, it never fails an admitted action over the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	Close() error
}

// Discard is the Publisher used when no bus is configured.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, any) error { return nil }
func (discard) Close() error                               { return nil }
