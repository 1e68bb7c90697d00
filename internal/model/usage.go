package model

import (
	"encoding/json"
	"time"
)

// UsageEvent is an immutable record of resource consumption. Events are
// append-only; totals are derived by summing quantities over a time window.
type UsageEvent struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       ResourceKind    `json:"kind"`
	Quantity   int64           `json:"quantity"`
	OccurredAt time.Time       `json:"occurred_at"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// UsageFilter selects usage events for counting.
type UsageFilter struct {
	UserID string
	Kind   ResourceKind
	// [Since, Until) bounds on OccurredAt.
	Since time.Time
	Until time.Time
}

// ResourceUsage is a point-in-time snapshot of one resource's quota state,
// shaped for UI rendering.
type ResourceUsage struct {
	Kind      ResourceKind `json:"kind"`
	Window    Window       `json:"window"`
	Used      int64        `json:"used"`
	Limit     int64        `json:"limit"`
	Remaining int64        `json:"remaining"`
}
