package model

import "time"

// TierGrant is a time-boxed tier override tied to a promotional event.
// At most one grant exists per (user, event) pair; re-activation is rejected.
type TierGrant struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name,omitempty"`
	FromTier  Tier      `json:"from_tier"`
	ToTier    Tier      `json:"to_tier"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Live reports whether the grant should override the user's base tier at the
// given instant. The stored Active flag alone is not trusted: the expiry sweep
// is advisory and may lag, so ExpiresAt is always checked.
func (g *TierGrant) Live(now time.Time) bool {
	return g.Active && now.Before(g.ExpiresAt)
}
