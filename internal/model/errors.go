package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable indicates a counter backend could not be reached.
// It is internal to the engine: cooldown paths fall back or fail open, and
// it is never surfaced to the interaction pipeline.
var ErrBackendUnavailable = errors.New("counter backend unavailable")

// QuotaExceededError is returned when a resource ceiling is reached. It
// carries the structured fields callers need to render upgrade prompts
// without parsing strings.
type QuotaExceededError struct {
	Kind    ResourceKind `json:"kind"`
	Window  Window       `json:"window,omitempty"`
	Current int64        `json:"current"`
	Limit   int64        `json:"limit"`
	Tier    Tier         `json:"tier"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d/%d (tier %s)", e.Kind, e.Current, e.Limit, e.Tier)
}

// UpgradeTarget returns the tier an upgrade prompt should point at, or empty
// if the user is already on the top tier.
func (e *QuotaExceededError) UpgradeTarget() Tier {
	return e.Tier.Next()
}

// CooldownActiveError is a soft retry-after signal: the action came too soon
// after the previous one of the same kind.
type CooldownActiveError struct {
	ActionKind    string        `json:"action_kind"`
	WaitRemaining time.Duration `json:"wait_remaining"`
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active for %s: wait %s", e.ActionKind, e.WaitRemaining)
}

// AlreadyUsedError indicates a tier grant was already activated for this
// (user, event) pair. Surfaced as "not eligible", not as an alarming failure.
type AlreadyUsedError struct {
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("grant for event %s already used by user %s", e.EventID, e.UserID)
}

// IsQuotaExceeded reports whether err is a QuotaExceededError and returns it.
func IsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsCooldownActive reports whether err is a CooldownActiveError and returns it.
func IsCooldownActive(err error) (*CooldownActiveError, bool) {
	var ce *CooldownActiveError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsAlreadyUsed reports whether err is an AlreadyUsedError and returns it.
func IsAlreadyUsed(err error) (*AlreadyUsedError, bool) {
	var ae *AlreadyUsedError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
