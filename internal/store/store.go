package store

import (
	"context"
	"time"

	"github.com/calyxlabs/calyx/internal/model"
)

// Tx is the transaction-scoped view of the store. The quota guard takes a Tx
// so its read shares an isolation scope with the usage write the caller
// performs afterwards; passing a handle obtained from RunSerializable is what
// makes check-and-commit atomic under concurrency.
type Tx interface {
	// RecordUsage appends a usage event. Events are immutable facts.
	RecordUsage(ctx context.Context, event *model.UsageEvent) error

	// SumUsage returns the total quantity of usage events matching the filter.
	SumUsage(ctx context.Context, filter model.UsageFilter) (int64, error)

	// CreateGrant stores a tier grant. A second grant for the same
	// (user, event) pair fails with *model.AlreadyUsedError.
	CreateGrant(ctx context.Context, grant *model.TierGrant) error

	// LatestGrant returns the most recently created active grant for a user,
	// or model.ErrNotFound. Callers must still check expiry via Live().
	LatestGrant(ctx context.Context, userID string) (*model.TierGrant, error)

	// DeactivateExpiredGrants flips active=false on every grant whose expiry
	// has passed, returning how many rows changed.
	DeactivateExpiredGrants(ctx context.Context, now time.Time) (int64, error)

	// GetBond returns the relationship record for (user, agent), or
	// model.ErrNotFound.
	GetBond(ctx context.Context, userID, agentID string) (*model.BondState, error)

	// PutBond inserts or updates a relationship record.
	PutBond(ctx context.Context, bond *model.BondState) error

	// ListUsage returns usage events at or after since, oldest first,
	// capped at limit. Used by the archive exporter.
	ListUsage(ctx context.Context, since time.Time, limit int) ([]*model.UsageEvent, error)

	// ListGrants returns all grants for a user, newest first. Empty userID
	// returns every grant (archive export).
	ListGrants(ctx context.Context, userID string) ([]*model.TierGrant, error)
}

// Store is the persistence interface for the engine.
type Store interface {
	Tx

	// RunInTransaction runs fn inside a read-committed transaction,
	// committing on success and rolling back on error.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// RunSerializable runs fn inside a serializable transaction. Quota
	// reservations must go through this: weaker isolation lets two
	// concurrent requests both observe current < limit and both commit.
	RunSerializable(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Close() error
}
