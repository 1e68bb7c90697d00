package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/calyxlabs/calyx/internal/model"
)

// grantColumns is the column list used for SELECT statements on the
// tier_grants table.
const grantColumns = `id, user_id, event_id, event_name, from_tier, to_tier,
	expires_at, active, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryRecordUsage(ctx context.Context, db executor, e *model.UsageEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO usage_events (id, user_id, kind, quantity, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID,
		e.UserID,
		string(e.Kind),
		e.Quantity,
		e.OccurredAt,
		jsonbBytes(e.Metadata),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func querySumUsage(ctx context.Context, db executor, f model.UsageFilter) (int64, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM usage_events
		WHERE user_id = $1 AND kind = $2`
	args := []any{f.UserID, string(f.Kind)}

	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND occurred_at < $%d", len(args))
	}

	var total int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

func queryCreateGrant(ctx context.Context, db executor, g *model.TierGrant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tier_grants (
			id, user_id, event_id, event_name, from_tier, to_tier,
			expires_at, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID,
		g.UserID,
		g.EventID,
		nullString(g.EventName),
		string(g.FromTier),
		string(g.ToTier),
		g.ExpiresAt,
		g.Active,
		g.CreatedAt,
	)
	if isUniqueViolation(err) {
		return &model.AlreadyUsedError{UserID: g.UserID, EventID: g.EventID}
	}
	if err != nil {
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (the (user_id, event_id) index on tier_grants).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func queryLatestGrant(ctx context.Context, db executor, userID string) (*model.TierGrant, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM tier_grants
		WHERE user_id = $1 AND active = TRUE
		ORDER BY created_at DESC
		LIMIT 1`,
		userID,
	)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest grant: %w", err)
	}
	return g, nil
}

func queryDeactivateExpiredGrants(ctx context.Context, db executor, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE tier_grants
		SET active = FALSE
		WHERE active = TRUE AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired grants: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func queryGetBond(ctx context.Context, db executor, userID, agentID string) (*model.BondState, error) {
	row := db.QueryRowContext(ctx, `
		SELECT user_id, agent_id, trust, total_interactions, current_stage,
			created_at, updated_at
		FROM bonds
		WHERE user_id = $1 AND agent_id = $2`,
		userID, agentID,
	)
	b, err := scanBond(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bond: %w", err)
	}
	return b, nil
}

func queryPutBond(ctx context.Context, db executor, b *model.BondState) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO bonds (user_id, agent_id, trust, total_interactions, current_stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (user_id, agent_id) DO UPDATE SET
			trust = $3,
			total_interactions = $4,
			current_stage = $5,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		b.UserID,
		b.AgentID,
		b.Trust,
		b.TotalInteractions,
		string(b.CurrentStage),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func queryListUsage(ctx context.Context, db executor, since time.Time, limit int) ([]*model.UsageEvent, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, kind, quantity, occurred_at, metadata
		FROM usage_events
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC
		LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()
	return scanUsageEvents(rows)
}

func queryListGrants(ctx context.Context, db executor, userID string) ([]*model.TierGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM tier_grants`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}
