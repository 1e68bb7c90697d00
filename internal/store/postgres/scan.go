package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/calyxlabs/calyx/internal/model"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*model.TierGrant, error) {
	var (
		g         model.TierGrant
		eventName sql.NullString
		fromTier  string
		toTier    string
	)
	err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.EventID,
		&eventName,
		&fromTier,
		&toTier,
		&g.ExpiresAt,
		&g.Active,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.EventName = eventName.String
	g.FromTier = model.Tier(fromTier)
	g.ToTier = model.Tier(toTier)
	return &g, nil
}

func scanGrants(rows *sql.Rows) ([]*model.TierGrant, error) {
	var grants []*model.TierGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

func scanUsageEvent(row rowScanner) (*model.UsageEvent, error) {
	var (
		e        model.UsageEvent
		kind     string
		metadata []byte
	)
	err := row.Scan(&e.ID, &e.UserID, &kind, &e.Quantity, &e.OccurredAt, &metadata)
	if err != nil {
		return nil, err
	}
	e.Kind = model.ResourceKind(kind)
	if len(metadata) > 0 {
		e.Metadata = json.RawMessage(metadata)
	}
	return &e, nil
}

func scanUsageEvents(rows *sql.Rows) ([]*model.UsageEvent, error) {
	var events []*model.UsageEvent
	for rows.Next() {
		e, err := scanUsageEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage events: %w", err)
	}
	return events, nil
}

func scanBond(row rowScanner) (*model.BondState, error) {
	var (
		b     model.BondState
		stage string
	)
	err := row.Scan(
		&b.UserID,
		&b.AgentID,
		&b.Trust,
		&b.TotalInteractions,
		&stage,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.CurrentStage = model.Stage(stage)
	return &b, nil
}

// jsonbBytes returns nil for empty metadata so the column stores NULL
// instead of an empty string Postgres would reject as jsonb.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
