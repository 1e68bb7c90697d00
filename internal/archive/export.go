// Package archive exports usage history and grant records as JSONL for
// offline analytics.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/calyxlabs/calyx/internal/store"
)

// exportLimit caps how many usage events one export reads.
const exportLimit = 100000

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
	GrantCount int       `json:"grant_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes usage events recorded at or after since, plus every
// tier grant, as JSONL to w. Events come out in occurrence order, grants
// sorted by ID.
func ExportJSONL(ctx context.Context, s store.Store, since time.Time, w io.Writer) error {
	events, err := s.ListUsage(ctx, since, exportLimit)
	if err != nil {
		return fmt.Errorf("list usage: %w", err)
	}

	grants, err := s.ListGrants(ctx, "")
	if err != nil {
		return fmt.Errorf("list grants: %w", err)
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].ID < grants[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EventCount: len(events),
		GrantCount: len(grants),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, e := range events {
		if err := enc.Encode(record{Type: "usage_event", Data: e}); err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
	}

	for _, g := range grants {
		if err := enc.Encode(record{Type: "tier_grant", Data: g}); err != nil {
			return fmt.Errorf("encode grant %s: %w", g.ID, err)
		}
	}

	return nil
}
