// Package memstore provides an in-memory store.Store used by tests and by
// dev-mode serving. A single mutex serializes all transactions, so both
// RunInTransaction and RunSerializable get serializable semantics for free.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/store"
)

type bondKey struct {
	userID  string
	agentID string
}

type grantKey struct {
	userID  string
	eventID string
}

type memData struct {
	events    []*model.UsageEvent
	grants    []*model.TierGrant
	grantKeys map[grantKey]bool
	bonds     map[bondKey]*model.BondState
}

func newMemData() *memData {
	return &memData{
		grantKeys: make(map[grantKey]bool),
		bonds:     make(map[bondKey]*model.BondState),
	}
}

// clone makes a deep-enough copy for rollback. Event and grant structs are
// never mutated in place, so sharing pointers across the copy is safe.
func (d *memData) clone() *memData {
	c := &memData{
		events:    append([]*model.UsageEvent(nil), d.events...),
		grants:    append([]*model.TierGrant(nil), d.grants...),
		grantKeys: make(map[grantKey]bool, len(d.grantKeys)),
		bonds:     make(map[bondKey]*model.BondState, len(d.bonds)),
	}
	for k := range d.grantKeys {
		c.grantKeys[k] = true
	}
	for k, v := range d.bonds {
		b := *v
		c.bonds[k] = &b
	}
	return c
}

// MemStore implements store.Store in memory.
type MemStore struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

var _ store.Store = (*MemStore)(nil)

func New() *MemStore {
	return &MemStore{data: newMemData(), now: time.Now}
}

// SetNowFunc overrides the clock used for bond timestamps. Test hook.
func (s *MemStore) SetNowFunc(now func() time.Time) { s.now = now }

func (s *MemStore) Close() error { return nil }

func (s *MemStore) RunInTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.runTx(ctx, fn)
}

func (s *MemStore) RunSerializable(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.runTx(ctx, fn)
}

func (s *MemStore) runTx(_ context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memTx{data: s.data, now: s.now}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *MemStore) RecordUsage(ctx context.Context, event *model.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).RecordUsage(ctx, event)
}

func (s *MemStore) SumUsage(ctx context.Context, filter model.UsageFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).SumUsage(ctx, filter)
}

func (s *MemStore) CreateGrant(ctx context.Context, grant *model.TierGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).CreateGrant(ctx, grant)
}

func (s *MemStore) LatestGrant(ctx context.Context, userID string) (*model.TierGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).LatestGrant(ctx, userID)
}

func (s *MemStore) DeactivateExpiredGrants(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).DeactivateExpiredGrants(ctx, now)
}

func (s *MemStore) GetBond(ctx context.Context, userID, agentID string) (*model.BondState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).GetBond(ctx, userID, agentID)
}

func (s *MemStore) PutBond(ctx context.Context, bond *model.BondState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).PutBond(ctx, bond)
}

func (s *MemStore) ListUsage(ctx context.Context, since time.Time, limit int) ([]*model.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).ListUsage(ctx, since, limit)
}

func (s *MemStore) ListGrants(ctx context.Context, userID string) ([]*model.TierGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{data: s.data, now: s.now}).ListGrants(ctx, userID)
}

// memTx implements store.Tx over the shared data without locking; the
// enclosing MemStore call holds the mutex.
type memTx struct {
	data *memData
	now  func() time.Time
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) RecordUsage(_ context.Context, event *model.UsageEvent) error {
	e := *event
	t.data.events = append(t.data.events, &e)
	return nil
}

func (t *memTx) SumUsage(_ context.Context, f model.UsageFilter) (int64, error) {
	var total int64
	for _, e := range t.data.events {
		if e.UserID != f.UserID || e.Kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.OccurredAt.Before(f.Until) {
			continue
		}
		total += e.Quantity
	}
	return total, nil
}

func (t *memTx) CreateGrant(_ context.Context, grant *model.TierGrant) error {
	key := grantKey{userID: grant.UserID, eventID: grant.EventID}
	if t.data.grantKeys[key] {
		return &model.AlreadyUsedError{UserID: grant.UserID, EventID: grant.EventID}
	}
	g := *grant
	t.data.grants = append(t.data.grants, &g)
	t.data.grantKeys[key] = true
	return nil
}

func (t *memTx) LatestGrant(_ context.Context, userID string) (*model.TierGrant, error) {
	var latest *model.TierGrant
	for _, g := range t.data.grants {
		if g.UserID != userID || !g.Active {
			continue
		}
		if latest == nil || g.CreatedAt.After(latest.CreatedAt) {
			latest = g
		}
	}
	if latest == nil {
		return nil, model.ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (t *memTx) DeactivateExpiredGrants(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for i, g := range t.data.grants {
		if g.Active && !now.Before(g.ExpiresAt) {
			updated := *g
			updated.Active = false
			t.data.grants[i] = &updated
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetBond(_ context.Context, userID, agentID string) (*model.BondState, error) {
	b, ok := t.data.bonds[bondKey{userID: userID, agentID: agentID}]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (t *memTx) PutBond(_ context.Context, bond *model.BondState) error {
	key := bondKey{userID: bond.UserID, agentID: bond.AgentID}
	now := t.now()
	b := *bond
	if existing, ok := t.data.bonds[key]; ok {
		b.CreatedAt = existing.CreatedAt
	} else {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	t.data.bonds[key] = &b
	bond.CreatedAt = b.CreatedAt
	bond.UpdatedAt = b.UpdatedAt
	return nil
}

func (t *memTx) ListUsage(_ context.Context, since time.Time, limit int) ([]*model.UsageEvent, error) {
	var out []*model.UsageEvent
	for _, e := range t.data.events {
		if e.OccurredAt.Before(since) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) ListGrants(_ context.Context, userID string) ([]*model.TierGrant, error) {
	var out []*model.TierGrant
	for _, g := range t.data.grants {
		if userID != "" && g.UserID != userID {
			continue
		}
		c := *g
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
