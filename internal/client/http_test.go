package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/cooldown"
	"github.com/calyxlabs/calyx/internal/counter"
	"github.com/calyxlabs/calyx/internal/engine"
	"github.com/calyxlabs/calyx/internal/events"
	"github.com/calyxlabs/calyx/internal/model"
	"github.com/calyxlabs/calyx/internal/progression"
	"github.com/calyxlabs/calyx/internal/server"
	"github.com/calyxlabs/calyx/internal/store/memstore"
	"github.com/calyxlabs/calyx/internal/tier"
	"github.com/calyxlabs/calyx/internal/usage"
)

// newTestServer runs the real HTTP handler over an in-memory store so client
// round-trips exercise the same routes and error bodies production serves.
func newTestServer(t *testing.T, authToken string) *httptest.Server {
	t.Helper()
	st := memstore.New()
	cat := catalog.Default()

	e := engine.New(engine.Params{
		Store:     st,
		Catalog:   cat,
		Cooldowns: cooldown.New(nil, counter.NewMemoryBackend(), cat, nil),
		Counter:   usage.NewCounter(st, nil),
		Tiers:     tier.NewPolicy(st, cat, nil),
		Bonds:     progression.NewTracker(st, cat, nil),
		Publisher: events.Discard,
	})
	srv := httptest.NewServer(server.New(e, nil).NewHTTPHandler(authToken))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")
	c := NewHTTPClient(srv.URL, "")

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}
}

func TestAuthToken(t *testing.T) {
	srv := newTestServer(t, "secret")
	ctx := context.Background()

	bad := NewHTTPClient(srv.URL, "wrong")
	_, err := bad.GetUsage(ctx, "u1", model.TierFree)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("err = %v, want APIError 401", err)
	}

	good := NewHTTPClient(srv.URL, "secret")
	if _, err := good.GetUsage(ctx, "u1", model.TierFree); err != nil {
		t.Fatalf("GetUsage with token: %v", err)
	}
}

func TestActionAndCooldownRoundTrip(t *testing.T) {
	srv := newTestServer(t, "")
	c := NewHTTPClient(srv.URL, "")
	ctx := context.Background()

	res, err := c.ProcessAction(ctx, &engine.ActionRequest{
		UserID:     "u1",
		AgentID:    "a1",
		ActionKind: "message",
		Text:       "tell me about the harbor district",
		Trust:      0.3,
		BaseTier:   model.TierFree,
	})
	if err != nil {
		t.Fatalf("ProcessAction: %v", err)
	}
	if !res.Counted {
		t.Error("first message should count")
	}
	if res.Tier != model.TierFree {
		t.Errorf("tier = %s, want free", res.Tier)
	}

	// A second message inside the cooldown window comes back as the typed
	// denial, not a bare HTTP error.
	_, err = c.ProcessAction(ctx, &engine.ActionRequest{
		UserID:     "u1",
		ActionKind: "message",
		Text:       "and the lighthouse?",
		BaseTier:   model.TierFree,
	})
	ce, ok := model.IsCooldownActive(err)
	if !ok {
		t.Fatalf("err = %v, want CooldownActiveError", err)
	}
	if ce.ActionKind != "message" || ce.WaitRemaining <= 0 {
		t.Errorf("denial = %+v", ce)
	}

	cd, err := c.GetCooldown(ctx, "u1", "message", model.TierFree)
	if err != nil {
		t.Fatalf("GetCooldown: %v", err)
	}
	if cd.Allowed {
		t.Error("cooldown should still be active")
	}

	if err := c.ResetCooldowns(ctx, "u1", "message"); err != nil {
		t.Fatalf("ResetCooldowns: %v", err)
	}
	cd, err = c.GetCooldown(ctx, "u1", "message", model.TierFree)
	if err != nil {
		t.Fatalf("GetCooldown after reset: %v", err)
	}
	if !cd.Allowed {
		t.Error("cooldown should be clear after reset")
	}

	snap, err := c.GetUsage(ctx, "u1", model.TierFree)
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	found := false
	for _, ru := range snap.Resources {
		if ru.Kind == model.ResourceMessage && ru.Window == model.WindowDaily {
			found = true
			if ru.Used != 1 {
				t.Errorf("messages used = %d, want 1", ru.Used)
			}
		}
	}
	if !found {
		t.Error("snapshot missing daily message row")
	}

	bond, err := c.GetBond(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("GetBond: %v", err)
	}
	if bond.TotalInteractions != 1 {
		t.Errorf("interactions = %d, want 1", bond.TotalInteractions)
	}

	advRes, err := c.AdvanceBond(ctx, "u1", "a1", model.TierFree)
	if err != nil {
		t.Fatalf("AdvanceBond: %v", err)
	}
	if advRes.Bond == nil {
		t.Fatal("AdvanceBond returned nil bond")
	}
}

func TestGrantLifecycle(t *testing.T) {
	srv := newTestServer(t, "")
	c := NewHTTPClient(srv.URL, "")
	ctx := context.Background()

	grant, err := c.ActivateGrant(ctx, "u1", &ActivateGrantRequest{
		EventID:  "evt-launch",
		ToTier:   model.TierPlus,
		Duration: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("ActivateGrant: %v", err)
	}
	if grant.ToTier != model.TierPlus {
		t.Errorf("to_tier = %s, want plus", grant.ToTier)
	}

	// Same (user, event) is idempotent and comes back typed.
	_, err = c.ActivateGrant(ctx, "u1", &ActivateGrantRequest{
		EventID: "evt-launch",
		ToTier:  model.TierUltra,
	})
	if _, ok := model.IsAlreadyUsed(err); !ok {
		t.Fatalf("err = %v, want AlreadyUsedError", err)
	}

	tr, err := c.GetTier(ctx, "u1", model.TierFree)
	if err != nil {
		t.Fatalf("GetTier: %v", err)
	}
	if tr.Tier != model.TierPlus {
		t.Errorf("effective tier = %s, want plus", tr.Tier)
	}

	grants, err := c.ListGrants(ctx, "u1")
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 1 {
		t.Errorf("len(grants) = %d, want 1", len(grants))
	}

	n, err := c.SweepGrants(ctx)
	if err != nil {
		t.Fatalf("SweepGrants: %v", err)
	}
	if n != 0 {
		t.Errorf("deactivated = %d, want 0 (grant still live)", n)
	}
}

func TestGetBondNotFound(t *testing.T) {
	srv := newTestServer(t, "")
	c := NewHTTPClient(srv.URL, "")

	_, err := c.GetBond(context.Background(), "nobody", "a1")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
