package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/cooldown"
	"github.com/calyxlabs/calyx/internal/counter"
	"github.com/calyxlabs/calyx/internal/engine"
	"github.com/calyxlabs/calyx/internal/events"
	"github.com/calyxlabs/calyx/internal/progression"
	"github.com/calyxlabs/calyx/internal/store/memstore"
	"github.com/calyxlabs/calyx/internal/tier"
	"github.com/calyxlabs/calyx/internal/usage"
)

func newTestHandler(t *testing.T, authToken string) http.Handler {
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
	return New(e, nil).NewHTTPHandler(authToken)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, "")
	rec := doJSON(t, h, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestHandler(t, "secret")

	// Health is exempt.
	if rec := doJSON(t, h, http.MethodGet, "/v1/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	// Everything else requires the token.
	rec := doJSON(t, h, http.MethodGet, "/v1/users/u1/usage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/usage", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec2.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/users/u1/usage", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, req)
	if rec3.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec3.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := RecoveryMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)), panicky)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestProcessActionEndpoint(t *testing.T) {
	h := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/actions", map[string]any{
		"user_id":     "u1",
		"agent_id":    "a1",
		"action_kind": "message",
		"text":        "dime por qué desapareciste toda la semana",
		"trust":       0.3,
		"base_tier":   "free",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var res engine.ActionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Counted {
		t.Error("expected a counted message")
	}

	// Immediate second message: cooldown denial with a structured body.
	rec = doJSON(t, h, http.MethodPost, "/v1/actions", map[string]any{
		"user_id":     "u1",
		"action_kind": "message",
		"text":        "espera, una cosa más que se me olvidaba",
		"base_tier":   "free",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var denial struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &denial); err != nil {
		t.Fatalf("decode denial: %v", err)
	}
	if denial.Reason != "cooldown_active" {
		t.Errorf("reason = %q, want cooldown_active", denial.Reason)
	}
}

func TestProcessActionValidation(t *testing.T) {
	h := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/actions", map[string]any{"action_kind": "message"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/actions", map[string]any{"user_id": "u1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing action_kind status = %d, want 400", rec.Code)
	}
}

func TestGrantEndpoints(t *testing.T) {
	h := newTestHandler(t, "")

	body := map[string]any{
		"event_id": "valentines-2026",
		"to_tier":  "plus",
		"duration": "48h",
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/users/u1/grants", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Second activation for the same event conflicts.
	rec = doJSON(t, h, http.MethodPost, "/v1/users/u1/grants", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeat status = %d, want 409", rec.Code)
	}

	// The grant shows up in the tier resolution.
	rec = doJSON(t, h, http.MethodGet, "/v1/users/u1/tier?base=free", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tier status = %d", rec.Code)
	}
	var tierRes struct {
		Tier string `json:"tier"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tierRes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tierRes.Tier != "plus" {
		t.Errorf("tier = %q, want plus", tierRes.Tier)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/users/u1/grants", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("grants status = %d", rec.Code)
	}
	var grants struct {
		Grants []json.RawMessage `json:"grants"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &grants); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(grants.Grants) != 1 {
		t.Errorf("grants = %d, want 1", len(grants.Grants))
	}
}

func TestGrantValidation(t *testing.T) {
	h := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/users/u1/grants", map[string]any{"to_tier": "plus"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing event_id status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/users/u1/grants", map[string]any{
		"event_id": "e1", "to_tier": "platinum",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad tier status = %d, want 400", rec.Code)
	}
}

func TestBondEndpoints(t *testing.T) {
	h := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodGet, "/v1/bonds/u1/a1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing bond status = %d, want 404", rec.Code)
	}

	// Create the bond through the action pipeline.
	rec = doJSON(t, h, http.MethodPost, "/v1/actions", map[string]any{
		"user_id":     "u1",
		"agent_id":    "a1",
		"action_kind": "message",
		"text":        "cuéntame cómo fue crecer en ese lugar",
		"trust":       0.5,
		"base_tier":   "ultra",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("action status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/bonds/u1/a1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bond status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/bonds/u1/a1/advance", map[string]any{"base_tier": "ultra"})
	if rec.Code != http.StatusOK {
		t.Fatalf("advance status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCooldownEndpoints(t *testing.T) {
	h := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/actions", map[string]any{
		"user_id":     "u1",
		"action_kind": "message",
		"text":        "necesito contarte algo que pasó hoy en el trabajo",
		"base_tier":   "free",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("action status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/users/u1/cooldowns/message?tier=free", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cooldown status = %d", rec.Code)
	}
	var status struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Allowed {
		t.Error("expected an active cooldown right after a message")
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/users/u1/cooldowns", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d, want 204", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/users/u1/cooldowns/message?tier=free", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Allowed {
		t.Error("cooldown should be cleared after reset")
	}
}

func TestSweepEndpoint(t *testing.T) {
	h := newTestHandler(t, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/sweeps/grants", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep status = %d", rec.Code)
	}
	var res struct {
		Deactivated int64 `json:"deactivated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Deactivated != 0 {
		t.Errorf("deactivated = %d, want 0", res.Deactivated)
	}
}
