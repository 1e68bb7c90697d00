package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/calyxlabs/calyx/internal/engine"
	"github.com/calyxlabs/calyx/internal/model"
)

// handleProcessAction handles POST /v1/actions.
func (s *Server) handleProcessAction(w http.ResponseWriter, r *http.Request) {
	var req engine.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.ActionKind == "" {
		writeError(w, http.StatusBadRequest, "action_kind is required")
		return
	}

	res, err := s.engine.ProcessAction(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetUsage handles GET /v1/users/{id}/usage.
func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	base := model.ParseTier(r.URL.Query().Get("tier"))

	effective, snap, err := s.engine.UsageSnapshot(r.Context(), userID, base)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"tier":      effective,
		"resources": snap,
	})
}

// handleGetTier handles GET /v1/users/{id}/tier.
func (s *Server) handleGetTier(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	base := model.ParseTier(r.URL.Query().Get("base"))

	effective, err := s.engine.EffectiveTier(r.Context(), userID, base)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"base":    base,
		"tier":    effective,
	})
}

// handleListGrants handles GET /v1/users/{id}/grants.
func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.engine.Grants(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if grants == nil {
		grants = []*model.TierGrant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

type activateGrantInput struct {
	EventID   string `json:"event_id"`
	EventName string `json:"event_name"`
	BaseTier  string `json:"base_tier"`
	ToTier    string `json:"to_tier"`
	Duration  string `json:"duration"` // Go duration, e.g. "48h"
}

// handleActivateGrant handles POST /v1/users/{id}/grants.
func (s *Server) handleActivateGrant(w http.ResponseWriter, r *http.Request) {
	var in activateGrantInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	to := model.Tier(in.ToTier)
	if !to.IsValid() {
		writeError(w, http.StatusBadRequest, "to_tier must be a known tier")
		return
	}

	var duration time.Duration
	if in.Duration != "" {
		d, err := time.ParseDuration(in.Duration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		duration = d
	}

	grant, err := s.engine.ActivateGrant(r.Context(), r.PathValue("id"),
		in.EventID, in.EventName, model.ParseTier(in.BaseTier), to, duration)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

// handleGetCooldown handles GET /v1/users/{id}/cooldowns/{kind}.
func (s *Server) handleGetCooldown(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	kind := r.PathValue("kind")
	base := model.ParseTier(r.URL.Query().Get("tier"))

	status, err := s.engine.CheckCooldown(r.Context(), userID, kind, base)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        userID,
		"action_kind":    kind,
		"allowed":        status.Allowed,
		"wait_remaining": status.WaitRemaining.String(),
	})
}

// handleResetCooldowns handles DELETE /v1/users/{id}/cooldowns.
func (s *Server) handleResetCooldowns(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetCooldowns(r.Context(), r.PathValue("id"), "")
	w.WriteHeader(http.StatusNoContent)
}

// handleResetCooldown handles DELETE /v1/users/{id}/cooldowns/{kind}.
func (s *Server) handleResetCooldown(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetCooldowns(r.Context(), r.PathValue("id"), r.PathValue("kind"))
	w.WriteHeader(http.StatusNoContent)
}

// handleSweepGrants handles POST /v1/sweeps/grants.
func (s *Server) handleSweepGrants(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.SweepGrants(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deactivated": n})
}

// handleGetBond handles GET /v1/bonds/{user}/{agent}.
func (s *Server) handleGetBond(w http.ResponseWriter, r *http.Request) {
	bond, err := s.engine.Bond(r.Context(), r.PathValue("user"), r.PathValue("agent"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bond)
}

type advanceBondInput struct {
	BaseTier string `json:"base_tier"`
}

// handleAdvanceBond handles POST /v1/bonds/{user}/{agent}/advance.
func (s *Server) handleAdvanceBond(w http.ResponseWriter, r *http.Request) {
	var in advanceBondInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.engine.AdvanceBond(r.Context(),
		r.PathValue("user"), r.PathValue("agent"), model.ParseTier(in.BaseTier))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
