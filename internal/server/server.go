// Package server exposes the engine over HTTP for the conversation runtime
// and operator tooling.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/calyxlabs/calyx/internal/engine"
	"github.com/calyxlabs/calyx/internal/model"
)

// Server wraps the engine with HTTP handlers.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

func New(e *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, logger: logger}
}

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/actions", s.handleProcessAction)
	mux.HandleFunc("GET /v1/users/{id}/usage", s.handleGetUsage)
	mux.HandleFunc("GET /v1/users/{id}/tier", s.handleGetTier)
	mux.HandleFunc("GET /v1/users/{id}/grants", s.handleListGrants)
	mux.HandleFunc("POST /v1/users/{id}/grants", s.handleActivateGrant)
	mux.HandleFunc("GET /v1/users/{id}/cooldowns/{kind}", s.handleGetCooldown)
	mux.HandleFunc("DELETE /v1/users/{id}/cooldowns", s.handleResetCooldowns)
	mux.HandleFunc("DELETE /v1/users/{id}/cooldowns/{kind}", s.handleResetCooldown)
	mux.HandleFunc("POST /v1/sweeps/grants", s.handleSweepGrants)
	mux.HandleFunc("GET /v1/bonds/{user}/{agent}", s.handleGetBond)
	mux.HandleFunc("POST /v1/bonds/{user}/{agent}/advance", s.handleAdvanceBond)
	return RecoveryMiddleware(s.logger, AuthMiddleware(authToken, LoggingMiddleware(s.logger, mux)))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// denialBody is the response shape for policy denials: the machine-readable
// reason plus the structured details clients render prompts from.
type denialBody struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Details any    `json:"details"`
}

// writeEngineError maps engine errors onto HTTP statuses. Policy denials are
// 4xx with structured bodies; everything else is a 500.
func writeEngineError(w http.ResponseWriter, err error) {
	if qe, ok := model.IsQuotaExceeded(err); ok {
		writeJSON(w, http.StatusTooManyRequests, denialBody{
			Error: err.Error(), Reason: "quota_exceeded", Details: qe,
		})
		return
	}
	if ce, ok := model.IsCooldownActive(err); ok {
		writeJSON(w, http.StatusTooManyRequests, denialBody{
			Error: err.Error(), Reason: "cooldown_active", Details: ce,
		})
		return
	}
	if ae, ok := model.IsAlreadyUsed(err); ok {
		writeJSON(w, http.StatusConflict, denialBody{
			Error: err.Error(), Reason: "grant_already_used", Details: ae,
		})
		return
	}
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
