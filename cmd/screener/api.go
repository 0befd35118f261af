package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/alerts"
	"github.com/ceres-kyc/screening/internal/screening"
)

// apiServer exposes the screening engine over HTTP.
type apiServer struct {
	engine  *screening.Engine
	alerts  *alerts.Manager
	manager *screening.Manager
	log     *zap.SugaredLogger
}

func (s *apiServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/customers/{id}/screen", s.handleScreen)
	mux.HandleFunc("GET /api/customers/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/customers/{id}/matches", s.handleMatches)
	mux.HandleFunc("POST /api/batches", s.handleBatchScreen)
	mux.HandleFunc("GET /api/batches/{id}", s.handleBatch)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /api/sources/statistics", s.handleSourceStatistics)
	mux.HandleFunc("POST /api/sources/update", s.handleSourceUpdate)
}

func (s *apiServer) handleScreen(w http.ResponseWriter, r *http.Request) {
	opts := screening.ScreenOptions{
		ForceRefresh: r.URL.Query().Get("force") == "true",
	}
	summary, err := s.engine.Screen(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.CustomerSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) handleMatches(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := s.engine.CustomerMatches(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "count": len(matches)})
}

func (s *apiServer) handleBatchScreen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		CustomerIDs []string `json:"customer_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.CustomerIDs) == 0 {
		http.Error(w, "name and customer_ids are required", http.StatusBadRequest)
		return
	}
	batch, err := s.engine.BatchScreen(r.Context(), req.Name, req.CustomerIDs, screening.ScreenOptions{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.engine.Batch(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *apiServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var severities []alerts.Severity
	if sev := r.URL.Query().Get("severity"); sev != "" {
		severities = append(severities, alerts.Severity(sev))
	}
	active := s.alerts.Active(r.URL.Query().Get("user"), severities...)
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": active, "count": len(active)})
}

func (s *apiServer) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if !s.alerts.Acknowledge(r.Context(), r.PathValue("id"), req.UserID) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *apiServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		ResolutionNote string `json:"resolution_note"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if !s.alerts.Resolve(r.Context(), r.PathValue("id"), req.UserID, req.ResolutionNote) {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"resolved": true})
}

func (s *apiServer) handleSourceStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Statistics())
}

func (s *apiServer) handleSourceUpdate(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	results := s.manager.UpdateAll(r.Context(), force)

	out := make(map[string]any, len(results))
	for code, result := range results {
		entry := map[string]any{"updated": result.Updated}
		if result.Err != nil {
			entry["error"] = result.Err.Error()
		}
		out[code] = entry
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("Failed to encode response", "error", err)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, screening.ErrCustomerNotFound),
		errors.Is(err, screening.ErrBatchNotFound),
		errors.Is(err, screening.ErrUnknownSource):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, screening.ErrInvalidQuery):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, screening.ErrAllSourcesFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.log.Errorw("Request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
