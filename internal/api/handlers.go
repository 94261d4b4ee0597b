// Package api exposes the admin query surface: incident listing and
// lifecycle updates, metric history, and dashboard rollups.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sentinel-engine/internal/dashboard"
	"sentinel-engine/internal/incident"
	"sentinel-engine/internal/monitor"
	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/storage"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	store   *incident.Store
	history *monitor.History
	agg     *dashboard.Aggregator
	logger  *slog.Logger
}

// NewServer creates a Server.
func NewServer(store *incident.Store, history *monitor.History, agg *dashboard.Aggregator, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		history: history,
		agg:     agg,
		logger:  logger,
	}
}

// Routes registers all endpoints on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/incidents", s.handleListIncidents)
	mux.HandleFunc("GET /v1/incidents/{id}", s.handleGetIncident)
	mux.HandleFunc("PATCH /v1/incidents/{id}", s.handleUpdateIncident)
	mux.HandleFunc("GET /v1/metrics/history", s.handleMetricHistory)
	mux.HandleFunc("GET /v1/metrics/latest", s.handleMetricLatest)
	mux.HandleFunc("GET /v1/dashboard/overview", s.handleOverview)
	mux.HandleFunc("GET /v1/dashboard/trend", s.handleTrend)
	mux.HandleFunc("GET /v1/dashboard/threat-sources", s.handleThreatSources)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"metrics_depth": s.history.Len(),
		"incidents":     s.store.Len(),
	})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := incident.QueryFilter{
		SourceIP: q.Get("source_ip"),
		Limit:    100,
	}

	if v := q.Get("threat_level"); v != "" {
		level := schema.ThreatLevel(v)
		if !level.IsValid() {
			writeJSONError(w, http.StatusBadRequest, "invalid threat_level")
			return
		}
		filter.ThreatLevel = level
	}
	if v := q.Get("category"); v != "" {
		cat := schema.Category(v)
		if !cat.IsValid() {
			writeJSONError(w, http.StatusBadRequest, "invalid category")
			return
		}
		filter.Category = cat
	}
	if v := q.Get("status"); v != "" {
		status := schema.IncidentStatus(v)
		if !status.IsValid() {
			writeJSONError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filter.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		filter.Until = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSONError(w, http.StatusBadRequest, "limit must be in 1..1000")
			return
		}
		filter.Limit = n
	}

	incidents := s.store.Query(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			writeJSONError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type updateIncidentRequest struct {
	Status          *schema.IncidentStatus `json:"status,omitempty"`
	AssignedTo      *string                `json:"assigned_to,omitempty"`
	ResolutionNotes *string                `json:"resolution_notes,omitempty"`
}

func (s *Server) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req updateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == nil && req.AssignedTo == nil && req.ResolutionNotes == nil {
		writeJSONError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	updated, err := s.store.Update(r.PathValue("id"), incident.UpdateFields{
		Status:          req.Status,
		AssignedTo:      req.AssignedTo,
		ResolutionNotes: req.ResolutionNotes,
	})
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			writeJSONError(w, http.StatusNotFound, "incident not found")
		default:
			writeJSONError(w, http.StatusBadRequest, "invalid update")
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleMetricHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be positive")
			return
		}
		limit = n
	}

	snaps := s.history.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

func (s *Server) handleMetricLatest(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.history.Latest()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no snapshots recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agg.Overview())
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	known := false
	for _, name := range schema.MetricNames {
		if metric == name {
			known = true
			break
		}
	}
	if !known {
		writeJSONError(w, http.StatusBadRequest, "unknown metric")
		return
	}
	writeJSON(w, http.StatusOK, s.agg.Trend(metric))
}

func (s *Server) handleThreatSources(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeJSONError(w, http.StatusBadRequest, "limit must be in 1..100")
			return
		}
		limit = n
	}
	sources := s.agg.TopThreatSources(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": sources,
		"count":   len(sources),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
