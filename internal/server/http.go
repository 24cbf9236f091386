package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an http.Handler with all routes registered. Every route
// except GET /v1/health and GET /metrics requires a session.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/types", s.handleTypes)
	mux.HandleFunc("GET /v1/events", s.handleListEvents)
	mux.HandleFunc("POST /v1/events/viewed", s.handleMarkAllViewed)
	mux.HandleFunc("GET /v1/events/{id}", s.handleGetEvent)
	mux.HandleFunc("POST /v1/events/{id}/cancel", s.handleCancelEvent)
	mux.HandleFunc("POST /v1/events/{id}/retry", s.handleRetryEvent)
	mux.HandleFunc("POST /v1/events/{id}/view", s.handleViewEvent)
	mux.HandleFunc("POST /v1/tasks/{name}", s.handleSubmitTask)
	mux.HandleFunc("GET /v1/ws", s.handleWS)
	mux.HandleFunc("GET /v1/connections", s.handleConnections)

	var h http.Handler = mux
	h = AuthMiddleware(s.store, h)
	h = LoggingMiddleware(s.logger, h)
	h = RecoveryMiddleware(s.logger, h)
	return h
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTypes handles GET /v1/types.
func (s *Server) handleTypes(w http.ResponseWriter, _ *http.Request) {
	types := []string{}
	if s.mapping != nil {
		types = s.mapping.Types()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"types": types})
}

// handleConnections handles GET /v1/connections: the caller's live
// notification connections.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": s.presence.Roster(principal(r).ID)})
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
