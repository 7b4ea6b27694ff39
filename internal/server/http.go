package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/spacesync/internal/core/observability/log"
)

// Router builds the HTTP surface of the relay. Links upgraded on /ws live
// until ctx is cancelled.
func (s *Server) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket(ctx))
	r.Get("/health", s.handleHealth)
	r.Get("/spaces", s.handleSpaces)
	r.Get("/spaces/{spaceID}", s.handleSpace)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": st.Clients,
		"spaces":  st.Spaces,
	})
}

func (s *Server) handleSpaces(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.relay.Spaces())
}

func (s *Server) handleSpace(w http.ResponseWriter, r *http.Request) {
	info, err := s.relay.Space(chi.URLParam(r, "spaceID"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", log.Error(err))
	}
}
