package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.instrument("health", s.handleHealth))
		r.Get("/status", s.instrument("status", s.handleStatus))
		r.Get("/nodes", s.instrument("nodes", s.handleListNodes))

		r.Route("/topics", func(r chi.Router) {
			r.Get("/", s.instrument("topics", s.handleListTopics))
			r.Get("/{topic}/subscribers", s.instrument("subscribers", s.handleListSubscribers))
			r.Post("/{topic}/broadcast", s.instrument("broadcast", s.handleBroadcast))
		})

		r.Get("/ws", s.instrument("ws", s.handleWebSocket))
	})

	return r
}

// instrument records request metrics for op when telemetry is configured.
func (s *Server) instrument(op string, h http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	return s.metrics.Instrument(op, h).ServeHTTP
}

// handleHealth returns the server health status. The relay's link state is
// reported but does not fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"relay":   "unavailable",
	}
	if relay, ok := s.relay(); ok {
		resp["relay"] = relay.State().Status.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
