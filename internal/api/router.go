package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avolant/fleetgate/internal/device"
)

// buildRouter constructs the HTTP route tree with middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// Everything below requires a valid bearer token.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{name}/telemetry", s.handleGetTelemetry)
			r.Post("/devices/{name}/command", s.handleSendCommand)
		})
	})

	return r
}

// handleHealth reports service liveness and fleet connectivity counts.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := s.registry.ListStatuses()
	online := 0
	for _, st := range statuses {
		if st.Connectivity == device.ConnOnline {
			online++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"devices_total":  len(statuses),
		"devices_online": online,
	})
}
