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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Terminal endpoints. {address} is the host:port pair used
			// at connect time, e.g. /terminals/10.0.0.5:4370/status.
			r.Route("/terminals", func(r chi.Router) {
				r.Get("/", s.handleListTerminals)
				r.Post("/connect", s.handleConnect)

				r.Route("/{address}", func(r chi.Router) {
					r.Delete("/", s.handleDisconnect)
					r.Get("/status", s.handleStatus)
					r.Get("/time", s.handleGetTime)
					r.Put("/time", s.handleSetTime)
					r.Post("/enable", s.handleEnable)
					r.Post("/disable", s.handleDisable)
					r.Post("/restart", s.handleRestart)
					r.Post("/poweroff", s.handlePowerOff)

					r.Route("/users", func(r chi.Router) {
						r.Get("/", s.handleListUsers)
						r.Post("/", s.handleCreateUser)
						r.Delete("/", s.handleClearUsers)
						r.Post("/clear-admins", s.handleClearAdmins)

						r.Route("/{enroll}", func(r chi.Router) {
							r.Get("/", s.handleGetUser)
							r.Patch("/", s.handleUpdateUser)
							r.Delete("/", s.handleDeleteUser)
						})
					})

					r.Route("/attendance", func(r chi.Router) {
						r.Get("/", s.handleListAttendance)
						r.Delete("/", s.handleClearAttendance)
					})

					r.Route("/realtime", func(r chi.Router) {
						r.Post("/start", s.handleStartRealtime)
						r.Post("/stop", s.handleStopRealtime)
					})
				})
			})

			// Recorded event history (SQLite recorder)
			r.Get("/events/recent", s.handleRecentEvents)

			// WebSocket (auth via API key header or query parameter)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
