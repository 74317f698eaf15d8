package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensorflash-core/internal/webui"
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

	// Browser flashing console (embedded via go:embed)
	r.Handle("/ui/*", http.StripPrefix("/ui", webui.Handler(s.cfg.UIDir)))
	r.Handle("/ui", http.RedirectHandler("/ui/", http.StatusMovedPermanently))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Port enumeration for the port picker
		r.Get("/ports", s.handleListPorts)

		// Session control
		r.Post("/flash", s.handleFlash)
		r.Get("/session", s.handleGetSession)
		r.Post("/disconnect", s.handleDisconnect)

		// Live serial monitor
		r.Route("/monitor", func(r chi.Router) {
			r.Post("/start", s.handleMonitorStart)
			r.Post("/stop", s.handleMonitorStop)
		})

		// Session history
		r.Route("/history", func(r chi.Router) {
			r.Get("/sessions", s.handleListHistory)
			r.Get("/sessions/{id}", s.handleGetHistory)
		})

		// WebSocket event stream
		r.Get("/ws", s.handleWebSocket)
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
