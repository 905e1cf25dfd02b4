package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Export triggers (scheduled and manual are
	// semantically identical; both run one export synchronously)
	mux.HandleFunc("/api/export/run", s.app.ExportHandler.RunHandler)             // POST - manual invocation
	mux.HandleFunc("/api/export/scheduled", s.app.ExportHandler.ScheduledHandler) // POST - scheduled invocation
	mux.HandleFunc("/api/export/status", s.app.ExportHandler.StatusHandler)       // GET - last run outcome

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
