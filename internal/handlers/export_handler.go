package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/aubreys-it/en-export/internal/interfaces"
)

// ExportHandler exposes the export orchestrator over HTTP. The
// scheduled and manual endpoints are semantically identical; both run
// the orchestrator synchronously and report the outcome. Neither
// consumes a request body.
type ExportHandler struct {
	runner interfaces.ExportRunner
	logger arbor.ILogger

	mu       sync.Mutex
	lastRun  *interfaces.ExportResult
	lastErr  string
	lastTime time.Time
}

// NewExportHandler creates an export handler over the given runner.
func NewExportHandler(runner interfaces.ExportRunner, logger arbor.ILogger) *ExportHandler {
	return &ExportHandler{
		runner: runner,
		logger: logger,
	}
}

// RunHandler handles POST /api/export/run (manual invocation).
func (h *ExportHandler) RunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	h.execute(w, r, "manual")
}

// ScheduledHandler handles POST /api/export/scheduled (scheduled invocation).
func (h *ExportHandler) ScheduledHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	h.execute(w, r, "scheduled")
}

// StatusHandler handles GET /api/export/status, reporting the outcome
// of the most recent run on this instance.
func (h *ExportHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastTime.IsZero() {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}
	if h.lastErr != "" {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "error",
			"error":     h.lastErr,
			"timestamp": h.lastTime.UTC().Format(time.RFC3339),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"location":  h.lastRun.Location,
		"run_id":    h.lastRun.RunID,
		"timestamp": h.lastTime.UTC().Format(time.RFC3339),
	})
}

func (h *ExportHandler) execute(w http.ResponseWriter, r *http.Request, trigger string) {
	h.logger.Info().Str("trigger", trigger).Msg("Export triggered")

	result, err := h.runner.Run(r.Context())

	h.mu.Lock()
	h.lastRun = result
	h.lastTime = time.Now()
	if err != nil {
		h.lastErr = err.Error()
	} else {
		h.lastErr = ""
	}
	h.mu.Unlock()

	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"location":  result.Location,
		"object":    result.ObjectName,
		"run_id":    result.RunID,
		"timestamp": result.CompletedAt.Format(time.RFC3339),
	})
}
