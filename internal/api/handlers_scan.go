package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/reelsync/internal/scanner"
)

// handleScanTrigger starts a background scan of the configured root.
// POST /api/v1/scan
func (r *Router) handleScanTrigger(w http.ResponseWriter, req *http.Request) {
	id, err := r.scannerService.Trigger(req.Context())
	switch {
	case errors.Is(err, scanner.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scanner.ErrScanInProgress):
		body := map[string]string{"error": err.Error()}
		if cfg, cerr := r.settingsService.Get(req.Context()); cerr == nil {
			if active, ok := r.scannerService.Registry().Active(cfg.Root); ok {
				body["task_id"] = active.ID
			}
		}
		writeJSON(w, http.StatusConflict, body)
		return
	case err != nil:
		r.logger.Error("triggering scan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// handleScanStatus returns a snapshot of a scan task.
// GET /api/v1/scan/{id}
func (r *Router) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	task, ok := r.scannerService.Task(req.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "scan task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}
