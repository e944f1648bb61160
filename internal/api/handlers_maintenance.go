package api

import "net/http"

// handleMaintenanceStatus reports database size and snapshot history.
// GET /api/v1/maintenance
func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	st, err := r.maintenanceService.Status(req.Context())
	if err != nil {
		r.logger.Error("maintenance status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleOptimize runs PRAGMA optimize and a WAL checkpoint.
// POST /api/v1/maintenance/optimize
func (r *Router) handleOptimize(w http.ResponseWriter, req *http.Request) {
	if err := r.maintenanceService.Optimize(req.Context()); err != nil {
		r.logger.Error("optimize", "error", err)
		writeError(w, http.StatusInternalServerError, "optimize failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBackup writes a database snapshot.
// POST /api/v1/maintenance/backup
func (r *Router) handleBackup(w http.ResponseWriter, req *http.Request) {
	snap, err := r.maintenanceService.Backup(req.Context())
	if err != nil {
		r.logger.Error("backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}
