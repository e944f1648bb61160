package api

import (
	"net/http"

	"github.com/sydlexius/reelsync/internal/logging"
	"github.com/sydlexius/reelsync/internal/settings"
)

// KeyLogLevel persists the runtime log level.
const KeyLogLevel = "logging.level"

type settingsResponse struct {
	settings.Settings
	LogLevel string `json:"log_level"`
}

type settingsRequest struct {
	settings.Update
	LogLevel *string `json:"log_level"`
}

// handleGetSettings returns the effective settings with secrets masked.
// GET /api/v1/settings
func (r *Router) handleGetSettings(w http.ResponseWriter, req *http.Request) {
	r.writeSettings(w, req)
}

// handleUpdateSettings applies a partial settings update.
// PUT /api/v1/settings
func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	var body settingsRequest
	if !decodeBody(w, req, &body) {
		return
	}
	if body.LogLevel != nil && !logging.ValidLevel(*body.LogLevel) {
		writeError(w, http.StatusBadRequest, "invalid log level")
		return
	}
	if body.RequestDelayMS != nil && *body.RequestDelayMS < 0 {
		writeError(w, http.StatusBadRequest, "request_delay_ms must not be negative")
		return
	}

	if err := r.settingsService.Apply(req.Context(), body.Update); err != nil {
		r.logger.Error("saving settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if body.LogLevel != nil {
		if err := r.store.SetGlobalValue(req.Context(), KeyLogLevel, *body.LogLevel); err != nil {
			r.logger.Error("saving log level", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if r.logManager != nil {
			_ = r.logManager.SetLevel(*body.LogLevel)
		}
	}

	r.logger.Info("settings updated")
	r.writeSettings(w, req)
}

func (r *Router) writeSettings(w http.ResponseWriter, req *http.Request) {
	s, err := r.settingsService.Get(req.Context())
	if err != nil {
		r.logger.Error("loading settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := settingsResponse{Settings: s.Masked()}
	if r.logManager != nil {
		resp.LogLevel = r.logManager.Config().Level
	}
	writeJSON(w, http.StatusOK, resp)
}
