package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the process status shown by the UI.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	ladders   Ladders
}

func NewStatusHandler(mode string, startedAt time.Time, ladders Ladders) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, ladders: ladders}
}

// GetStatus responds with the run mode, uptime, open widgets and the
// active one.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"instances":      len(h.ladders.Instances()),
		"active":         h.ladders.Active(),
	})
}
