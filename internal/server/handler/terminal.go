package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// TerminalHandler serves the terminal-wide settings shared by all widgets.
type TerminalHandler struct {
	ladders  Ladders
	store    domain.SettingsStore // optional
	validate *validator.Validate
	logger   *slog.Logger
}

func NewTerminalHandler(ladders Ladders, store domain.SettingsStore, logger *slog.Logger) *TerminalHandler {
	return &TerminalHandler{
		ladders:  ladders,
		store:    store,
		validate: newValidator(),
		logger:   logger.With(slog.String("handler", "terminal")),
	}
}

// GET /api/terminal/settings
func (h *TerminalHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ladders.Terminal())
}

// Put replaces terminal settings and resyncs every widget's working volumes.
// PUT /api/terminal/settings
func (h *TerminalHandler) Put(w http.ResponseWriter, r *http.Request) {
	var ts domain.TerminalSettings
	if err := decodeJSON(r, &ts); err != nil {
		writeErr(w, err)
		return
	}
	if err := validateStruct(h.validate, ts); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.ladders.UpdateTerminalSettings(r.Context(), ts); err != nil {
		writeErr(w, err)
		return
	}
	if h.store != nil {
		if err := h.store.SaveTerminal(r.Context(), ts); err != nil {
			h.logger.WarnContext(r.Context(), "save terminal settings failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, ts)
}
