package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// AuditHandler lists recent order actions.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger.With(slog.String("handler", "audit"))}
}

// List returns audit entries newest first.
// GET /api/audit?limit=50&offset=0&since=RFC3339&until=RFC3339
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
