package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// CommandHandler broadcasts hotkey commands to every widget.
type CommandHandler struct {
	ladders  Ladders
	validate *validator.Validate
	logger   *slog.Logger
}

func NewCommandHandler(ladders Ladders, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{
		ladders:  ladders,
		validate: newValidator(),
		logger:   logger.With(slog.String("handler", "commands")),
	}
}

// Send broadcasts the command and returns each widget's outcome keyed by
// guid.
// POST /api/commands
func (h *CommandHandler) Send(w http.ResponseWriter, r *http.Request) {
	var cmd domain.Command
	if err := decodeJSON(r, &cmd); err != nil {
		writeErr(w, err)
		return
	}
	if err := validateStruct(h.validate, cmd); err != nil {
		writeErr(w, err)
		return
	}

	outcomes, err := h.ladders.Broadcast(r.Context(), cmd)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: broadcast failed",
			slog.String("command", string(cmd.Type)),
			slog.String("error", err.Error()),
		)
		writeErr(w, err)
		return
	}

	out := make(map[string]outcomeResponse, len(outcomes))
	for guid, o := range outcomes {
		out[guid] = toOutcome(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": cmd.Type, "outcomes": out})
}
