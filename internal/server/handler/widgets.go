package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/ladder"
	"github.com/alanyoungcy/scalperladder/internal/session"
)

// Ladders is the session surface the HTTP layer drives.
type Ladders interface {
	Open(ctx context.Context, settings domain.WidgetSettings) (*session.Instance, error)
	Instance(guid string) (*session.Instance, error)
	Instances() []*session.Instance
	Close(guid string) error
	Active() string
	Activate(ctx context.Context, guid string) error
	Terminal() domain.TerminalSettings
	UpdateTerminalSettings(ctx context.Context, ts domain.TerminalSettings) error
	Broadcast(ctx context.Context, cmd domain.Command) (map[string]ladder.Outcome, error)
}

// ViewForgetter drops cached views of closed widgets.
type ViewForgetter interface {
	Forget(guid string)
}

// WidgetHandler serves the per-widget endpoints under /api/widgets.
type WidgetHandler struct {
	ladders  Ladders
	store    domain.SettingsStore // optional
	views    ViewForgetter        // optional
	validate *validator.Validate
	logger   *slog.Logger
}

func NewWidgetHandler(ladders Ladders, store domain.SettingsStore, views ViewForgetter, logger *slog.Logger) *WidgetHandler {
	return &WidgetHandler{
		ladders:  ladders,
		store:    store,
		views:    views,
		validate: newValidator(),
		logger:   logger.With(slog.String("handler", "widgets")),
	}
}

type widgetResponse struct {
	GUID     string                `json:"guid"`
	Active   bool                  `json:"active"`
	Settings domain.WidgetSettings `json:"settings"`
}

type outcomeResponse struct {
	Scope  ladder.Scope  `json:"scope"`
	Action ladder.Action `json:"action"`
	Error  string        `json:"error,omitempty"`
}

func toOutcome(o ladder.Outcome) outcomeResponse {
	out := outcomeResponse{Scope: o.Scope, Action: o.Action}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return out
}

// List returns every open widget.
// GET /api/widgets
func (h *WidgetHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.ladders.Active()
	instances := h.ladders.Instances()
	out := make([]widgetResponse, 0, len(instances))
	for _, inst := range instances {
		out = append(out, widgetResponse{GUID: inst.GUID(), Active: inst.GUID() == active, Settings: inst.Settings()})
	}
	writeJSON(w, http.StatusOK, out)
}

// Create opens a widget instance. An empty guid gets a generated one.
// POST /api/widgets
func (h *WidgetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var settings domain.WidgetSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeErr(w, err)
		return
	}
	if err := validateStruct(h.validate, settings); err != nil {
		writeErr(w, err)
		return
	}

	inst, err := h.ladders.Open(r.Context(), settings)
	if err != nil {
		h.fail(r, "open widget", err)
		writeErr(w, err)
		return
	}
	h.persist(r.Context(), inst.Settings())
	writeJSON(w, http.StatusCreated, widgetResponse{
		GUID:     inst.GUID(),
		Active:   inst.GUID() == h.ladders.Active(),
		Settings: inst.Settings(),
	})
}

// Delete closes a widget and forgets its stored settings.
// DELETE /api/widgets/{guid}
func (h *WidgetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")
	if err := h.ladders.Close(guid); err != nil {
		writeErr(w, err)
		return
	}
	if h.views != nil {
		h.views.Forget(guid)
	}
	if h.store != nil {
		if err := h.store.DeleteWidget(r.Context(), guid); err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.fail(r, "delete widget settings", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the widget's current settings.
// GET /api/widgets/{guid}/settings
func (h *WidgetHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.Settings())
}

// PutSettings replaces the widget's settings. Identical settings are a
// no-op inside the instance.
// PUT /api/widgets/{guid}/settings
func (h *WidgetHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(w, r)
	if !ok {
		return
	}
	var settings domain.WidgetSettings
	if err := decodeJSON(r, &settings); err != nil {
		writeErr(w, err)
		return
	}
	settings.GUID = inst.GUID()
	if err := validateStruct(h.validate, settings); err != nil {
		writeErr(w, err)
		return
	}
	if err := inst.Update(r.Context(), settings); err != nil {
		writeErr(w, err)
		return
	}
	h.persist(r.Context(), settings)
	writeJSON(w, http.StatusOK, settings)
}

// Rows returns the latest rendered view.
// GET /api/widgets/{guid}/rows
func (h *WidgetHandler) Rows(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.View())
}

type scrollRequest struct {
	Direction session.ScrollDirection `json:"direction" validate:"oneof=top bottom"`
}

// Scroll extends the ladder window at the top or bottom.
// POST /api/widgets/{guid}/scroll
func (h *WidgetHandler) Scroll(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(w, r)
	if !ok {
		return
	}
	var req scrollRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	added, err := inst.Scroll(r.Context(), req.Direction)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// Activate makes the widget the target of current-instance hotkeys.
// POST /api/widgets/{guid}/activate
func (h *WidgetHandler) Activate(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")
	if err := h.ladders.Activate(r.Context(), guid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": guid})
}

// Click applies a mouse click on a ladder row.
// POST /api/widgets/{guid}/click
func (h *WidgetHandler) Click(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(w, r)
	if !ok {
		return
	}
	var ev domain.MouseEvent
	if err := h.decodeValid(r, &ev); err != nil {
		writeErr(w, err)
		return
	}
	out, err := inst.Click(r.Context(), ev)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcome(out))
}

type cancelRowRequest struct {
	Price float64 `json:"price" validate:"gt=0"`
}

// CancelRow cancels every order resting at the row's price.
// POST /api/widgets/{guid}/rows/cancel
func (h *WidgetHandler) CancelRow(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(w, r)
	if !ok {
		return
	}
	var req cancelRowRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	out, err := inst.CancelRow(r.Context(), req.Price)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcome(out))
}

type volumeRequest struct {
	Volume float64 `json:"volume" validate:"gt=0"`
}

// SelectVolume sets the active working volume.
// POST /api/widgets/{guid}/volume
func (h *WidgetHandler) SelectVolume(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.instance(w, r)
	if !ok {
		return
	}
	var req volumeRequest
	if err := h.decodeValid(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := inst.SelectVolume(r.Context(), req.Volume); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *WidgetHandler) instance(w http.ResponseWriter, r *http.Request) (*session.Instance, bool) {
	inst, err := h.ladders.Instance(r.PathValue("guid"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return inst, true
}

func (h *WidgetHandler) decodeValid(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	return validateStruct(h.validate, v)
}

// persist stores settings best effort; the running instance is the source
// of truth until restart.
func (h *WidgetHandler) persist(ctx context.Context, s domain.WidgetSettings) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveWidget(ctx, s); err != nil {
		h.logger.WarnContext(ctx, "save widget settings failed",
			slog.String("guid", s.GUID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *WidgetHandler) fail(r *http.Request, op string, err error) {
	if errorStatus(err) < http.StatusInternalServerError {
		return
	}
	h.logger.ErrorContext(r.Context(), fmt.Sprintf("handler: %s failed", op), slog.String("error", err.Error()))
}
