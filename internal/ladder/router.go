package ladder

import (
	"context"
	"log/slog"
	"math"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// Scope is the class a command was routed through.
type Scope string

const (
	ScopeCommon  Scope = "common"
	ScopeAll     Scope = "all"
	ScopeCurrent Scope = "current"
	ScopeMouse   Scope = "mouse"
)

// Action is what the router did with a command.
type Action string

const (
	ActionIgnored        Action = "ignored"
	ActionCenter         Action = "center"
	ActionVolumeSelected Action = "volume_selected"
	ActionDispatched     Action = "dispatched"
	ActionNoVolume       Action = "no_volume"
)

// Outcome reports how a command was handled. Err carries a submission error
// when the submitter returned one; it is informational only.
type Outcome struct {
	Scope  Scope
	Action Action
	Err    error
}

// RouterContext is the instance state a command is resolved against.
type RouterContext struct {
	Settings   domain.WidgetSettings
	Instrument domain.Instrument
	Book       domain.OrderBookSnapshot
	Orders     []domain.Order
	Active     bool
}

// Router turns hotkey and mouse commands into calls on an OrderSubmitter.
// It owns the working-volume selection of one widget instance and is not
// safe for concurrent use.
type Router struct {
	submitter domain.OrderSubmitter
	logger    *slog.Logger

	mouse   domain.MouseActionsMap
	volumes []float64
	active  *float64
}

// NewRouter creates a Router using the scheme1 mouse mapping.
func NewRouter(submitter domain.OrderSubmitter, logger *slog.Logger) *Router {
	return &Router{
		submitter: submitter,
		logger:    logger.With(slog.String("component", "command_router")),
		mouse:     MouseActionsFor(domain.MouseScheme1),
	}
}

// SetMouseActions replaces the mouse mapping. A nil or empty map restores
// scheme1.
func (r *Router) SetMouseActions(m *domain.MouseActionsMap) {
	if m == nil || len(m.Actions) == 0 {
		r.mouse = MouseActionsFor(domain.MouseScheme1)
		return
	}
	r.mouse = domain.MouseActionsMap{
		Name:    m.Name,
		Actions: append([]domain.MouseActionsMapItem(nil), m.Actions...),
	}
}

// WorkingVolumes returns the selectable volumes.
func (r *Router) WorkingVolumes() []float64 {
	return append([]float64(nil), r.volumes...)
}

// ActiveWorkingVolume returns the selected volume.
func (r *Router) ActiveWorkingVolume() (float64, bool) {
	if r.active == nil {
		return 0, false
	}
	return *r.active, true
}

// SyncWorkingVolumes rebuilds the volume list from the widget's volumes and
// the terminal's working-volume hotkeys. For every hotkey slot i the widget
// volume is used when positive, otherwise 10^i. Without hotkey slots the
// widget volumes are taken as they are. The first volume is selected when
// nothing is.
func (r *Router) SyncWorkingVolumes(widget []float64, hotkeys domain.HotKeysSettings) []float64 {
	var volumes []float64
	if n := len(hotkeys.WorkingVolumes); n > 0 {
		volumes = make([]float64, n)
		for i := range volumes {
			if i < len(widget) && widget[i] > 0 {
				volumes[i] = widget[i]
			} else {
				volumes[i] = math.Pow10(i)
			}
		}
	} else {
		for _, v := range widget {
			if v > 0 {
				volumes = append(volumes, v)
			}
		}
	}
	r.volumes = volumes

	if r.active == nil && len(volumes) > 0 {
		v := volumes[0]
		r.active = &v
	}
	return r.WorkingVolumes()
}

// SelectWorkingVolume selects a volume by 1-based index. Out of range
// indices are ignored.
func (r *Router) SelectWorkingVolume(index int) bool {
	if index < 1 || index > len(r.volumes) {
		return false
	}
	v := r.volumes[index-1]
	r.active = &v
	return true
}

// SetActiveWorkingVolume selects an explicit volume, e.g. one picked in the UI.
func (r *Router) SetActiveWorkingVolume(v float64) {
	if v <= 0 {
		r.active = nil
		return
	}
	r.active = &v
}

// Handle routes a hotkey command.
func (r *Router) Handle(ctx context.Context, rc RouterContext, cmd domain.Command) Outcome {
	if cmd.Type == domain.CommandCenterOrderBook {
		return Outcome{Scope: ScopeCommon, Action: ActionCenter}
	}
	if rc.Settings.DisableHotkeys {
		return Outcome{Scope: ScopeCommon, Action: ActionIgnored}
	}

	if out, ok := r.handleAll(ctx, rc, cmd); ok {
		return out
	}
	if !rc.Active {
		return Outcome{Scope: ScopeCurrent, Action: ActionIgnored}
	}
	return r.handleCurrent(ctx, rc, cmd)
}

func (r *Router) handleAll(ctx context.Context, rc RouterContext, cmd domain.Command) (Outcome, bool) {
	switch cmd.Type {
	case domain.CommandCancelLimitOrdersAll:
		return r.cancel(ctx, ScopeAll, workingOrders(rc, false)), true
	case domain.CommandClosePositionsByMarketAll:
		return r.dispatch(ScopeAll, cmd.Type, r.submitter.ClosePositionsByMarket(ctx, rc.Settings)), true
	}
	return Outcome{}, false
}

func (r *Router) handleCurrent(ctx context.Context, rc RouterContext, cmd domain.Command) Outcome {
	if idx, ok := cmd.WorkingVolumeIndex(); ok {
		if r.SelectWorkingVolume(idx) {
			return Outcome{Scope: ScopeCurrent, Action: ActionVolumeSelected}
		}
		return Outcome{Scope: ScopeCurrent, Action: ActionIgnored}
	}

	switch cmd.Type {
	case domain.CommandCancelLimitOrdersCurrent:
		return r.cancel(ctx, ScopeCurrent, workingOrders(rc, false))
	case domain.CommandCancelStopOrdersCurrent:
		return r.cancel(ctx, ScopeCurrent, workingOrders(rc, true))
	case domain.CommandClosePositionsByMarketCurrent:
		return r.dispatch(ScopeCurrent, cmd.Type, r.submitter.ClosePositionsByMarket(ctx, rc.Settings))
	case domain.CommandReversePositionsByMarketCurrent:
		return r.dispatch(ScopeCurrent, cmd.Type, r.submitter.ReversePositionsByMarket(ctx, rc.Settings))
	}

	vol, ok := r.ActiveWorkingVolume()
	var (
		side domain.Side
		call func() error
	)
	switch cmd.Type {
	case domain.CommandSellBestOrder, domain.CommandBuyBestOrder:
		side = bestSide(cmd.Type == domain.CommandBuyBestOrder)
		call = func() error {
			return r.submitter.PlaceBestOrder(ctx, rc.Settings, rc.Instrument, side, vol, rc.Book)
		}
	case domain.CommandSellBestBid:
		side = domain.SideSell
		call = func() error {
			bid, ok := rc.Book.BestBid()
			if !ok {
				return domain.ErrNoBestPrice
			}
			return r.submitter.PlaceLimitOrder(ctx, rc.Settings, side, vol, bid.Price, true)
		}
	case domain.CommandBuyBestAsk:
		side = domain.SideBuy
		call = func() error {
			ask, ok := rc.Book.BestAsk()
			if !ok {
				return domain.ErrNoBestPrice
			}
			return r.submitter.PlaceLimitOrder(ctx, rc.Settings, side, vol, ask.Price, true)
		}
	case domain.CommandSellMarket, domain.CommandBuyMarket:
		side = bestSide(cmd.Type == domain.CommandBuyMarket)
		call = func() error {
			return r.submitter.PlaceMarketOrder(ctx, rc.Settings, side, vol, true)
		}
	default:
		return Outcome{Scope: ScopeCurrent, Action: ActionIgnored}
	}

	if !ok {
		return Outcome{Scope: ScopeCurrent, Action: ActionNoVolume}
	}
	return r.dispatch(ScopeCurrent, cmd.Type, call())
}

// HandleMouse routes a click on a row. Rows that are not ask or bid rows
// never produce orders.
func (r *Router) HandleMouse(ctx context.Context, rc RouterContext, ev domain.MouseEvent) Outcome {
	if !ev.Row.RowType.IsOrderable() {
		return Outcome{Scope: ScopeMouse, Action: ActionIgnored}
	}
	action, ok := resolveMouseAction(r.mouse, ev)
	if !ok {
		return Outcome{Scope: ScopeMouse, Action: ActionIgnored}
	}
	vol, ok := r.ActiveWorkingVolume()
	if !ok {
		return Outcome{Scope: ScopeMouse, Action: ActionNoVolume}
	}

	silent := rc.Settings.EnableMouseClickSilentOrders
	price := ev.Row.Price

	var err error
	switch action {
	case domain.MouseActionLimitBuy:
		err = r.submitter.PlaceLimitOrder(ctx, rc.Settings, domain.SideBuy, vol, price, silent)
	case domain.MouseActionLimitSell:
		err = r.submitter.PlaceLimitOrder(ctx, rc.Settings, domain.SideSell, vol, price, silent)
	case domain.MouseActionMarketBuy:
		err = r.submitter.PlaceMarketOrder(ctx, rc.Settings, domain.SideBuy, vol, silent)
	case domain.MouseActionMarketSell:
		err = r.submitter.PlaceMarketOrder(ctx, rc.Settings, domain.SideSell, vol, silent)
	case domain.MouseActionStopLimit:
		err = r.submitter.SetStopLimitForRow(ctx, rc.Settings, ev.Row, vol, silent)
	case domain.MouseActionStopLimitBuy, domain.MouseActionStopLimitSell:
		row := ev.Row
		row.RowType = domain.RowTypeAsk
		if action == domain.MouseActionStopLimitSell {
			row.RowType = domain.RowTypeBid
		}
		err = r.submitter.SetStopLimitForRow(ctx, rc.Settings, row, vol, silent)
	case domain.MouseActionStopLoss:
		err = r.submitter.SetStopLoss(ctx, rc.Settings, price, silent)
	default:
		return Outcome{Scope: ScopeMouse, Action: ActionIgnored}
	}
	return r.dispatch(ScopeMouse, domain.CommandType(action), err)
}

// CancelRowOrders cancels every order resting on row.
func (r *Router) CancelRowOrders(ctx context.Context, row domain.BodyRow) Outcome {
	return r.cancel(ctx, ScopeMouse, row.CurrentOrders)
}

func (r *Router) cancel(ctx context.Context, scope Scope, orders []domain.CurrentOrder) Outcome {
	if len(orders) == 0 {
		return Outcome{Scope: scope, Action: ActionIgnored}
	}
	return r.dispatch(scope, "cancel", r.submitter.CancelOrders(ctx, orders))
}

func (r *Router) dispatch(scope Scope, what domain.CommandType, err error) Outcome {
	if err != nil {
		r.logger.Warn("order action failed",
			slog.String("scope", string(scope)),
			slog.String("action", string(what)),
			slog.String("error", err.Error()),
		)
	}
	return Outcome{Scope: scope, Action: ActionDispatched, Err: err}
}

// workingOrders selects the instance's working orders of one kind.
func workingOrders(rc RouterContext, stops bool) []domain.CurrentOrder {
	key := rc.Settings.InstrumentKey()
	var out []domain.CurrentOrder
	for _, o := range rc.Orders {
		if o.Status != domain.OrderStatusWorking || o.Type.IsStop() != stops {
			continue
		}
		if !o.Key.Equal(key) || (rc.Settings.Portfolio != "" && o.Portfolio != rc.Settings.Portfolio) {
			continue
		}
		if !stops && o.Type != domain.OrderTypeLimit {
			continue
		}
		out = append(out, o.ToCurrentOrder())
	}
	return out
}

func bestSide(buy bool) domain.Side {
	if buy {
		return domain.SideBuy
	}
	return domain.SideSell
}
