package ladder

import "github.com/alanyoungcy/scalperladder/internal/domain"

var schemes = map[domain.MouseActionsScheme][]domain.MouseActionsMapItem{
	domain.MouseScheme1: {
		{Button: domain.MouseButtonLeft, RowType: domain.RowTypeAny, Modifier: domain.ModifierCtrl, Action: domain.MouseActionStopLimit},
		{Button: domain.MouseButtonLeft, RowType: domain.RowTypeAsk, Modifier: domain.ModifierShift, Action: domain.MouseActionStopLoss},
		{Button: domain.MouseButtonLeft, RowType: domain.RowTypeBid, Action: domain.MouseActionLimitBuy},
		{Button: domain.MouseButtonLeft, RowType: domain.RowTypeAsk, Action: domain.MouseActionLimitSell},
		{Button: domain.MouseButtonRight, RowType: domain.RowTypeBid, AnyModifier: true, Action: domain.MouseActionMarketSell},
		{Button: domain.MouseButtonRight, RowType: domain.RowTypeAsk, AnyModifier: true, Action: domain.MouseActionMarketBuy},
	},
	domain.MouseScheme2: {
		{Button: domain.MouseButtonRight, RowType: domain.RowTypeAny, Modifier: domain.ModifierCtrl, Action: domain.MouseActionStopLimit},
		{Button: domain.MouseButtonRight, RowType: domain.RowTypeAny, Modifier: domain.ModifierShift, Action: domain.MouseActionStopLoss},
		{Button: domain.MouseButtonRight, RowType: domain.RowTypeBid, Action: domain.MouseActionLimitBuy},
		{Button: domain.MouseButtonRight, RowType: domain.RowTypeAsk, Action: domain.MouseActionLimitSell},
		{Button: domain.MouseButtonLeft, RowType: domain.RowTypeBid, Action: domain.MouseActionMarketSell},
		{Button: domain.MouseButtonLeft, RowType: domain.RowTypeAsk, Action: domain.MouseActionMarketBuy},
	},
}

// MouseActionsFor returns a copy of a built-in mouse mapping. Unknown names
// fall back to scheme1.
func MouseActionsFor(scheme domain.MouseActionsScheme) domain.MouseActionsMap {
	items, ok := schemes[scheme]
	if !ok {
		scheme = domain.MouseScheme1
		items = schemes[scheme]
	}
	return domain.MouseActionsMap{
		Name:    scheme,
		Actions: append([]domain.MouseActionsMapItem(nil), items...),
	}
}

// resolveMouseAction finds the first item matching the button, the
// modifier and the row type. Items flagged AnyModifier ignore the modifier.
func resolveMouseAction(m domain.MouseActionsMap, ev domain.MouseEvent) (domain.MouseAction, bool) {
	mod := ev.Modifier()
	for _, item := range m.Actions {
		if item.Button != ev.Button || (!item.AnyModifier && item.Modifier != mod) {
			continue
		}
		if item.RowType != domain.RowTypeAny && item.RowType != ev.Row.RowType {
			continue
		}
		return item.Action, true
	}
	return "", false
}
