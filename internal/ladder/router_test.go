package ladder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

func setupRouter(t *testing.T, volumes ...float64) (*Router, *fakeSubmitter, RouterContext) {
	t.Helper()
	sub := &fakeSubmitter{}
	r := NewRouter(sub, testLogger())
	r.SyncWorkingVolumes(volumes, domain.HotKeysSettings{})

	rc := RouterContext{
		Settings: domain.WidgetSettings{Symbol: testKey.Symbol, Exchange: testKey.Exchange, Portfolio: "D1"},
		Book:     setupBook(),
		Active:   true,
	}
	return r, sub, rc
}

func clickOn(rt domain.RowType, price float64, button domain.MouseButton) domain.MouseEvent {
	return domain.MouseEvent{
		Button: button,
		Row:    domain.BodyRow{PriceRow: domain.PriceRow{Price: price}, RowType: rt},
	}
}

func TestRouter_DigitSelectsWorkingVolume(t *testing.T) {
	r, sub, rc := setupRouter(t, 1, 2, 3, 4, 5)

	out := r.Handle(context.Background(), rc, domain.Command{Type: "3"})

	assert.Equal(t, ActionVolumeSelected, out.Action)
	v, ok := r.ActiveWorkingVolume()
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.Empty(t, sub.Calls())

	out = r.Handle(context.Background(), rc, domain.Command{Type: "7"})
	assert.Equal(t, ActionIgnored, out.Action)
	v, _ = r.ActiveWorkingVolume()
	assert.Equal(t, 3.0, v)

	idx := 5
	out = r.Handle(context.Background(), rc, domain.Command{Type: domain.CommandSelectWorkingVolume, Index: &idx})
	assert.Equal(t, ActionVolumeSelected, out.Action)
	v, _ = r.ActiveWorkingVolume()
	assert.Equal(t, 5.0, v)

	out = r.Handle(context.Background(), rc, domain.Command{Type: domain.CommandSelectWorkingVolume})
	assert.Equal(t, ActionIgnored, out.Action)
}

func TestRouter_HandleMouse_Scheme1(t *testing.T) {
	tests := []struct {
		name       string
		event      domain.MouseEvent
		wantMethod string
		wantSide   domain.Side
	}{
		{"right click on bid sells at market", clickOn(domain.RowTypeBid, 99.99, domain.MouseButtonRight), "market", domain.SideSell},
		{"right click on ask buys at market", clickOn(domain.RowTypeAsk, 100.01, domain.MouseButtonRight), "market", domain.SideBuy},
		{"left click on bid places limit buy", clickOn(domain.RowTypeBid, 99.97, domain.MouseButtonLeft), "limit", domain.SideBuy},
		{"left click on ask places limit sell", clickOn(domain.RowTypeAsk, 100.04, domain.MouseButtonLeft), "limit", domain.SideSell},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sub, rc := setupRouter(t, 10)

			out := r.HandleMouse(context.Background(), rc, tt.event)

			assert.Equal(t, ActionDispatched, out.Action)
			calls := sub.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantMethod, calls[0].Method)
			assert.Equal(t, tt.wantSide, calls[0].Side)
			assert.Equal(t, 10.0, calls[0].Volume)
			if tt.wantMethod == "limit" {
				assert.Equal(t, tt.event.Row.Price, calls[0].Price)
			}
		})
	}
}

func TestRouter_HandleMouse_Modifiers(t *testing.T) {
	r, sub, rc := setupRouter(t, 10)
	rc.Settings.EnableMouseClickSilentOrders = true

	ev := clickOn(domain.RowTypeBid, 99.97, domain.MouseButtonLeft)
	ev.Ctrl = true
	ev.Shift = true
	r.HandleMouse(context.Background(), rc, ev)

	ev = clickOn(domain.RowTypeAsk, 100.04, domain.MouseButtonLeft)
	ev.Shift = true
	r.HandleMouse(context.Background(), rc, ev)

	// Shift on a bid row has no binding in scheme1.
	ev = clickOn(domain.RowTypeBid, 99.97, domain.MouseButtonLeft)
	ev.Shift = true
	out := r.HandleMouse(context.Background(), rc, ev)
	assert.Equal(t, ActionIgnored, out.Action)

	// Right clicks place market orders whatever modifier is held.
	ev = clickOn(domain.RowTypeBid, 99.99, domain.MouseButtonRight)
	ev.Ctrl = true
	out = r.HandleMouse(context.Background(), rc, ev)
	assert.Equal(t, ActionDispatched, out.Action)

	ev = clickOn(domain.RowTypeAsk, 100.01, domain.MouseButtonRight)
	ev.Shift = true
	r.HandleMouse(context.Background(), rc, ev)

	calls := sub.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "stoplimit", calls[0].Method)
	assert.Equal(t, domain.RowTypeBid, calls[0].Row.RowType)
	assert.True(t, calls[0].Silent)
	assert.Equal(t, "stoploss", calls[1].Method)
	assert.Equal(t, 100.04, calls[1].Price)
	assert.Equal(t, "market", calls[2].Method)
	assert.Equal(t, domain.SideSell, calls[2].Side)
	assert.Equal(t, "market", calls[3].Method)
	assert.Equal(t, domain.SideBuy, calls[3].Side)
}

func TestRouter_HandleMouse_Scheme2(t *testing.T) {
	r, sub, rc := setupRouter(t, 10)
	m := MouseActionsFor(domain.MouseScheme2)
	r.SetMouseActions(&m)

	r.HandleMouse(context.Background(), rc, clickOn(domain.RowTypeBid, 99.99, domain.MouseButtonLeft))

	calls := sub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "market", calls[0].Method)
	assert.Equal(t, domain.SideSell, calls[0].Side)
}

func TestRouter_HandleMouse_NoOps(t *testing.T) {
	t.Run("spread row", func(t *testing.T) {
		r, sub, rc := setupRouter(t, 10)
		out := r.HandleMouse(context.Background(), rc, clickOn(domain.RowTypeSpread, 100, domain.MouseButtonLeft))
		assert.Equal(t, ActionIgnored, out.Action)
		assert.Empty(t, sub.Calls())
	})

	t.Run("no working volume", func(t *testing.T) {
		r, sub, rc := setupRouter(t)
		out := r.HandleMouse(context.Background(), rc, clickOn(domain.RowTypeAsk, 100.01, domain.MouseButtonRight))
		assert.Equal(t, ActionNoVolume, out.Action)
		assert.Empty(t, sub.Calls())
	})
}

func TestRouter_Handle_Scopes(t *testing.T) {
	limit := domain.Order{ID: "L", Key: testKey, Portfolio: "D1", Type: domain.OrderTypeLimit, Status: domain.OrderStatusWorking, Price: 100.02, Qty: 1}
	stop := domain.Order{ID: "S", Key: testKey, Portfolio: "D1", Type: domain.OrderTypeStopLimit, Status: domain.OrderStatusWorking, TriggerPrice: 99.9, Qty: 1}
	other := domain.Order{ID: "X", Key: domain.InstrumentKey{Symbol: "GAZP", Exchange: "MOEX"}, Portfolio: "D1", Type: domain.OrderTypeLimit, Status: domain.OrderStatusWorking, Qty: 1}

	tests := []struct {
		name       string
		cmd        domain.CommandType
		active     bool
		disabled   bool
		wantAction Action
		wantMethod string
	}{
		{"center always runs", domain.CommandCenterOrderBook, false, true, ActionCenter, ""},
		{"all-instance runs when inactive", domain.CommandCancelLimitOrdersAll, false, false, ActionDispatched, "cancel"},
		{"all-instance filtered by disabled hotkeys", domain.CommandClosePositionsByMarketAll, true, true, ActionIgnored, ""},
		{"current ignored when inactive", domain.CommandBuyMarket, false, false, ActionIgnored, ""},
		{"current runs when active", domain.CommandBuyMarket, true, false, ActionDispatched, "market"},
		{"best order", domain.CommandSellBestOrder, true, false, ActionDispatched, "best"},
		{"sell at best bid", domain.CommandSellBestBid, true, false, ActionDispatched, "limit"},
		{"reverse", domain.CommandReversePositionsByMarketCurrent, true, false, ActionDispatched, "reverse"},
		{"close current", domain.CommandClosePositionsByMarketCurrent, true, false, ActionDispatched, "close"},
		{"cancel stops", domain.CommandCancelStopOrdersCurrent, true, false, ActionDispatched, "cancel"},
		{"unknown", "bogus", true, false, ActionIgnored, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sub, rc := setupRouter(t, 5)
			rc.Active = tt.active
			rc.Settings.DisableHotkeys = tt.disabled
			rc.Orders = []domain.Order{limit, stop, other}

			out := r.Handle(context.Background(), rc, domain.Command{Type: tt.cmd})

			assert.Equal(t, tt.wantAction, out.Action)
			calls := sub.Calls()
			if tt.wantMethod == "" {
				assert.Empty(t, calls)
				return
			}
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantMethod, calls[0].Method)
		})
	}
}

func TestRouter_Handle_CancelSelectsOrderKind(t *testing.T) {
	r, sub, rc := setupRouter(t, 5)
	rc.Orders = []domain.Order{
		{ID: "L", Key: testKey, Portfolio: "D1", Type: domain.OrderTypeLimit, Status: domain.OrderStatusWorking, Price: 100.02, Qty: 1},
		{ID: "S", Key: testKey, Portfolio: "D1", Type: domain.OrderTypeStop, Status: domain.OrderStatusWorking, TriggerPrice: 99.9, Qty: 1},
		{ID: "F", Key: testKey, Portfolio: "D1", Type: domain.OrderTypeLimit, Status: domain.OrderStatusFilled, Price: 100.03, Qty: 1},
	}

	r.Handle(context.Background(), rc, domain.Command{Type: domain.CommandCancelLimitOrdersCurrent})
	r.Handle(context.Background(), rc, domain.Command{Type: domain.CommandCancelStopOrdersCurrent})

	calls := sub.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].Orders, 1)
	assert.Equal(t, "L", calls[0].Orders[0].OrderID)
	require.Len(t, calls[1].Orders, 1)
	assert.Equal(t, "S", calls[1].Orders[0].OrderID)
}

func TestRouter_Handle_BestBidUsesSilentLimit(t *testing.T) {
	r, sub, rc := setupRouter(t, 2)

	r.Handle(context.Background(), rc, domain.Command{Type: domain.CommandSellBestBid})
	r.Handle(context.Background(), rc, domain.Command{Type: domain.CommandBuyBestAsk})

	calls := sub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, submitterCall{Method: "limit", Side: domain.SideSell, Volume: 2, Price: 99.99, Silent: true}, calls[0])
	assert.Equal(t, submitterCall{Method: "limit", Side: domain.SideBuy, Volume: 2, Price: 100.01, Silent: true}, calls[1])
}

func TestRouter_CancelRowOrders(t *testing.T) {
	r, sub, _ := setupRouter(t, 1)

	out := r.CancelRowOrders(context.Background(), domain.BodyRow{})
	assert.Equal(t, ActionIgnored, out.Action)

	row := domain.BodyRow{CurrentOrders: []domain.CurrentOrder{{OrderID: "1"}, {OrderID: "2"}}}
	out = r.CancelRowOrders(context.Background(), row)
	assert.Equal(t, ActionDispatched, out.Action)
	require.Len(t, sub.Calls(), 1)
	assert.Len(t, sub.Calls()[0].Orders, 2)
}

func TestRouter_SyncWorkingVolumes(t *testing.T) {
	r := NewRouter(&fakeSubmitter{}, testLogger())

	got := r.SyncWorkingVolumes([]float64{5, 0}, domain.HotKeysSettings{WorkingVolumes: []string{"1", "2", "3", "4"}})

	assert.Equal(t, []float64{5, 10, 100, 1000}, got)
	v, ok := r.ActiveWorkingVolume()
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	require.True(t, r.SelectWorkingVolume(3))
	r.SyncWorkingVolumes([]float64{7}, domain.HotKeysSettings{})
	v, _ = r.ActiveWorkingVolume()
	assert.Equal(t, 100.0, v, "an existing selection is kept")
	assert.Equal(t, []float64{7}, r.WorkingVolumes())
}
