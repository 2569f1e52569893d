package ladder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testKey = domain.InstrumentKey{Symbol: "SBER", Exchange: "MOEX"}

// setupWindow builds a window around a single seed price with step 0.01,
// 10 visible rows and the default buffer.
func setupWindow(t *testing.T, seed float64) domain.LadderWindow {
	t.Helper()
	s := NewStore(DefaultBufferRows, testLogger())
	require.NoError(t, s.InitWithPriceRange(testKey, &domain.PriceRange{Min: seed, Max: seed}, 0.01, 10))
	return s.State()
}

func level(p, v float64) domain.BookLevel {
	return domain.BookLevel{Price: p, Volume: v}
}

func findRow(rows []domain.BodyRow, price, step float64) (domain.BodyRow, bool) {
	for _, r := range rows {
		if ticks(r.Price, step) == ticks(price, step) {
			return r, true
		}
	}
	return domain.BodyRow{}, false
}

type submitterCall struct {
	Method string
	Side   domain.Side
	Volume float64
	Price  float64
	Silent bool
	Row    domain.BodyRow
	Orders []domain.CurrentOrder
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submitterCall
	err   error
}

func (f *fakeSubmitter) record(c submitterCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeSubmitter) Calls() []submitterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitterCall(nil), f.calls...)
}

func (f *fakeSubmitter) PlaceLimitOrder(_ context.Context, _ domain.WidgetSettings, side domain.Side, volume, price float64, silent bool) error {
	return f.record(submitterCall{Method: "limit", Side: side, Volume: volume, Price: price, Silent: silent})
}

func (f *fakeSubmitter) PlaceMarketOrder(_ context.Context, _ domain.WidgetSettings, side domain.Side, volume float64, silent bool) error {
	return f.record(submitterCall{Method: "market", Side: side, Volume: volume, Silent: silent})
}

func (f *fakeSubmitter) PlaceBestOrder(_ context.Context, _ domain.WidgetSettings, _ domain.Instrument, side domain.Side, volume float64, _ domain.OrderBookSnapshot) error {
	return f.record(submitterCall{Method: "best", Side: side, Volume: volume})
}

func (f *fakeSubmitter) CancelOrders(_ context.Context, orders []domain.CurrentOrder) error {
	return f.record(submitterCall{Method: "cancel", Orders: orders})
}

func (f *fakeSubmitter) ClosePositionsByMarket(_ context.Context, _ domain.WidgetSettings) error {
	return f.record(submitterCall{Method: "close"})
}

func (f *fakeSubmitter) ReversePositionsByMarket(_ context.Context, _ domain.WidgetSettings) error {
	return f.record(submitterCall{Method: "reverse"})
}

func (f *fakeSubmitter) SetStopLimitForRow(_ context.Context, _ domain.WidgetSettings, row domain.BodyRow, volume float64, silent bool) error {
	return f.record(submitterCall{Method: "stoplimit", Row: row, Volume: volume, Price: row.Price, Silent: silent})
}

func (f *fakeSubmitter) SetStopLoss(_ context.Context, _ domain.WidgetSettings, price float64, silent bool) error {
	return f.record(submitterCall{Method: "stoploss", Price: price, Silent: silent})
}

var _ domain.OrderSubmitter = (*fakeSubmitter)(nil)

type fakeRegenerator struct {
	requests []domain.PriceRange
}

func (f *fakeRegenerator) RequestRegeneration(bounds domain.PriceRange) {
	f.requests = append(f.requests, bounds)
}
