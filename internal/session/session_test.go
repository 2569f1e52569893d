package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/feed"
	"github.com/alanyoungcy/scalperladder/internal/ladder"
)

var (
	sber = domain.InstrumentKey{Symbol: "SBER", Exchange: "MOEX"}
	gazp = domain.InstrumentKey{Symbol: "GAZP", Exchange: "MOEX"}
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stream is a controllable registry source.
type stream[K comparable, T any] struct {
	mu    sync.Mutex
	emits map[K]func(T)
}

func newStream[K comparable, T any]() *stream[K, T] {
	return &stream[K, T]{emits: map[K]func(T){}}
}

func (s *stream[K, T]) source(ctx context.Context, key K, emit func(T)) error {
	s.mu.Lock()
	s.emits[key] = emit
	s.mu.Unlock()
	<-ctx.Done()
	s.mu.Lock()
	delete(s.emits, key)
	s.mu.Unlock()
	return nil
}

func (s *stream[K, T]) active(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.emits[key]
	return ok
}

func (s *stream[K, T]) push(t *testing.T, key K, v T) {
	t.Helper()
	require.Eventually(t, func() bool { return s.active(key) }, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	fn := s.emits[key]
	s.mu.Unlock()
	fn(v)
}

type fakeInstruments struct {
	instruments map[domain.InstrumentKey]domain.Instrument
	lastPrices  map[domain.InstrumentKey]float64
}

func (f *fakeInstruments) GetInstrument(_ context.Context, key domain.InstrumentKey) (domain.Instrument, error) {
	if inst, ok := f.instruments[key]; ok {
		return inst, nil
	}
	return domain.Instrument{}, domain.ErrNotFound
}

func (f *fakeInstruments) GetLastPrice(_ context.Context, key domain.InstrumentKey) (domain.LastPrice, error) {
	if p, ok := f.lastPrices[key]; ok {
		return domain.LastPrice{Key: key, Price: p}, nil
	}
	return domain.LastPrice{}, domain.ErrNotFound
}

type recordingSink struct {
	mu    sync.Mutex
	views []domain.LadderView
}

func (r *recordingSink) Publish(v domain.LadderView) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

// waitView waits for a published view of guid matching pred.
func (r *recordingSink) waitView(t *testing.T, guid string, pred func(domain.LadderView) bool) domain.LadderView {
	t.Helper()
	var found domain.LadderView
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := len(r.views) - 1; i >= 0; i-- {
			if r.views[i].GUID == guid && pred(r.views[i]) {
				found = r.views[i]
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

type submitted struct {
	method string
	side   domain.Side
	volume float64
	price  float64
	guid   string
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submitted
}

func (f *fakeSubmitter) record(c submitted) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeSubmitter) snapshot() []submitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitted(nil), f.calls...)
}

func (f *fakeSubmitter) PlaceLimitOrder(_ context.Context, s domain.WidgetSettings, side domain.Side, volume, price float64, _ bool) error {
	return f.record(submitted{method: "limit", side: side, volume: volume, price: price, guid: s.GUID})
}

func (f *fakeSubmitter) PlaceMarketOrder(_ context.Context, s domain.WidgetSettings, side domain.Side, volume float64, _ bool) error {
	return f.record(submitted{method: "market", side: side, volume: volume, guid: s.GUID})
}

func (f *fakeSubmitter) PlaceBestOrder(_ context.Context, s domain.WidgetSettings, _ domain.Instrument, side domain.Side, volume float64, _ domain.OrderBookSnapshot) error {
	return f.record(submitted{method: "best", side: side, volume: volume, guid: s.GUID})
}

func (f *fakeSubmitter) CancelOrders(_ context.Context, orders []domain.CurrentOrder) error {
	return f.record(submitted{method: "cancel", volume: float64(len(orders))})
}

func (f *fakeSubmitter) ClosePositionsByMarket(_ context.Context, s domain.WidgetSettings) error {
	return f.record(submitted{method: "close", guid: s.GUID})
}

func (f *fakeSubmitter) ReversePositionsByMarket(_ context.Context, s domain.WidgetSettings) error {
	return f.record(submitted{method: "reverse", guid: s.GUID})
}

func (f *fakeSubmitter) SetStopLimitForRow(_ context.Context, s domain.WidgetSettings, row domain.BodyRow, volume float64, _ bool) error {
	return f.record(submitted{method: "stop_limit", volume: volume, price: row.Price, guid: s.GUID})
}

func (f *fakeSubmitter) SetStopLoss(_ context.Context, s domain.WidgetSettings, price float64, _ bool) error {
	return f.record(submitted{method: "stop_loss", price: price, guid: s.GUID})
}

type harness struct {
	session     *Session
	books       *stream[feed.BookKey, domain.OrderBookSnapshot]
	orders      *stream[feed.PortfolioKey, []domain.Order]
	positions   *stream[feed.PortfolioKey, []domain.Position]
	quotes      *stream[domain.InstrumentKey, domain.LastPrice]
	instruments *fakeInstruments
	submitter   *fakeSubmitter
	sink        *recordingSink
}

func setupSession(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		books:     newStream[feed.BookKey, domain.OrderBookSnapshot](),
		orders:    newStream[feed.PortfolioKey, []domain.Order](),
		positions: newStream[feed.PortfolioKey, []domain.Position](),
		quotes:    newStream[domain.InstrumentKey, domain.LastPrice](),
		instruments: &fakeInstruments{
			instruments: map[domain.InstrumentKey]domain.Instrument{
				sber: {InstrumentKey: sber, MinStep: 0.01, LotSize: 10},
				gazp: {InstrumentKey: gazp, MinStep: 0.01, LotSize: 10},
			},
			lastPrices: map[domain.InstrumentKey]float64{},
		},
		submitter: &fakeSubmitter{},
		sink:      &recordingSink{},
	}
	logger := testLogger()
	h.session = New(Deps{
		Books:              NewRegistry("books", h.books.source, logger),
		Orders:             NewRegistry("orders", h.orders.source, logger),
		Positions:          NewRegistry("positions", h.positions.source, logger),
		Quotes:             NewRegistry("quotes", h.quotes.source, logger),
		Instruments:        h.instruments,
		Submitter:          h.submitter,
		Sink:               h.sink,
		DefaultDepth:       10,
		DefaultVisibleRows: 10,
	}, logger)
	t.Cleanup(h.session.Shutdown)
	return h
}

func widget(guid string, key domain.InstrumentKey) domain.WidgetSettings {
	return domain.WidgetSettings{
		GUID:           guid,
		Symbol:         key.Symbol,
		Exchange:       key.Exchange,
		Portfolio:      "D1",
		WorkingVolumes: []float64{1, 5},
	}
}

func book(key domain.InstrumentKey) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Key:  key,
		Asks: []domain.BookLevel{{Price: 100.01, Volume: 5}, {Price: 100.02, Volume: 7}},
		Bids: []domain.BookLevel{{Price: 99.99, Volume: 4}},
	}
}

func hasRows(v domain.LadderView) bool { return len(v.Rows) > 0 }

func rowAt(v domain.LadderView, price float64) (domain.RenderedRow, bool) {
	for _, r := range v.Rows {
		if r.Price == price {
			return r, true
		}
	}
	return domain.RenderedRow{}, false
}

func openWithBook(t *testing.T, h *harness, guid string) *Instance {
	t.Helper()
	inst, err := h.session.Open(context.Background(), widget(guid, sber))
	require.NoError(t, err)
	h.books.push(t, feed.BookKey{Instrument: sber, Depth: 10}, book(sber))
	h.sink.waitView(t, guid, hasRows)
	return inst
}

func TestInstance_RendersBookOntoLadder(t *testing.T) {
	h := setupSession(t)
	openWithBook(t, h, "w1")

	v := h.sink.waitView(t, "w1", hasRows)
	assert.False(t, v.Loading)
	assert.False(t, v.Raw)
	assert.Equal(t, 7.0, v.MaxVolume)
	assert.Equal(t, []float64{1, 5}, v.WorkingVolumes)
	require.NotNil(t, v.ActiveWorkingVolume)
	assert.Equal(t, 1.0, *v.ActiveWorkingVolume)

	ask, ok := rowAt(v, 100.01)
	require.True(t, ok)
	assert.Equal(t, domain.RowTypeAsk, ask.RowType)
	assert.True(t, ask.IsBest)
	require.NotNil(t, ask.Volume)
	assert.Equal(t, 5.0, *ask.Volume)

	bid, ok := rowAt(v, 99.99)
	require.True(t, ok)
	assert.Equal(t, domain.RowTypeBid, bid.RowType)

	_, ok = rowAt(v, 100.00)
	assert.False(t, ok, "spread rows are hidden by default")
}

func TestInstance_BookOutsideWindowRegenerates(t *testing.T) {
	h := setupSession(t)
	openWithBook(t, h, "w1")

	h.books.push(t, feed.BookKey{Instrument: sber, Depth: 10}, domain.OrderBookSnapshot{
		Key:  sber,
		Asks: []domain.BookLevel{{Price: 120.01, Volume: 6}, {Price: 120.02, Volume: 2}},
		Bids: []domain.BookLevel{{Price: 119.99, Volume: 3}},
	})

	v := h.sink.waitView(t, "w1", func(v domain.LadderView) bool {
		_, ok := rowAt(v, 120.01)
		return ok
	})
	ask, _ := rowAt(v, 120.01)
	assert.Equal(t, domain.RowTypeAsk, ask.RowType)
	assert.True(t, ask.IsBest)
	require.NotNil(t, ask.Volume)
	assert.Equal(t, 6.0, *ask.Volume)

	bid, ok := rowAt(v, 119.99)
	require.True(t, ok)
	assert.True(t, bid.IsBest)

	_, ok = rowAt(v, 100.01)
	assert.False(t, ok, "rows of the old window are gone")
	assert.Equal(t, 6.0, v.MaxVolume)
}

func TestInstance_OverlaysOrdersAndPosition(t *testing.T) {
	h := setupSession(t)
	openWithBook(t, h, "w1")

	pk := feed.PortfolioKey{Portfolio: "D1", Exchange: "MOEX"}
	h.orders.push(t, pk, []domain.Order{
		{ID: "1", Key: sber, Portfolio: "D1", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Status: domain.OrderStatusWorking, Price: 99.99, Qty: 3},
		{ID: "2", Key: gazp, Portfolio: "D1", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Status: domain.OrderStatusWorking, Price: 99.99, Qty: 1},
	})
	h.positions.push(t, pk, []domain.Position{{Key: sber, Portfolio: "D1", Qty: 10, AvgPrice: 99.95}})

	v := h.sink.waitView(t, "w1", func(v domain.LadderView) bool {
		r, ok := rowAt(v, 99.99)
		return ok && len(r.CurrentOrders) > 0 && v.Position != nil
	})
	r, _ := rowAt(v, 99.99)
	require.Len(t, r.CurrentOrders, 1)
	assert.Equal(t, "1", r.CurrentOrders[0].OrderID)
	require.NotNil(t, r.CurrentPositionRangeSign)
	assert.Equal(t, 1, *r.CurrentPositionRangeSign)
}

func TestInstance_InstrumentChangeReKeysStreams(t *testing.T) {
	h := setupSession(t)
	inst := openWithBook(t, h, "w1")

	require.NoError(t, inst.Update(context.Background(), widget("w1", gazp)))

	gazpBook := feed.BookKey{Instrument: gazp, Depth: 10}
	sberBook := feed.BookKey{Instrument: sber, Depth: 10}
	require.Eventually(t, func() bool { return h.books.active(gazpBook) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.books.active(sberBook) }, time.Second, 5*time.Millisecond)

	// A late tick for the previous instrument on the new stream is dropped.
	h.books.push(t, gazpBook, book(sber))
	v := h.sink.waitView(t, "w1", func(v domain.LadderView) bool { return v.Key.Equal(gazp) })
	assert.Empty(t, v.Rows)

	h.books.push(t, gazpBook, book(gazp))
	h.sink.waitView(t, "w1", func(v domain.LadderView) bool { return v.Key.Equal(gazp) && hasRows(v) })
	assert.Equal(t, "GAZP", inst.Settings().Symbol)
}

func TestInstance_RawBookWithoutPriceStep(t *testing.T) {
	h := setupSession(t)
	bond := domain.InstrumentKey{Symbol: "SU26238", Exchange: "MOEX"}
	h.instruments.instruments[bond] = domain.Instrument{InstrumentKey: bond}

	_, err := h.session.Open(context.Background(), widget("w1", bond))
	require.NoError(t, err)
	h.books.push(t, feed.BookKey{Instrument: bond, Depth: 10}, domain.OrderBookSnapshot{
		Key:  bond,
		Asks: []domain.BookLevel{{Price: 71.5, Volume: 1}, {Price: 71.9, Volume: 2}},
		Bids: []domain.BookLevel{{Price: 71.1, Volume: 3}},
	})

	v := h.sink.waitView(t, "w1", hasRows)
	assert.True(t, v.Raw)
	require.Len(t, v.Rows, 3)
	assert.Equal(t, []float64{71.9, 71.5, 71.1}, []float64{v.Rows[0].Price, v.Rows[1].Price, v.Rows[2].Price})
}

func TestInstance_SeedsFromLastPriceWithoutBook(t *testing.T) {
	h := setupSession(t)
	h.instruments.lastPrices[sber] = 250.37

	_, err := h.session.Open(context.Background(), widget("w1", sber))
	require.NoError(t, err)

	v := h.sink.waitView(t, "w1", func(v domain.LadderView) bool { return !v.Loading })
	assert.Empty(t, v.Rows)
	assert.False(t, v.Raw)
}

func TestInstance_MouseClicks(t *testing.T) {
	h := setupSession(t)
	inst := openWithBook(t, h, "w1")
	ctx := context.Background()

	out, err := inst.Click(ctx, domain.MouseEvent{Button: domain.MouseButtonLeft, Row: domain.BodyRow{PriceRow: domain.PriceRow{Price: 99.99}}})
	require.NoError(t, err)
	assert.Equal(t, ladder.ActionDispatched, out.Action)

	out, err = inst.Click(ctx, domain.MouseEvent{Button: domain.MouseButtonLeft, Row: domain.BodyRow{PriceRow: domain.PriceRow{Price: 100.00}}})
	require.NoError(t, err)
	assert.Equal(t, ladder.ActionIgnored, out.Action, "hidden spread row")

	require.Eventually(t, func() bool { return len(h.submitter.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	call := h.submitter.snapshot()[0]
	assert.Equal(t, submitted{method: "limit", side: domain.SideBuy, volume: 1, price: 99.99, guid: "w1"}, call)
}

func TestInstance_Scroll(t *testing.T) {
	h := setupSession(t)
	inst := openWithBook(t, h, "w1")
	ctx := context.Background()

	added, err := inst.Scroll(ctx, ScrollTop)
	require.NoError(t, err)
	assert.Equal(t, ladder.DefaultBufferRows, added)

	added, err = inst.Scroll(ctx, ScrollBottom)
	require.NoError(t, err)
	assert.Equal(t, ladder.DefaultBufferRows, added)

	_, err = inst.Scroll(ctx, "sideways")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestInstance_CenterCommand(t *testing.T) {
	h := setupSession(t)
	inst := openWithBook(t, h, "w1")

	out, err := inst.Command(context.Background(), domain.Command{Type: domain.CommandCenterOrderBook})
	require.NoError(t, err)
	assert.Equal(t, ladder.ActionCenter, out.Action)

	v := h.sink.waitView(t, "w1", func(v domain.LadderView) bool { return v.CenterIndex != nil })
	// midpoint 100.00 sits ceil(10/2)+50 rows below the top of a fresh window
	assert.Equal(t, 55, *v.CenterIndex)
	assert.True(t, hasRows(v))
}

func TestSession_BroadcastRespectsActiveInstance(t *testing.T) {
	h := setupSession(t)
	ctx := context.Background()
	openWithBook(t, h, "a")
	_, err := h.session.Open(ctx, widget("b", sber))
	require.NoError(t, err)
	assert.Equal(t, "a", h.session.Active())

	cmd := domain.Command{Type: domain.CommandBuyMarket}
	outs, err := h.session.Broadcast(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ladder.ActionDispatched, outs["a"].Action)
	assert.Equal(t, ladder.ActionIgnored, outs["b"].Action)

	require.NoError(t, h.session.Activate(ctx, "b"))
	outs, err = h.session.Broadcast(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, ladder.ActionIgnored, outs["a"].Action)
	assert.Equal(t, ladder.ActionDispatched, outs["b"].Action)

	require.Eventually(t, func() bool { return len(h.submitter.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	var guids []string
	for _, c := range h.submitter.snapshot() {
		guids = append(guids, c.guid)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, guids)
}

func TestSession_SharedBookSubscription(t *testing.T) {
	h := setupSession(t)
	ctx := context.Background()
	openWithBook(t, h, "a")
	_, err := h.session.Open(ctx, widget("b", sber))
	require.NoError(t, err)

	// the second instance replays the cached book without a new tick
	h.sink.waitView(t, "b", hasRows)

	key := feed.BookKey{Instrument: sber, Depth: 10}
	require.NoError(t, h.session.Close("a"))
	assert.True(t, h.books.active(key))

	require.NoError(t, h.session.Close("b"))
	assert.Eventually(t, func() bool { return !h.books.active(key) }, time.Second, 5*time.Millisecond)

	err = h.session.Close("b")
	assert.True(t, errors.Is(err, domain.ErrInstanceNotFound))
	_, err = h.session.Instance("b")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestSession_TerminalSettingsResyncVolumes(t *testing.T) {
	h := setupSession(t)
	ctx := context.Background()
	openWithBook(t, h, "w1")

	require.NoError(t, h.session.UpdateTerminalSettings(ctx, domain.TerminalSettings{
		HotKeys: domain.HotKeysSettings{WorkingVolumes: []string{"1", "2", "3"}},
	}))

	v := h.sink.waitView(t, "w1", func(v domain.LadderView) bool { return len(v.WorkingVolumes) == 3 })
	assert.Equal(t, []float64{1, 5, 100}, v.WorkingVolumes)
}
