package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/platform/terminal"
)

type fakeWS struct {
	mu       sync.Mutex
	handlers map[string]terminal.FrameHandler
	reqs     map[string]terminal.WSRequest
	removed  []string
	next     int
}

func newFakeWS() *fakeWS {
	return &fakeWS{handlers: map[string]terminal.FrameHandler{}, reqs: map[string]terminal.WSRequest{}}
}

func (f *fakeWS) Subscribe(_ context.Context, req terminal.WSRequest, h terminal.FrameHandler) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	guid := req.Opcode + "-" + string(rune('0'+f.next))
	f.handlers[guid] = h
	f.reqs[guid] = req
	return guid, nil
}

func (f *fakeWS) Unsubscribe(_ context.Context, guid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, guid)
	f.removed = append(f.removed, guid)
	return nil
}

func (f *fakeWS) push(t *testing.T, opcode string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	f.mu.Lock()
	var hs []terminal.FrameHandler
	for guid, h := range f.handlers {
		if f.reqs[guid].Opcode == opcode {
			hs = append(hs, h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeWS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFeeder_Books(t *testing.T) {
	ws := newFakeWS()
	f := NewFeeder(ws, nil, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu   sync.Mutex
		got  []domain.OrderBookSnapshot
		done = make(chan error, 1)
	)
	go func() {
		done <- f.Books(ctx, BookKey{Instrument: testKey, Depth: 5}, func(s domain.OrderBookSnapshot) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool { return ws.count() == 1 }, time.Second, 5*time.Millisecond)

	ws.push(t, terminal.OpcodeOrderBook, terminal.BookData{
		Asks: []domain.BookLevel{lv(100.02, 1), lv(100.01, 2)},
		Bids: []domain.BookLevel{lv(99.99, 3)},
	})

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, 100.01, got[0].Asks[0].Price)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, ws.count())
	assert.Len(t, ws.removed, 1)
}

func TestFeeder_Orders_MergesStreams(t *testing.T) {
	ws := newFakeWS()
	f := NewFeeder(ws, nil, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		last []domain.Order
	)
	go func() {
		_ = f.Orders(ctx, PortfolioKey{Portfolio: "D1", Exchange: "MOEX"}, func(o []domain.Order) {
			mu.Lock()
			last = o
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool { return ws.count() == 2 }, time.Second, 5*time.Millisecond)

	ws.push(t, terminal.OpcodeOrders, terminal.OrderData{ID: "1", Symbol: "SBER", Exchange: "MOEX", Type: "limit", Side: "buy", Status: "working", Price: 99, Qty: 1})
	ws.push(t, terminal.OpcodeStopOrders, terminal.OrderData{ID: "1", Symbol: "SBER", Exchange: "MOEX", Type: "stop", Side: "sell", Status: "working", StopPrice: 98, Qty: 1})
	ws.push(t, terminal.OpcodeOrders, terminal.OrderData{ID: "1", Symbol: "SBER", Exchange: "MOEX", Type: "limit", Side: "buy", Status: "filled", Price: 99, Qty: 1, Filled: 1})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, 2)
	for _, o := range last {
		assert.Equal(t, "D1", o.Portfolio)
		if o.Type == domain.OrderTypeLimit {
			assert.Equal(t, domain.OrderStatusFilled, o.Status)
		}
	}
}

func TestFeeder_Positions(t *testing.T) {
	ws := newFakeWS()
	f := NewFeeder(ws, nil, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		last []domain.Position
	)
	go func() {
		_ = f.Positions(ctx, PortfolioKey{Portfolio: "D1", Exchange: "MOEX"}, func(p []domain.Position) {
			mu.Lock()
			last = p
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool { return ws.count() == 1 }, time.Second, 5*time.Millisecond)

	ws.push(t, terminal.OpcodePositions, terminal.PositionData{Symbol: "SBER", Exchange: "MOEX", Portfolio: "D1", Qty: 10, AvgPrice: 250})
	ws.push(t, terminal.OpcodePositions, terminal.PositionData{Symbol: "SBER", Exchange: "MOEX", Portfolio: "D1", Qty: -3, AvgPrice: 251})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, 1)
	assert.Equal(t, -3.0, last[0].Qty)
}
