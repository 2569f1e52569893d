// Package feed turns the terminal's WebSocket streams into typed sources
// for the session registries.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/metrics"
	"github.com/alanyoungcy/scalperladder/internal/platform/terminal"
)

// BookKey identifies an order book stream.
type BookKey struct {
	Instrument domain.InstrumentKey
	Depth      int
}

// PortfolioKey identifies an orders or positions stream.
type PortfolioKey struct {
	Portfolio string
	Exchange  string
}

// Subscriber is the part of the WebSocket client the feeder needs.
type Subscriber interface {
	Subscribe(ctx context.Context, req terminal.WSRequest, handler terminal.FrameHandler) (string, error)
	Unsubscribe(ctx context.Context, guid string) error
}

// Feeder adapts WebSocket subscriptions into session sources. Every source
// blocks until its context is cancelled and then unsubscribes.
type Feeder struct {
	ws     Subscriber
	books  domain.BookCache
	prices domain.PriceCache
	logger *slog.Logger
}

// NewFeeder creates a Feeder. books and prices may be nil.
func NewFeeder(ws Subscriber, books domain.BookCache, prices domain.PriceCache, logger *slog.Logger) *Feeder {
	return &Feeder{
		ws:     ws,
		books:  books,
		prices: prices,
		logger: logger.With(slog.String("component", "feeder")),
	}
}

// Books streams the assembled order book for key.
func (f *Feeder) Books(ctx context.Context, key BookKey, emit func(domain.OrderBookSnapshot)) error {
	book := NewBook(key.Instrument, key.Depth)
	latest := newLatest[domain.OrderBookSnapshot]()

	if f.books != nil {
		if snap, err := f.books.GetSnapshot(ctx, key.Instrument); err == nil && snap.HasBothSides() {
			emit(snap)
		}
	}

	exchange := key.Instrument.Exchange
	return f.run(ctx, "books", []terminal.WSRequest{terminal.BookRequest(key.Instrument, key.Depth)}, func(data json.RawMessage) {
		var msg terminal.BookData
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("bad book frame", slog.String("error", err.Error()))
			return
		}
		book.Apply(msg)
		snap := book.Snapshot()
		metrics.BookTicksTotal.WithLabelValues(exchange).Inc()
		emit(snap)
		latest.put(snap)
	}, func(ctx context.Context) {
		if f.books == nil {
			return
		}
		latest.drain(ctx, func(snap domain.OrderBookSnapshot) {
			if err := f.books.SetSnapshot(ctx, snap); err != nil {
				f.logger.Debug("book cache write failed", slog.String("error", err.Error()))
			}
		})
	})
}

// Orders streams the working and historical orders and stop orders of a
// portfolio as one replace-style list.
func (f *Feeder) Orders(ctx context.Context, key PortfolioKey, emit func([]domain.Order)) error {
	var (
		mu     sync.Mutex
		orders = make(map[string]domain.Order)
	)
	handler := func(data json.RawMessage) {
		var msg terminal.OrderData
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("bad order frame", slog.String("error", err.Error()))
			return
		}
		o := msg.ToDomain()
		if o.Portfolio == "" {
			o.Portfolio = key.Portfolio
		}

		mu.Lock()
		orders[string(o.Type)+":"+o.ID] = o
		list := make([]domain.Order, 0, len(orders))
		for _, v := range orders {
			list = append(list, v)
		}
		mu.Unlock()

		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		emit(list)
	}

	reqs := []terminal.WSRequest{
		terminal.PortfolioRequest(terminal.OpcodeOrders, key.Portfolio, key.Exchange),
		terminal.PortfolioRequest(terminal.OpcodeStopOrders, key.Portfolio, key.Exchange),
	}
	return f.run(ctx, "orders", reqs, handler, nil)
}

// Positions streams the positions of a portfolio as one replace-style list.
func (f *Feeder) Positions(ctx context.Context, key PortfolioKey, emit func([]domain.Position)) error {
	var (
		mu        sync.Mutex
		positions = make(map[domain.InstrumentKey]domain.Position)
	)
	handler := func(data json.RawMessage) {
		var msg terminal.PositionData
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("bad position frame", slog.String("error", err.Error()))
			return
		}
		p := msg.ToDomain()

		mu.Lock()
		positions[p.Key] = p
		list := make([]domain.Position, 0, len(positions))
		for _, v := range positions {
			list = append(list, v)
		}
		mu.Unlock()

		sort.Slice(list, func(i, j int) bool { return list[i].Key.String() < list[j].Key.String() })
		emit(list)
	}

	req := terminal.PortfolioRequest(terminal.OpcodePositions, key.Portfolio, key.Exchange)
	return f.run(ctx, "positions", []terminal.WSRequest{req}, handler, nil)
}

// Quotes streams last prices for key and keeps the price cache warm.
func (f *Feeder) Quotes(ctx context.Context, key domain.InstrumentKey, emit func(domain.LastPrice)) error {
	latest := newLatest[domain.LastPrice]()

	return f.run(ctx, "quotes", []terminal.WSRequest{terminal.QuotesRequest(key)}, func(data json.RawMessage) {
		var msg terminal.QuoteData
		if err := json.Unmarshal(data, &msg); err != nil || msg.LastPrice <= 0 {
			return
		}
		lp := msg.ToDomain(key)
		emit(lp)
		latest.put(lp)
	}, func(ctx context.Context) {
		if f.prices == nil {
			return
		}
		latest.drain(ctx, func(lp domain.LastPrice) {
			if err := f.prices.SetLastPrice(ctx, lp); err != nil {
				f.logger.Debug("price cache write failed", slog.String("error", err.Error()))
			}
		})
	})
}

// run subscribes every request with handler, runs background until ctx is
// done and then unsubscribes.
func (f *Feeder) run(ctx context.Context, stream string, reqs []terminal.WSRequest, handler terminal.FrameHandler, background func(context.Context)) error {
	guids := make([]string, 0, len(reqs))
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, guid := range guids {
			if err := f.ws.Unsubscribe(unsubCtx, guid); err != nil {
				f.logger.Debug("unsubscribe failed", slog.String("guid", guid), slog.String("error", err.Error()))
			}
		}
		metrics.FeedSubscriptions.WithLabelValues(stream).Sub(float64(len(guids)))
	}()

	for _, req := range reqs {
		guid, err := f.ws.Subscribe(ctx, req, handler)
		if err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", req.Opcode, err)
		}
		guids = append(guids, guid)
		metrics.FeedSubscriptions.WithLabelValues(stream).Inc()
	}

	if background != nil {
		background(ctx)
	}
	<-ctx.Done()
	return nil
}

// latest is a single-slot mailbox where a newer value replaces an unread
// one. It moves cache writes off the WebSocket read goroutine.
type latest[T any] struct {
	ch chan T
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{ch: make(chan T, 1)}
}

func (l *latest[T]) put(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

// drain calls fn for every value until ctx is done.
func (l *latest[T]) drain(ctx context.Context, fn func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-l.ch:
			fn(v)
		}
	}
}
