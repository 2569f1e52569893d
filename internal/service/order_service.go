package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/metrics"
)

// Notification event types raised by the order service.
const (
	EventOrderPlaced    = "order_placed"
	EventOrderFailed    = "order_failed"
	EventEmptyPositions = "empty_positions"
)

// OrdersChannel is the bus channel order events are published on.
const OrdersChannel = "ladder:orders"

// Broker is the order entry side of the trading terminal.
type Broker interface {
	PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.OrderResult, error)
	PlaceMarketOrder(ctx context.Context, req domain.MarketOrderRequest) (domain.OrderResult, error)
	PlaceStopOrder(ctx context.Context, req domain.StopOrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, req domain.CancelOrderRequest) error
	GetPositions(ctx context.Context, portfolio, exchange string) ([]domain.Position, error)
}

// Notifier forwards operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrderLimits bounds how fast orders may be sent per portfolio.
type OrderLimits struct {
	PerWindow   int
	Window      time.Duration
	DedupWindow time.Duration
}

// OrderService turns ladder actions into terminal orders. It rate limits,
// drops duplicates, audits every action and reports failures. It implements
// domain.OrderSubmitter.
type OrderService struct {
	broker   Broker
	limiter  domain.RateLimiter
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Notifier
	dedup    *Dedup
	limits   OrderLimits
	logger   *slog.Logger
}

var _ domain.OrderSubmitter = (*OrderService)(nil)

// NewOrderService creates an OrderService. limiter, audit, bus and notifier
// are optional.
func NewOrderService(
	broker Broker,
	limiter domain.RateLimiter,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier Notifier,
	limits OrderLimits,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		broker:   broker,
		limiter:  limiter,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		dedup:    NewDedup(limits.DedupWindow),
		limits:   limits,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

// action describes one order call for rate limiting, dedup and reporting.
type action struct {
	name      string
	key       domain.InstrumentKey
	portfolio string
	side      domain.Side
	volume    float64
	price     float64
	silent    bool
}

func (a action) fingerprint() string {
	return a.name + "|" + a.key.String() + "|" + a.portfolio + "|" + string(a.side) + "|" +
		strconv.FormatFloat(a.volume, 'f', -1, 64) + "|" + strconv.FormatFloat(a.price, 'f', -1, 64)
}

func (a action) detail() map[string]any {
	d := map[string]any{
		"action":     a.name,
		"instrument": a.key.String(),
		"portfolio":  a.portfolio,
		"volume":     a.volume,
		"silent":     a.silent,
	}
	if a.side != "" {
		d["side"] = string(a.side)
	}
	if a.price > 0 {
		d["price"] = a.price
	}
	return d
}

// PlaceLimitOrder places a limit order at price.
func (s *OrderService) PlaceLimitOrder(ctx context.Context, settings domain.WidgetSettings, side domain.Side, volume, price float64, silent bool) error {
	if volume <= 0 || price <= 0 {
		return fmt.Errorf("order_service: limit order volume %v price %v: %w", volume, price, domain.ErrInvalidOrder)
	}
	a := action{name: "limit", key: settings.InstrumentKey(), portfolio: settings.Portfolio, side: side, volume: volume, price: price, silent: silent}
	return s.execute(ctx, a, func(ctx context.Context) (domain.OrderResult, error) {
		return s.broker.PlaceLimitOrder(ctx, domain.LimitOrderRequest{
			Key: a.key, Portfolio: a.portfolio, Side: side, Quantity: volume, Price: price,
		})
	})
}

// PlaceMarketOrder places a market order.
func (s *OrderService) PlaceMarketOrder(ctx context.Context, settings domain.WidgetSettings, side domain.Side, volume float64, silent bool) error {
	if volume <= 0 {
		return fmt.Errorf("order_service: market order volume %v: %w", volume, domain.ErrInvalidOrder)
	}
	a := action{name: "market", key: settings.InstrumentKey(), portfolio: settings.Portfolio, side: side, volume: volume, silent: silent}
	return s.execute(ctx, a, func(ctx context.Context) (domain.OrderResult, error) {
		return s.broker.PlaceMarketOrder(ctx, domain.MarketOrderRequest{
			Key: a.key, Portfolio: a.portfolio, Side: side, Quantity: volume,
		})
	})
}

// PlaceBestOrder places a silent limit order at the best price for side.
func (s *OrderService) PlaceBestOrder(ctx context.Context, settings domain.WidgetSettings, instrument domain.Instrument, side domain.Side, volume float64, book domain.OrderBookSnapshot) error {
	price, err := BestPrice(side, book, instrument.MinStep)
	if err != nil {
		return fmt.Errorf("order_service: best %s order: %w", side, err)
	}
	return s.PlaceLimitOrder(ctx, settings, side, volume, price, true)
}

// BestPrice returns the price a best order is placed at. Inside a spread
// wider than one step the order improves the same-side best price by one
// step; otherwise it joins it. A sell joins the best ask, a buy the best bid.
func BestPrice(side domain.Side, book domain.OrderBookSnapshot, minStep float64) (float64, error) {
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()

	if side == domain.SideSell {
		if !hasAsk {
			return 0, domain.ErrNoBestPrice
		}
		if hasBid && minStep > 0 && widerThanStep(ask.Price, bid.Price, minStep) {
			return decimal.NewFromFloat(ask.Price).Sub(decimal.NewFromFloat(minStep)).InexactFloat64(), nil
		}
		return ask.Price, nil
	}

	if !hasBid {
		return 0, domain.ErrNoBestPrice
	}
	if hasAsk && minStep > 0 && widerThanStep(ask.Price, bid.Price, minStep) {
		return decimal.NewFromFloat(bid.Price).Add(decimal.NewFromFloat(minStep)).InexactFloat64(), nil
	}
	return bid.Price, nil
}

func widerThanStep(ask, bid, step float64) bool {
	spread := decimal.NewFromFloat(ask).Sub(decimal.NewFromFloat(bid))
	return spread.GreaterThan(decimal.NewFromFloat(step))
}

// CancelOrders cancels each order and returns the joined failures.
func (s *OrderService) CancelOrders(ctx context.Context, orders []domain.CurrentOrder) error {
	var errs []error
	for _, o := range orders {
		start := time.Now()
		err := s.broker.CancelOrder(ctx, domain.CancelOrderRequest{
			OrderID:   o.OrderID,
			Exchange:  o.Exchange,
			Portfolio: o.Portfolio,
			Stop:      o.Type.IsStop(),
		})
		metrics.OrderSubmitLatency.Observe(time.Since(start).Seconds())

		detail := map[string]any{"order_id": o.OrderID, "exchange": o.Exchange, "portfolio": o.Portfolio, "type": string(o.Type)}
		if err != nil {
			metrics.OrdersTotal.WithLabelValues("cancel", "error").Inc()
			detail["error"] = err.Error()
			s.auditLog(ctx, "order_cancel_failed", detail)
			errs = append(errs, fmt.Errorf("order_service: cancel %s: %w", o.OrderID, err))
			continue
		}
		metrics.OrdersTotal.WithLabelValues("cancel", "ok").Inc()
		s.auditLog(ctx, "order_cancelled", detail)
	}
	return errors.Join(errs...)
}

// ClosePositionsByMarket flattens the widget's position with a market order.
func (s *OrderService) ClosePositionsByMarket(ctx context.Context, settings domain.WidgetSettings) error {
	pos, err := s.openPosition(ctx, settings)
	if err != nil {
		return err
	}
	side := domain.SideSell
	if !pos.IsLong() {
		side = domain.SideBuy
	}
	return s.placeMarket(ctx, "close", settings, side, pos.AbsQty())
}

// ReversePositionsByMarket flips the widget's position with a market order
// for twice its size.
func (s *OrderService) ReversePositionsByMarket(ctx context.Context, settings domain.WidgetSettings) error {
	pos, err := s.openPosition(ctx, settings)
	if err != nil {
		return err
	}
	side := domain.SideSell
	if !pos.IsLong() {
		side = domain.SideBuy
	}
	return s.placeMarket(ctx, "reverse", settings, side, 2*pos.AbsQty())
}

func (s *OrderService) placeMarket(ctx context.Context, name string, settings domain.WidgetSettings, side domain.Side, volume float64) error {
	a := action{name: name, key: settings.InstrumentKey(), portfolio: settings.Portfolio, side: side, volume: volume, silent: true}
	return s.execute(ctx, a, func(ctx context.Context) (domain.OrderResult, error) {
		return s.broker.PlaceMarketOrder(ctx, domain.MarketOrderRequest{
			Key: a.key, Portfolio: a.portfolio, Side: side, Quantity: volume,
		})
	})
}

// SetStopLimitForRow places a stop-limit order triggered at the row price.
// On an ask row it buys once the price rises above the row; on a bid row it
// sells once the price falls below it.
func (s *OrderService) SetStopLimitForRow(ctx context.Context, settings domain.WidgetSettings, row domain.BodyRow, volume float64, silent bool) error {
	var (
		side domain.Side
		cond domain.StopCondition
	)
	switch row.RowType {
	case domain.RowTypeAsk:
		side, cond = domain.SideBuy, domain.ConditionMore
	case domain.RowTypeBid:
		side, cond = domain.SideSell, domain.ConditionLess
	default:
		return fmt.Errorf("order_service: stop-limit on %q row: %w", row.RowType, domain.ErrInvalidOrder)
	}
	if volume <= 0 {
		return fmt.Errorf("order_service: stop-limit volume %v: %w", volume, domain.ErrInvalidOrder)
	}

	a := action{name: "stop_limit", key: settings.InstrumentKey(), portfolio: settings.Portfolio, side: side, volume: volume, price: row.Price, silent: silent}
	return s.execute(ctx, a, func(ctx context.Context) (domain.OrderResult, error) {
		return s.broker.PlaceStopOrder(ctx, domain.StopOrderRequest{
			Key: a.key, Portfolio: a.portfolio, Side: side, Quantity: volume,
			TriggerPrice: row.Price, Price: row.Price, Condition: cond, Limit: true,
		})
	})
}

// SetStopLoss protects the open position with a stop order at price for the
// full position size.
func (s *OrderService) SetStopLoss(ctx context.Context, settings domain.WidgetSettings, price float64, silent bool) error {
	pos, err := s.openPosition(ctx, settings)
	if err != nil {
		return err
	}
	side, cond := domain.SideSell, domain.ConditionLess
	if !pos.IsLong() {
		side, cond = domain.SideBuy, domain.ConditionMore
	}

	a := action{name: "stop_loss", key: settings.InstrumentKey(), portfolio: settings.Portfolio, side: side, volume: pos.AbsQty(), price: price, silent: silent}
	return s.execute(ctx, a, func(ctx context.Context) (domain.OrderResult, error) {
		return s.broker.PlaceStopOrder(ctx, domain.StopOrderRequest{
			Key: a.key, Portfolio: a.portfolio, Side: side, Quantity: a.volume,
			TriggerPrice: price, Condition: cond,
		})
	})
}

// openPosition fetches the widget's position. A flat or missing position
// raises the empty_positions notification and returns ErrEmptyPosition.
func (s *OrderService) openPosition(ctx context.Context, settings domain.WidgetSettings) (*domain.Position, error) {
	positions, err := s.broker.GetPositions(ctx, settings.Portfolio, settings.Exchange)
	if err != nil {
		return nil, fmt.Errorf("order_service: positions for %s: %w", settings.Portfolio, err)
	}
	pos := domain.FindPosition(positions, settings.InstrumentKey())
	if pos.IsFlat() {
		s.notify(ctx, EventEmptyPositions, "No open position",
			fmt.Sprintf("%s in %s has no position to act on", settings.InstrumentKey(), settings.Portfolio))
		return nil, fmt.Errorf("order_service: %s: %w", settings.InstrumentKey(), domain.ErrEmptyPosition)
	}
	return pos, nil
}

// execute runs one order call through the rate limiter and dedup, then
// records the outcome.
func (s *OrderService) execute(ctx context.Context, a action, call func(context.Context) (domain.OrderResult, error)) error {
	fp := a.fingerprint()
	if s.dedup.IsDuplicate(fp) {
		metrics.OrdersTotal.WithLabelValues(a.name, "duplicate").Inc()
		s.logger.DebugContext(ctx, "duplicate order action dropped", slog.String("action", a.name))
		return fmt.Errorf("order_service: %s: %w", a.name, domain.ErrDuplicate)
	}

	if s.limiter != nil && s.limits.PerWindow > 0 {
		allowed, err := s.limiter.Allow(ctx, "orders:"+a.portfolio, s.limits.PerWindow, s.limits.Window)
		if err != nil {
			s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			s.dedup.Forget(fp)
			metrics.OrdersTotal.WithLabelValues(a.name, "rate_limited").Inc()
			return fmt.Errorf("order_service: %s: %w", a.name, domain.ErrRateLimited)
		}
	}

	start := time.Now()
	res, err := call(ctx)
	metrics.OrderSubmitLatency.Observe(time.Since(start).Seconds())

	detail := a.detail()
	if err != nil {
		s.dedup.Forget(fp)
		metrics.OrdersTotal.WithLabelValues(a.name, "error").Inc()
		detail["error"] = err.Error()
		s.auditLog(ctx, EventOrderFailed, detail)
		s.publish(ctx, EventOrderFailed, detail)
		s.notify(ctx, EventOrderFailed, "Order failed",
			fmt.Sprintf("%s %s %v %s: %v", a.name, a.side, a.volume, a.key, err))
		return fmt.Errorf("order_service: %s: %w", a.name, err)
	}

	metrics.OrdersTotal.WithLabelValues(a.name, "ok").Inc()
	detail["order_id"] = res.OrderID
	s.auditLog(ctx, EventOrderPlaced, detail)
	s.publish(ctx, EventOrderPlaced, detail)
	if !a.silent {
		s.notify(ctx, EventOrderPlaced, "Order placed",
			fmt.Sprintf("%s %s %v %s (#%s)", a.name, a.side, a.volume, a.key, res.OrderID))
	}

	s.logger.InfoContext(ctx, "order placed",
		slog.String("action", a.name),
		slog.String("order_id", res.OrderID),
		slog.String("instrument", a.key.String()),
		slog.String("side", string(a.side)),
		slog.Float64("volume", a.volume),
	)
	return nil
}

func (s *OrderService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *OrderService) publish(ctx context.Context, event string, detail map[string]any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"event": event, "detail": detail})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, OrdersChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish order event failed", slog.String("error", err.Error()))
	}
}

func (s *OrderService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
