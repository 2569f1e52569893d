package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

var errSubmitQueueFull = errors.New("session: order queue full")

const (
	submitQueueSize = 64
	submitTimeout   = 30 * time.Second
)

// asyncSubmitter queues order actions on a per-instance worker so network
// calls never block the instance loop. Actions run in the order they were
// queued. Errors are logged here; user-facing reporting belongs to the
// wrapped submitter.
type asyncSubmitter struct {
	next   domain.OrderSubmitter
	queue  chan func(ctx context.Context) error
	logger *slog.Logger
}

var _ domain.OrderSubmitter = (*asyncSubmitter)(nil)

func newAsyncSubmitter(next domain.OrderSubmitter, logger *slog.Logger) *asyncSubmitter {
	return &asyncSubmitter{
		next:   next,
		queue:  make(chan func(ctx context.Context) error, submitQueueSize),
		logger: logger,
	}
}

// run executes queued actions until ctx is done.
func (a *asyncSubmitter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-a.queue:
			callCtx, cancel := context.WithTimeout(ctx, submitTimeout)
			if err := fn(callCtx); err != nil {
				a.logger.Warn("order action failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}

func (a *asyncSubmitter) enqueue(fn func(ctx context.Context) error) error {
	select {
	case a.queue <- fn:
		return nil
	default:
		return errSubmitQueueFull
	}
}

func (a *asyncSubmitter) PlaceLimitOrder(_ context.Context, settings domain.WidgetSettings, side domain.Side, volume, price float64, silent bool) error {
	return a.enqueue(func(ctx context.Context) error {
		return a.next.PlaceLimitOrder(ctx, settings, side, volume, price, silent)
	})
}

func (a *asyncSubmitter) PlaceMarketOrder(_ context.Context, settings domain.WidgetSettings, side domain.Side, volume float64, silent bool) error {
	return a.enqueue(func(ctx context.Context) error {
		return a.next.PlaceMarketOrder(ctx, settings, side, volume, silent)
	})
}

func (a *asyncSubmitter) PlaceBestOrder(_ context.Context, settings domain.WidgetSettings, instrument domain.Instrument, side domain.Side, volume float64, book domain.OrderBookSnapshot) error {
	return a.enqueue(func(ctx context.Context) error {
		return a.next.PlaceBestOrder(ctx, settings, instrument, side, volume, book)
	})
}

func (a *asyncSubmitter) CancelOrders(_ context.Context, orders []domain.CurrentOrder) error {
	orders = append([]domain.CurrentOrder(nil), orders...)
	return a.enqueue(func(ctx context.Context) error {
		return a.next.CancelOrders(ctx, orders)
	})
}

func (a *asyncSubmitter) ClosePositionsByMarket(_ context.Context, settings domain.WidgetSettings) error {
	return a.enqueue(func(ctx context.Context) error {
		return a.next.ClosePositionsByMarket(ctx, settings)
	})
}

func (a *asyncSubmitter) ReversePositionsByMarket(_ context.Context, settings domain.WidgetSettings) error {
	return a.enqueue(func(ctx context.Context) error {
		return a.next.ReversePositionsByMarket(ctx, settings)
	})
}

func (a *asyncSubmitter) SetStopLimitForRow(_ context.Context, settings domain.WidgetSettings, row domain.BodyRow, volume float64, silent bool) error {
	return a.enqueue(func(ctx context.Context) error {
		return a.next.SetStopLimitForRow(ctx, settings, row, volume, silent)
	})
}

func (a *asyncSubmitter) SetStopLoss(_ context.Context, settings domain.WidgetSettings, price float64, silent bool) error {
	return a.enqueue(func(ctx context.Context) error {
		return a.next.SetStopLoss(ctx, settings, price, silent)
	})
}
