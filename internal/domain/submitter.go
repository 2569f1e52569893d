package domain

import "context"

// OrderSubmitter places and cancels orders on behalf of the ladder. The
// ladder never inspects results beyond logging; reporting submission
// failures to the trader is the submitter's job.
type OrderSubmitter interface {
	PlaceLimitOrder(ctx context.Context, settings WidgetSettings, side Side, volume, price float64, silent bool) error
	PlaceMarketOrder(ctx context.Context, settings WidgetSettings, side Side, volume float64, silent bool) error
	PlaceBestOrder(ctx context.Context, settings WidgetSettings, instrument Instrument, side Side, volume float64, book OrderBookSnapshot) error
	CancelOrders(ctx context.Context, orders []CurrentOrder) error
	ClosePositionsByMarket(ctx context.Context, settings WidgetSettings) error
	ReversePositionsByMarket(ctx context.Context, settings WidgetSettings) error
	SetStopLimitForRow(ctx context.Context, settings WidgetSettings, row BodyRow, volume float64, silent bool) error
	SetStopLoss(ctx context.Context, settings WidgetSettings, price float64, silent bool) error
}
