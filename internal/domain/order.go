package domain

import "time"

// Side indicates whether an order buys or sells.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the kind of order as reported by the orders feed.
type OrderType string

const (
	OrderTypeLimit     OrderType = "limit"
	OrderTypeMarket    OrderType = "market"
	OrderTypeStopLimit OrderType = "stoplimit"
	OrderTypeStop      OrderType = "stop" // stop-loss, executed at market once triggered
)

// IsStop reports whether the order rests on a trigger price rather than a
// limit price.
func (t OrderType) IsStop() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusWorking  OrderStatus = "working"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// StopCondition is the trigger comparison for stop orders.
type StopCondition string

const (
	ConditionMore        StopCondition = "More"
	ConditionLess        StopCondition = "Less"
	ConditionMoreOrEqual StopCondition = "MoreOrEqual"
	ConditionLessOrEqual StopCondition = "LessOrEqual"
)

// Order is a client order as reported by the orders and stop-orders feeds.
type Order struct {
	ID           string        `json:"id"`
	Key          InstrumentKey `json:"instrumentKey"`
	Portfolio    string        `json:"portfolio"`
	Side         Side          `json:"side"`
	Type         OrderType     `json:"type"`
	Status       OrderStatus   `json:"status"`
	Price        float64       `json:"price"`
	TriggerPrice float64       `json:"triggerPrice,omitempty"`
	Condition    StopCondition `json:"condition,omitempty"`
	Qty          float64       `json:"qty"`
	FilledQty    float64       `json:"filledQty"`
	TransTime    time.Time     `json:"transTime"`
}

// RemainingQty returns the unfilled quantity.
func (o Order) RemainingQty() float64 {
	return o.Qty - o.FilledQty
}

// LadderPrice returns the price at which the order is shown on the ladder:
// the trigger price for stop orders, the limit price otherwise.
func (o Order) LadderPrice() float64 {
	if o.Type.IsStop() {
		return o.TriggerPrice
	}
	return o.Price
}

// CurrentOrder is the overlay view of a working order.
type CurrentOrder struct {
	OrderID   string    `json:"orderId"`
	Exchange  string    `json:"exchange"`
	Portfolio string    `json:"portfolio"`
	Type      OrderType `json:"type"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}

// ToCurrentOrder converts a feed order into its overlay view.
func (o Order) ToCurrentOrder() CurrentOrder {
	return CurrentOrder{
		OrderID:   o.ID,
		Exchange:  o.Key.Exchange,
		Portfolio: o.Portfolio,
		Type:      o.Type,
		Side:      o.Side,
		Price:     o.LadderPrice(),
		Volume:    o.RemainingQty(),
	}
}

// LimitOrderRequest is submitted to place a limit order.
type LimitOrderRequest struct {
	Key       InstrumentKey `json:"instrument"`
	Portfolio string        `json:"portfolio"`
	Side      Side          `json:"side"`
	Quantity  float64       `json:"quantity"`
	Price     float64       `json:"price"`
}

// MarketOrderRequest is submitted to place a market order.
type MarketOrderRequest struct {
	Key       InstrumentKey `json:"instrument"`
	Portfolio string        `json:"portfolio"`
	Side      Side          `json:"side"`
	Quantity  float64       `json:"quantity"`
}

// StopOrderRequest is submitted to place a stop or stop-limit order. Price
// is ignored for plain stop orders.
type StopOrderRequest struct {
	Key          InstrumentKey `json:"instrument"`
	Portfolio    string        `json:"portfolio"`
	Side         Side          `json:"side"`
	Quantity     float64       `json:"quantity"`
	TriggerPrice float64       `json:"triggerPrice"`
	Price        float64       `json:"price,omitempty"`
	Condition    StopCondition `json:"condition"`
	Limit        bool          `json:"-"`
}

// CancelOrderRequest identifies a single order to cancel.
type CancelOrderRequest struct {
	OrderID   string `json:"orderId"`
	Exchange  string `json:"exchange"`
	Portfolio string `json:"portfolio"`
	Stop      bool   `json:"stop"`
}

// OrderResult wraps the terminal API response after a submission.
type OrderResult struct {
	OrderID string `json:"orderNumber"`
	Message string `json:"message"`
}
