package terminal

import (
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// Subscription opcodes understood by the terminal WebSocket API.
const (
	OpcodeOrderBook   = "OrderBookGetAndSubscribe"
	OpcodeOrders      = "OrdersGetAndSubscribeV2"
	OpcodeStopOrders  = "StopOrdersGetAndSubscribeV2"
	OpcodePositions   = "PositionsGetAndSubscribeV2"
	OpcodeQuotes      = "QuotesSubscribe"
	OpcodeUnsubscribe = "unsubscribe"

	// DefaultBookDepth is used when a book request does not set one.
	DefaultBookDepth = 10

	formatSlim = "slim"
)

// WSRequest is a subscription request. Instrument requests carry code and
// exchange; portfolio requests carry portfolio and exchange.
type WSRequest struct {
	Opcode          string `json:"opcode"`
	GUID            string `json:"guid"`
	Code            string `json:"code,omitempty"`
	Exchange        string `json:"exchange,omitempty"`
	InstrumentGroup string `json:"instrumentGroup,omitempty"`
	Portfolio       string `json:"portfolio,omitempty"`
	Depth           int    `json:"depth,omitempty"`
	Format          string `json:"format,omitempty"`
	Token           string `json:"token,omitempty"`
}

// BookRequest builds an order book subscription for key.
func BookRequest(key domain.InstrumentKey, depth int) WSRequest {
	if depth <= 0 {
		depth = DefaultBookDepth
	}
	return WSRequest{
		Opcode:          OpcodeOrderBook,
		Code:            key.Symbol,
		Exchange:        key.Exchange,
		InstrumentGroup: strings.TrimSpace(key.InstrumentGroup),
		Depth:           depth,
		Format:          formatSlim,
	}
}

// PortfolioRequest builds an orders, stop-orders or positions subscription.
func PortfolioRequest(opcode, portfolio, exchange string) WSRequest {
	return WSRequest{
		Opcode:    opcode,
		Portfolio: portfolio,
		Exchange:  exchange,
		Format:    formatSlim,
	}
}

// QuotesRequest builds a quotes subscription for key.
func QuotesRequest(key domain.InstrumentKey) WSRequest {
	return WSRequest{
		Opcode:          OpcodeQuotes,
		Code:            key.Symbol,
		Exchange:        key.Exchange,
		InstrumentGroup: strings.TrimSpace(key.InstrumentGroup),
		Format:          formatSlim,
	}
}

// wsFrame is the envelope of every server message.
type wsFrame struct {
	GUID     string          `json:"guid"`
	Data     json.RawMessage `json:"data"`
	HTTPCode int             `json:"httpCode"`
	Message  string          `json:"message"`
}

// BookData is an order book message. Existing is false for a full snapshot
// and true for an update of levels that already existed.
type BookData struct {
	Asks      []domain.BookLevel `json:"a"`
	Bids      []domain.BookLevel `json:"b"`
	Timestamp int64              `json:"t"`
	Existing  bool               `json:"existing"`
}

// Time converts the millisecond timestamp.
func (b BookData) Time() time.Time {
	if b.Timestamp == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(b.Timestamp).UTC()
}

// OrderData is an order as sent on the orders and stop-orders streams.
type OrderData struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"sym"`
	Exchange        string  `json:"ex"`
	InstrumentGroup string  `json:"brd"`
	Portfolio       string  `json:"p"`
	Type            string  `json:"t"`
	Side            string  `json:"s"`
	Status          string  `json:"st"`
	Price           float64 `json:"px"`
	StopPrice       float64 `json:"spx"`
	Condition       string  `json:"cnd"`
	Qty             float64 `json:"q"`
	Filled          float64 `json:"fq"`
	TransTime       string  `json:"tt"`
}

// ToDomain converts the wire order.
func (o OrderData) ToDomain() domain.Order {
	out := domain.Order{
		ID: o.ID,
		Key: domain.InstrumentKey{
			Symbol:          o.Symbol,
			Exchange:        o.Exchange,
			InstrumentGroup: o.InstrumentGroup,
		},
		Portfolio:    o.Portfolio,
		Side:         domain.Side(strings.ToLower(o.Side)),
		Type:         orderType(o.Type),
		Status:       domain.OrderStatus(strings.ToLower(o.Status)),
		Price:        o.Price,
		TriggerPrice: o.StopPrice,
		Condition:    domain.StopCondition(o.Condition),
		Qty:          o.Qty,
		FilledQty:    o.Filled,
	}
	if o.TransTime != "" {
		if ts, err := time.Parse(time.RFC3339Nano, o.TransTime); err == nil {
			out.TransTime = ts
		}
	}
	return out
}

func orderType(t string) domain.OrderType {
	switch strings.ToLower(t) {
	case "stoplimit", "stop_limit":
		return domain.OrderTypeStopLimit
	case "stop", "stoploss":
		return domain.OrderTypeStop
	case "market":
		return domain.OrderTypeMarket
	default:
		return domain.OrderTypeLimit
	}
}

// PositionData is a position as sent on the positions stream.
type PositionData struct {
	Symbol          string  `json:"sym"`
	Exchange        string  `json:"ex"`
	InstrumentGroup string  `json:"brd"`
	Portfolio       string  `json:"p"`
	Qty             float64 `json:"q"`
	AvgPrice        float64 `json:"avg"`
}

// ToDomain converts the wire position.
func (p PositionData) ToDomain() domain.Position {
	return domain.Position{
		Key: domain.InstrumentKey{
			Symbol:          p.Symbol,
			Exchange:        p.Exchange,
			InstrumentGroup: p.InstrumentGroup,
		},
		Portfolio: p.Portfolio,
		Qty:       p.Qty,
		AvgPrice:  p.AvgPrice,
	}
}

// QuoteData is a quote update. Only the last trade price is used.
type QuoteData struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	LastPrice float64 `json:"last_price"`
	Timestamp int64   `json:"last_price_timestamp"`
}

// ToDomain converts the quote into a last price for key.
func (q QuoteData) ToDomain(key domain.InstrumentKey) domain.LastPrice {
	ts := time.Now().UTC()
	if q.Timestamp > 0 {
		ts = time.Unix(q.Timestamp, 0).UTC()
	}
	return domain.LastPrice{Key: key, Price: q.LastPrice, Timestamp: ts}
}

// InstrumentData is the REST instrument description.
type InstrumentData struct {
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	Board       string  `json:"board"`
	ShortName   string  `json:"shortname"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Currency    string  `json:"currency"`
	MinStep     float64 `json:"minstep"`
	LotSize     float64 `json:"lotsize"`
}

// ToDomain converts the REST instrument.
func (i InstrumentData) ToDomain() domain.Instrument {
	return domain.Instrument{
		InstrumentKey: domain.InstrumentKey{
			Symbol:          i.Symbol,
			Exchange:        i.Exchange,
			InstrumentGroup: i.Board,
		},
		ShortName:   i.ShortName,
		Description: i.Description,
		Type:        i.Type,
		Currency:    i.Currency,
		MinStep:     i.MinStep,
		LotSize:     i.LotSize,
	}
}

// apiOrderResult is the REST response to an order action.
type apiOrderResult struct {
	Message     string `json:"message"`
	OrderNumber string `json:"orderNumber"`
}
