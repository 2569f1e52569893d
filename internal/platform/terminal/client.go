package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/alanyoungcy/scalperladder/internal/crypto"
	"github.com/alanyoungcy/scalperladder/internal/domain"
)

const ordersPath = "/commandapi/warptrans/TRADE/v2/client/orders"

// Client is the REST client for the terminal trading API. It handles order
// placement and cancellation plus the reference data lookups the ladder
// needs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://api.example-broker.ru".
// auth signs every request; nil sends unsigned requests.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: auth,
	}
}

// PlaceLimitOrder submits a limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.OrderResult, error) {
	body := map[string]any{
		"side":       string(req.Side),
		"quantity":   req.Quantity,
		"price":      req.Price,
		"instrument": instrumentBody(req.Key),
		"user":       map[string]string{"portfolio": req.Portfolio},
	}
	return c.postOrder(ctx, "limit", req.Portfolio, body)
}

// PlaceMarketOrder submits a market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, req domain.MarketOrderRequest) (domain.OrderResult, error) {
	body := map[string]any{
		"side":       string(req.Side),
		"quantity":   req.Quantity,
		"instrument": instrumentBody(req.Key),
		"user":       map[string]string{"portfolio": req.Portfolio},
	}
	return c.postOrder(ctx, "market", req.Portfolio, body)
}

// PlaceStopOrder submits a stop order, or a stop-limit order when req.Limit
// is set.
func (c *Client) PlaceStopOrder(ctx context.Context, req domain.StopOrderRequest) (domain.OrderResult, error) {
	body := map[string]any{
		"side":         string(req.Side),
		"quantity":     req.Quantity,
		"triggerPrice": req.TriggerPrice,
		"condition":    string(req.Condition),
		"instrument":   instrumentBody(req.Key),
		"user":         map[string]string{"portfolio": req.Portfolio},
	}
	action := "stop"
	if req.Limit {
		action = "stopLimit"
		body["price"] = req.Price
	}
	return c.postOrder(ctx, action, req.Portfolio, body)
}

// CancelOrder cancels a single order.
func (c *Client) CancelOrder(ctx context.Context, req domain.CancelOrderRequest) error {
	q := url.Values{}
	q.Set("portfolio", req.Portfolio)
	q.Set("exchange", req.Exchange)
	q.Set("stop", strconv.FormatBool(req.Stop))

	path := ordersPath + "/" + url.PathEscape(req.OrderID) + "?" + q.Encode()
	if _, err := c.do(ctx, http.MethodDelete, path, req.Portfolio, nil); err != nil {
		return fmt.Errorf("terminal/client: cancel order %s: %w", req.OrderID, err)
	}
	return nil
}

// GetInstrument fetches reference data for key.
func (c *Client) GetInstrument(ctx context.Context, key domain.InstrumentKey) (domain.Instrument, error) {
	path := fmt.Sprintf("/md/v2/Securities/%s/%s", url.PathEscape(key.Exchange), url.PathEscape(key.Symbol))
	if key.InstrumentGroup != "" {
		path += "?instrumentGroup=" + url.QueryEscape(key.InstrumentGroup)
	}

	respBody, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("terminal/client: get instrument %s: %w", key, err)
	}

	var data InstrumentData
	if err := json.Unmarshal(respBody, &data); err != nil {
		return domain.Instrument{}, fmt.Errorf("terminal/client: decode instrument: %w", err)
	}
	inst := data.ToDomain()
	if inst.Symbol == "" {
		inst.InstrumentKey = key
	}
	return inst, nil
}

// GetLastPrice fetches the last trade price for key.
func (c *Client) GetLastPrice(ctx context.Context, key domain.InstrumentKey) (domain.LastPrice, error) {
	path := fmt.Sprintf("/md/v2/Securities/%s/quotes", url.PathEscape(key.Exchange+":"+key.Symbol))

	respBody, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return domain.LastPrice{}, fmt.Errorf("terminal/client: get quote %s: %w", key, err)
	}

	var quotes []QuoteData
	if err := json.Unmarshal(respBody, &quotes); err != nil {
		return domain.LastPrice{}, fmt.Errorf("terminal/client: decode quote: %w", err)
	}
	if len(quotes) == 0 || quotes[0].LastPrice <= 0 {
		return domain.LastPrice{}, fmt.Errorf("terminal/client: quote %s: %w", key, domain.ErrNotFound)
	}
	return quotes[0].ToDomain(key), nil
}

// GetPositions fetches the positions of a portfolio.
func (c *Client) GetPositions(ctx context.Context, portfolio, exchange string) ([]domain.Position, error) {
	path := fmt.Sprintf("/md/v2/Clients/%s/%s/positions", url.PathEscape(exchange), url.PathEscape(portfolio))

	respBody, err := c.do(ctx, http.MethodGet, path, portfolio, nil)
	if err != nil {
		return nil, fmt.Errorf("terminal/client: get positions: %w", err)
	}

	var data []PositionData
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("terminal/client: decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(data))
	for _, p := range data {
		pos := p.ToDomain()
		if pos.Portfolio == "" {
			pos.Portfolio = portfolio
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (c *Client) postOrder(ctx context.Context, action, portfolio string, body map[string]any) (domain.OrderResult, error) {
	respBody, err := c.do(ctx, http.MethodPost, ordersPath+"/actions/"+action, portfolio, body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("terminal/client: post %s order: %w", action, err)
	}

	var res apiOrderResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("terminal/client: decode order result: %w", err)
	}
	if res.OrderNumber == "" {
		return domain.OrderResult{Message: res.Message}, fmt.Errorf("terminal/client: %s order rejected: %s: %w", action, res.Message, domain.ErrInvalidOrder)
	}
	return domain.OrderResult{OrderID: res.OrderNumber, Message: res.Message}, nil
}

func instrumentBody(key domain.InstrumentKey) map[string]string {
	m := map[string]string{
		"symbol":   key.Symbol,
		"exchange": key.Exchange,
	}
	if key.InstrumentGroup != "" {
		m["instrumentGroup"] = key.InstrumentGroup
	}
	return m
}

// do builds, signs, sends and reads a request. Order actions carry an
// X-REQID of "<portfolio>;<uuid>" so the API can reject replays.
func (c *Client) do(ctx context.Context, method, path, portfolio string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if portfolio != "" {
		req.Header.Set("X-REQID", portfolio+";"+uuid.NewString())
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
