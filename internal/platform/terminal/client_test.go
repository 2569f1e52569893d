package terminal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalperladder/internal/crypto"
	"github.com/alanyoungcy/scalperladder/internal/domain"
)

var sber = domain.InstrumentKey{Symbol: "SBER", Exchange: "MOEX", InstrumentGroup: "TQBR"}

func TestClient_PlaceLimitOrder(t *testing.T) {
	var (
		gotPath   string
		gotBody   map[string]any
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"message":"success","orderNumber":"18995978560"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"}, time.Second)
	res, err := c.PlaceLimitOrder(context.Background(), domain.LimitOrderRequest{
		Key: sber, Portfolio: "D39004", Side: domain.SideBuy, Quantity: 3, Price: 250.5,
	})

	require.NoError(t, err)
	assert.Equal(t, "18995978560", res.OrderID)
	assert.Equal(t, ordersPath+"/actions/limit", gotPath)
	assert.Equal(t, "buy", gotBody["side"])
	assert.Equal(t, 250.5, gotBody["price"])
	assert.Equal(t, "TQBR", gotBody["instrument"].(map[string]any)["instrumentGroup"])
	assert.True(t, strings.HasPrefix(gotHeader.Get("X-REQID"), "D39004;"))
	assert.Equal(t, "k", gotHeader.Get(crypto.HeaderAPIKey))
	assert.NotEmpty(t, gotHeader.Get(crypto.HeaderSignature))
}

func TestClient_PlaceStopOrder_Path(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"orderNumber":"1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, time.Second)
	_, err := c.PlaceStopOrder(context.Background(), domain.StopOrderRequest{Key: sber, Side: domain.SideSell, Quantity: 1, TriggerPrice: 99})
	require.NoError(t, err)
	_, err = c.PlaceStopOrder(context.Background(), domain.StopOrderRequest{Key: sber, Side: domain.SideSell, Quantity: 1, TriggerPrice: 99, Price: 98, Limit: true})
	require.NoError(t, err)

	assert.Equal(t, []string{ordersPath + "/actions/stop", ordersPath + "/actions/stopLimit"}, paths)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, "slow down", domain.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, "", domain.ErrUnauthorized},
		{"bad request", http.StatusBadRequest, "bad qty", domain.ErrInvalidOrder},
		{"rejected", http.StatusOK, `{"message":"not enough funds"}`, domain.ErrInvalidOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, nil, time.Second)
			_, err := c.PlaceMarketOrder(context.Background(), domain.MarketOrderRequest{Key: sber, Side: domain.SideBuy, Quantity: 1})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_CancelOrder(t *testing.T) {
	var gotURL string
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotMethod = r.Method
		_, _ = w.Write([]byte(`success`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, time.Second)
	err := c.CancelOrder(context.Background(), domain.CancelOrderRequest{OrderID: "42", Exchange: "MOEX", Portfolio: "D1", Stop: true})

	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, ordersPath+"/42?exchange=MOEX&portfolio=D1&stop=true", gotURL)
}

func TestClient_GetInstrument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/md/v2/Securities/MOEX/SBER", r.URL.Path)
		assert.Equal(t, "TQBR", r.URL.Query().Get("instrumentGroup"))
		_, _ = w.Write([]byte(`{"symbol":"SBER","exchange":"MOEX","board":"TQBR","shortname":"Sberbank","minstep":0.01,"lotsize":10,"type":"CS"}`))
	}))
	defer srv.Close()

	inst, err := NewClient(srv.URL, nil, time.Second).GetInstrument(context.Background(), sber)

	require.NoError(t, err)
	assert.Equal(t, sber, inst.InstrumentKey)
	assert.Equal(t, 0.01, inst.MinStep)
	assert.Equal(t, "Sberbank", inst.ShortName)
	assert.True(t, inst.HasPriceStep())
}

func TestClient_GetLastPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"SBER","exchange":"MOEX","last_price":271.33,"last_price_timestamp":1700000000}]`))
	}))
	defer srv.Close()

	lp, err := NewClient(srv.URL, nil, time.Second).GetLastPrice(context.Background(), sber)

	require.NoError(t, err)
	assert.Equal(t, 271.33, lp.Price)
	assert.Equal(t, int64(1700000000), lp.Timestamp.Unix())
}

func TestOrderData_ToDomain(t *testing.T) {
	raw := `{"id":"7","sym":"SBER","ex":"MOEX","brd":"TQBR","p":"D1","t":"stoplimit","s":"Sell","st":"working","px":250,"spx":251,"cnd":"More","q":10,"fq":4}`

	var o OrderData
	require.NoError(t, json.Unmarshal([]byte(raw), &o))
	got := o.ToDomain()

	assert.Equal(t, domain.OrderTypeStopLimit, got.Type)
	assert.Equal(t, domain.SideSell, got.Side)
	assert.Equal(t, domain.OrderStatusWorking, got.Status)
	assert.Equal(t, 251.0, got.LadderPrice())
	assert.Equal(t, 6.0, got.RemainingQty())
	assert.True(t, got.Key.Equal(sber))
}

func TestBookRequest_DefaultDepth(t *testing.T) {
	req := BookRequest(domain.InstrumentKey{Symbol: "SBER", Exchange: "MOEX", InstrumentGroup: " "}, 0)

	assert.Equal(t, OpcodeOrderBook, req.Opcode)
	assert.Equal(t, DefaultBookDepth, req.Depth)
	assert.Empty(t, req.InstrumentGroup)
	assert.Equal(t, "slim", req.Format)
}
