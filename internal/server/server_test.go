package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/feed"
	"github.com/alanyoungcy/scalperladder/internal/server/handler"
	"github.com/alanyoungcy/scalperladder/internal/server/ws"
	"github.com/alanyoungcy/scalperladder/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type instruments struct{}

func (instruments) GetInstrument(_ context.Context, key domain.InstrumentKey) (domain.Instrument, error) {
	return domain.Instrument{InstrumentKey: key, MinStep: 0.01, LotSize: 1}, nil
}

func (instruments) GetLastPrice(_ context.Context, key domain.InstrumentKey) (domain.LastPrice, error) {
	return domain.LastPrice{Key: key, Price: 100}, nil
}

type recordingSubmitter struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSubmitter) record(name string) error {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	return nil
}

func (s *recordingSubmitter) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingSubmitter) PlaceLimitOrder(context.Context, domain.WidgetSettings, domain.Side, float64, float64, bool) error {
	return s.record("limit")
}

func (s *recordingSubmitter) PlaceMarketOrder(context.Context, domain.WidgetSettings, domain.Side, float64, bool) error {
	return s.record("market")
}

func (s *recordingSubmitter) PlaceBestOrder(context.Context, domain.WidgetSettings, domain.Instrument, domain.Side, float64, domain.OrderBookSnapshot) error {
	return s.record("best")
}

func (s *recordingSubmitter) CancelOrders(context.Context, []domain.CurrentOrder) error {
	return s.record("cancel")
}

func (s *recordingSubmitter) ClosePositionsByMarket(context.Context, domain.WidgetSettings) error {
	return s.record("close")
}

func (s *recordingSubmitter) ReversePositionsByMarket(context.Context, domain.WidgetSettings) error {
	return s.record("reverse")
}

func (s *recordingSubmitter) SetStopLimitForRow(context.Context, domain.WidgetSettings, domain.BodyRow, float64, bool) error {
	return s.record("stop_limit")
}

func (s *recordingSubmitter) SetStopLoss(context.Context, domain.WidgetSettings, float64, bool) error {
	return s.record("stop_loss")
}

func idle[K comparable, T any](ctx context.Context, _ K, _ func(T)) error {
	<-ctx.Done()
	return nil
}

func books(ctx context.Context, key feed.BookKey, emit func(domain.OrderBookSnapshot)) error {
	emit(domain.OrderBookSnapshot{
		Key:  key.Instrument,
		Asks: []domain.BookLevel{{Price: 100.01, Volume: 5}, {Price: 100.02, Volume: 7}},
		Bids: []domain.BookLevel{{Price: 99.99, Volume: 4}},
	})
	<-ctx.Done()
	return nil
}

type harness struct {
	srv       *httptest.Server
	session   *session.Session
	submitter *recordingSubmitter
}

func setupServer(t *testing.T, apiKey string) *harness {
	t.Helper()
	logger := testLogger()
	sub := &recordingSubmitter{}
	sess := session.New(session.Deps{
		Books:       session.NewRegistry("books", books, logger),
		Orders:      session.NewRegistry("orders", idle[feed.PortfolioKey, []domain.Order], logger),
		Positions:   session.NewRegistry("positions", idle[feed.PortfolioKey, []domain.Position], logger),
		Quotes:      session.NewRegistry("quotes", idle[domain.InstrumentKey, domain.LastPrice], logger),
		Instruments: instruments{},
		Submitter:   sub,
		BufferRows:  10,
	}, logger)
	t.Cleanup(sess.Shutdown)

	hub := ws.NewHub(nil, logger)
	h := Handlers{
		Health:   handler.NewHealthHandler(nil),
		Status:   handler.NewStatusHandler("server", time.Now(), sess),
		Widgets:  handler.NewWidgetHandler(sess, nil, hub, logger),
		Commands: handler.NewCommandHandler(sess, logger),
		Terminal: handler.NewTerminalHandler(sess, nil, logger),
		Metrics:  http.NotFoundHandler(),
	}
	s := NewServer(Config{APIKey: apiKey, MetricsPath: "/metrics"}, h, hub, nil, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &harness{srv: ts, session: sess, submitter: sub}
}

func (h *harness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func widget() domain.WidgetSettings {
	return domain.WidgetSettings{
		Symbol:         "SBER",
		Exchange:       "MOEX",
		Portfolio:      "D1",
		WorkingVolumes: []float64{1, 5},
	}
}

func (h *harness) create(t *testing.T) string {
	t.Helper()
	var created struct {
		GUID   string `json:"guid"`
		Active bool   `json:"active"`
	}
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/api/widgets", widget(), &created))
	require.NotEmpty(t, created.GUID)
	return created.GUID
}

func (h *harness) waitRows(t *testing.T, guid string) domain.LadderView {
	t.Helper()
	var view domain.LadderView
	require.Eventually(t, func() bool {
		view = domain.LadderView{}
		h.do(t, http.MethodGet, "/api/widgets/"+guid+"/rows", nil, &view)
		return len(view.Rows) > 0
	}, 2*time.Second, 10*time.Millisecond)
	return view
}

func TestServer_WidgetLifecycle(t *testing.T) {
	h := setupServer(t, "")
	guid := h.create(t)

	view := h.waitRows(t, guid)
	assert.Equal(t, "SBER", view.Key.Symbol)
	assert.True(t, view.Active)

	var list []struct {
		GUID string `json:"guid"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/widgets", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, guid, list[0].GUID)

	next := widget()
	next.ShowZeroVolumeItems = true
	var got domain.WidgetSettings
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPut, "/api/widgets/"+guid+"/settings", next, &got))
	assert.Equal(t, guid, got.GUID)
	assert.Eventually(t, func() bool {
		var s domain.WidgetSettings
		h.do(t, http.MethodGet, "/api/widgets/"+guid+"/settings", nil, &s)
		return s.ShowZeroVolumeItems
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/widgets/"+guid, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/widgets/"+guid+"/rows", nil, nil))
}

func TestServer_ValidationErrors(t *testing.T) {
	h := setupServer(t, "")

	bad := widget()
	bad.Symbol = ""
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/widgets", bad, nil))

	bad = widget()
	bad.Depth = 100
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/widgets", bad, nil))

	guid := h.create(t)
	h.waitRows(t, guid)
	assert.Equal(t, http.StatusBadRequest,
		h.do(t, http.MethodPost, "/api/widgets/"+guid+"/scroll", map[string]string{"direction": "left"}, nil))
	assert.Equal(t, http.StatusBadRequest,
		h.do(t, http.MethodPost, "/api/commands", map[string]string{}, nil))
}

func TestServer_CommandsAndClicks(t *testing.T) {
	h := setupServer(t, "")
	guid := h.create(t)
	h.waitRows(t, guid)

	var res struct {
		Outcomes map[string]struct {
			Scope  string `json:"scope"`
			Action string `json:"action"`
		} `json:"outcomes"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/commands", domain.Command{Type: domain.CommandBuyMarket}, &res))
	require.Contains(t, res.Outcomes, guid)
	assert.Equal(t, "dispatched", res.Outcomes[guid].Action)
	assert.Eventually(t, func() bool {
		return len(h.submitter.Calls()) == 1 && h.submitter.Calls()[0] == "market"
	}, time.Second, 10*time.Millisecond)

	click := domain.MouseEvent{Button: domain.MouseButtonLeft}
	click.Row.Price = 99.99
	var out struct {
		Action string `json:"action"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/widgets/"+guid+"/click", click, &out))
	assert.Equal(t, "dispatched", out.Action)

	var scrolled map[string]int
	require.Equal(t, http.StatusOK,
		h.do(t, http.MethodPost, "/api/widgets/"+guid+"/scroll", map[string]string{"direction": "top"}, &scrolled))
	assert.Positive(t, scrolled["added"])

	require.Equal(t, http.StatusOK,
		h.do(t, http.MethodPost, "/api/widgets/"+guid+"/volume", map[string]float64{"volume": 5}, nil))
	assert.Eventually(t, func() bool {
		var v domain.LadderView
		h.do(t, http.MethodGet, "/api/widgets/"+guid+"/rows", nil, &v)
		return v.ActiveWorkingVolume != nil && *v.ActiveWorkingVolume == 5
	}, time.Second, 10*time.Millisecond)
}

func TestServer_TerminalSettings(t *testing.T) {
	h := setupServer(t, "")
	ts := domain.TerminalSettings{HotKeys: domain.HotKeysSettings{WorkingVolumes: []string{"1", "2", "3"}}}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPut, "/api/terminal/settings", ts, nil))

	var got domain.TerminalSettings
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/terminal/settings", nil, &got))
	assert.Equal(t, []string{"1", "2", "3"}, got.HotKeys.WorkingVolumes)
}

func TestServer_AuthAndOpenPaths(t *testing.T) {
	h := setupServer(t, "secret")

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/health", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/status", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/metrics", nil, nil))
}
