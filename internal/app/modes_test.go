package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalperladder/internal/config"
	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/feed"
	"github.com/alanyoungcy/scalperladder/internal/ladder"
	"github.com/alanyoungcy/scalperladder/internal/session"
)

func TestDecodeCommand(t *testing.T) {
	cmd, err := decodeCommand([]byte(`{"type":"buyMarket"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.CommandBuyMarket, cmd.Type)

	cmd, err = decodeCommand([]byte(`{"type":"3"}`))
	require.NoError(t, err)
	idx, ok := cmd.WorkingVolumeIndex()
	assert.True(t, ok)
	assert.Equal(t, 3, idx)

	cmd, err = decodeCommand([]byte(`{"type":"selectWorkingVolume","index":2}`))
	require.NoError(t, err)
	idx, ok = cmd.WorkingVolumeIndex()
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	cmd, err = decodeCommand([]byte(`{"type":"selectWorkingVolume"}`))
	require.NoError(t, err)
	_, ok = cmd.WorkingVolumeIndex()
	assert.False(t, ok)

	_, err = decodeCommand([]byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = decodeCommand([]byte(`not json`))
	assert.Error(t, err)
}

type memSettings struct {
	terminal *domain.TerminalSettings
	widgets  []domain.WidgetSettings
}

func (m *memSettings) GetWidget(_ context.Context, guid string) (domain.WidgetSettings, error) {
	for _, w := range m.widgets {
		if w.GUID == guid {
			return w, nil
		}
	}
	return domain.WidgetSettings{}, domain.ErrNotFound
}

func (m *memSettings) ListWidgets(context.Context) ([]domain.WidgetSettings, error) {
	return m.widgets, nil
}

func (m *memSettings) SaveWidget(_ context.Context, s domain.WidgetSettings) error {
	m.widgets = append(m.widgets, s)
	return nil
}

func (m *memSettings) DeleteWidget(context.Context, string) error { return nil }

func (m *memSettings) GetTerminal(context.Context) (domain.TerminalSettings, error) {
	if m.terminal == nil {
		return domain.TerminalSettings{}, domain.ErrNotFound
	}
	return *m.terminal, nil
}

func (m *memSettings) SaveTerminal(_ context.Context, s domain.TerminalSettings) error {
	m.terminal = &s
	return nil
}

type instruments struct{}

func (instruments) GetInstrument(_ context.Context, key domain.InstrumentKey) (domain.Instrument, error) {
	return domain.Instrument{InstrumentKey: key, MinStep: 0.01, LotSize: 1}, nil
}

func (instruments) GetLastPrice(_ context.Context, key domain.InstrumentKey) (domain.LastPrice, error) {
	return domain.LastPrice{Key: key, Price: 100}, nil
}

func idle[K comparable, T any](ctx context.Context, _ K, _ func(T)) error {
	<-ctx.Done()
	return nil
}

func setupApp(t *testing.T, scheme string) (*App, *session.Session) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Defaults()
	cfg.Ladder.MouseScheme = scheme
	sess := session.New(session.Deps{
		Books:              session.NewRegistry("books", idle[feed.BookKey, domain.OrderBookSnapshot], logger),
		Orders:             session.NewRegistry("orders", idle[feed.PortfolioKey, []domain.Order], logger),
		Positions:          session.NewRegistry("positions", idle[feed.PortfolioKey, []domain.Position], logger),
		Quotes:             session.NewRegistry("quotes", idle[domain.InstrumentKey, domain.LastPrice], logger),
		Instruments:        instruments{},
		BufferRows:         cfg.Ladder.BufferRows,
		DefaultDepth:       cfg.Ladder.DefaultDepth,
		DefaultVisibleRows: cfg.Ladder.DefaultVisibleRows,
		DefaultPortfolio:   "D1",
	}, logger)
	t.Cleanup(sess.Shutdown)
	return New(&cfg, logger), sess
}

func TestRestoreReopensStoredWidgets(t *testing.T) {
	a, sess := setupApp(t, "scheme2")
	store := &memSettings{widgets: []domain.WidgetSettings{
		{GUID: "w1", Symbol: "SBER", Exchange: "MOEX"},
		{GUID: "w2", Symbol: "GAZP", Exchange: "MOEX", Portfolio: "D2", Depth: 5},
	}}

	a.restore(context.Background(), sess, store)

	instances := sess.Instances()
	require.Len(t, instances, 2)
	assert.Equal(t, "w1", sess.Active())

	w1 := instances[0].Settings()
	assert.Equal(t, "D1", w1.Portfolio, "default portfolio filled in")
	assert.Equal(t, 10, w1.Depth)
	w2 := instances[1].Settings()
	assert.Equal(t, "D2", w2.Portfolio)
	assert.Equal(t, 5, w2.Depth)

	ts := sess.Terminal()
	require.NotNil(t, ts.MouseActions)
	assert.Equal(t, domain.MouseScheme2, ts.MouseActions.Name)
}

func TestRestoreKeepsStoredMouseActions(t *testing.T) {
	a, sess := setupApp(t, "scheme2")
	stored := ladder.MouseActionsFor(domain.MouseScheme1)
	store := &memSettings{terminal: &domain.TerminalSettings{MouseActions: &stored}}

	a.restore(context.Background(), sess, store)

	assert.Empty(t, sess.Instances())
	require.NotNil(t, sess.Terminal().MouseActions)
	assert.Equal(t, domain.MouseScheme1, sess.Terminal().MouseActions.Name)
}

func TestRestoreWithoutStore(t *testing.T) {
	a, sess := setupApp(t, "scheme1")
	a.restore(context.Background(), sess, nil)

	assert.Empty(t, sess.Instances())
	require.NotNil(t, sess.Terminal().MouseActions)
	assert.Equal(t, domain.MouseScheme1, sess.Terminal().MouseActions.Name)
}
