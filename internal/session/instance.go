package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/feed"
	"github.com/alanyoungcy/scalperladder/internal/ladder"
	"github.com/alanyoungcy/scalperladder/internal/metrics"
)

const (
	inboxSize     = 256
	lookupTimeout = 10 * time.Second
)

// ScrollDirection selects which end of the window to extend.
type ScrollDirection string

const (
	ScrollTop    ScrollDirection = "top"
	ScrollBottom ScrollDirection = "bottom"
)

// InstrumentSource resolves reference data and seed prices.
type InstrumentSource interface {
	GetInstrument(ctx context.Context, key domain.InstrumentKey) (domain.Instrument, error)
	GetLastPrice(ctx context.Context, key domain.InstrumentKey) (domain.LastPrice, error)
}

// ViewSink receives every rendered view. Publish must not block.
type ViewSink interface {
	Publish(view domain.LadderView)
}

// Deps are the collaborators shared by every instance of a session.
type Deps struct {
	Books       *Registry[feed.BookKey, domain.OrderBookSnapshot]
	Orders      *Registry[feed.PortfolioKey, []domain.Order]
	Positions   *Registry[feed.PortfolioKey, []domain.Position]
	Quotes      *Registry[domain.InstrumentKey, domain.LastPrice]
	Instruments InstrumentSource
	Submitter   domain.OrderSubmitter
	Sink        ViewSink

	BufferRows         int
	DefaultDepth       int
	DefaultVisibleRows int
	DefaultPortfolio   string
}

// Instance messages. Everything that touches instance state goes through
// the inbox and is handled on the instance goroutine.
type (
	settingsMsg struct{ settings domain.WidgetSettings }
	terminalMsg struct{ settings domain.TerminalSettings }
	activeMsg   struct{ active bool }
	volumeMsg   struct{ volume float64 }

	commandMsg struct {
		cmd   domain.Command
		reply chan ladder.Outcome
	}
	mouseMsg struct {
		ev    domain.MouseEvent
		reply chan ladder.Outcome
	}
	cancelRowMsg struct {
		price float64
		reply chan ladder.Outcome
	}
	scrollMsg struct {
		dir   ScrollDirection
		reply chan scrollResult
	}

	instrumentMsg struct {
		epoch uint64
		inst  domain.Instrument
		err   error
	}
	seedMsg struct {
		epoch uint64
		price domain.LastPrice
		err   error
	}
)

type scrollResult struct {
	added int
	err   error
}

// Instance is one ladder widget. It owns its window, merge state, command
// router and feed subscriptions, and runs them on a single goroutine.
type Instance struct {
	guid   string
	deps   Deps
	logger *slog.Logger

	inbox  chan any
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	view        atomic.Pointer[domain.LadderView]
	settingsRef atomic.Pointer[domain.WidgetSettings]

	// Owned by the instance goroutine.
	settings    domain.WidgetSettings
	terminal    domain.TerminalSettings
	active      bool
	epoch       uint64
	instrument  *domain.Instrument
	book        domain.OrderBookSnapshot
	orders      []domain.Order
	positions   []domain.Position
	lastPrice   float64
	result      ladder.Result
	rows        []domain.BodyRow
	regenerated bool
	centerIndex *int

	store     *ladder.Store
	merger    *ladder.Merger
	router    *ladder.Router
	submitter *asyncSubmitter
	unwatch   func()

	bookSub     *Subscription[domain.OrderBookSnapshot]
	ordersSub   *Subscription[[]domain.Order]
	positionSub *Subscription[[]domain.Position]
	quoteSub    *Subscription[domain.LastPrice]
}

var _ ladder.Regenerator = (*Instance)(nil)

func newInstance(guid string, settings domain.WidgetSettings, terminal domain.TerminalSettings, active bool, deps Deps, logger *slog.Logger) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With(slog.String("component", "ladder_instance"), slog.String("guid", guid))

	i := &Instance{
		guid:     guid,
		deps:     deps,
		logger:   logger,
		inbox:    make(chan any, inboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		terminal: terminal,
		active:   active,
		store:    ladder.NewStore(deps.BufferRows, logger),
	}
	i.submitter = newAsyncSubmitter(deps.Submitter, logger)
	i.merger = ladder.NewMerger(i, logger)
	i.router = ladder.NewRouter(i.submitter, logger)
	i.router.SetMouseActions(terminal.MouseActions)

	// Store mutations only happen on the instance goroutine, so the
	// callback may touch instance state.
	i.unwatch = i.store.Subscribe(func(w domain.LadderWindow) {
		if w.IsEmpty() {
			i.result = ladder.Result{}
		}
	})

	settings = i.withDefaults(settings)
	i.settingsRef.Store(&settings)
	i.inbox <- settingsMsg{settings: settings}
	go i.submitter.run(ctx)
	go i.loop()
	return i
}

// GUID returns the instance id.
func (i *Instance) GUID() string { return i.guid }

// Settings returns the settings currently applied.
func (i *Instance) Settings() domain.WidgetSettings {
	if s := i.settingsRef.Load(); s != nil {
		return *s
	}
	return domain.WidgetSettings{GUID: i.guid}
}

// View returns the last rendered view.
func (i *Instance) View() domain.LadderView {
	if v := i.view.Load(); v != nil {
		return *v
	}
	return domain.LadderView{GUID: i.guid, Loading: true}
}

// Update applies new widget settings. Identical settings are ignored.
func (i *Instance) Update(ctx context.Context, settings domain.WidgetSettings) error {
	settings.GUID = i.guid
	return i.send(ctx, settingsMsg{settings: settings})
}

// SetTerminal applies terminal-wide settings.
func (i *Instance) SetTerminal(ctx context.Context, settings domain.TerminalSettings) error {
	return i.send(ctx, terminalMsg{settings: settings})
}

// SetActive marks the instance as the one receiving current-instance
// commands.
func (i *Instance) SetActive(ctx context.Context, active bool) error {
	return i.send(ctx, activeMsg{active: active})
}

// SelectVolume picks the working volume used by later orders.
func (i *Instance) SelectVolume(ctx context.Context, volume float64) error {
	return i.send(ctx, volumeMsg{volume: volume})
}

// Command routes a hotkey command and waits for the outcome.
func (i *Instance) Command(ctx context.Context, cmd domain.Command) (ladder.Outcome, error) {
	reply := make(chan ladder.Outcome, 1)
	if err := i.send(ctx, commandMsg{cmd: cmd, reply: reply}); err != nil {
		return ladder.Outcome{}, err
	}
	return await(ctx, i.done, reply)
}

// Click handles a mouse click. The row is resolved against the instance's
// own rows by price; the client-supplied row only carries the price.
func (i *Instance) Click(ctx context.Context, ev domain.MouseEvent) (ladder.Outcome, error) {
	reply := make(chan ladder.Outcome, 1)
	if err := i.send(ctx, mouseMsg{ev: ev, reply: reply}); err != nil {
		return ladder.Outcome{}, err
	}
	return await(ctx, i.done, reply)
}

// CancelRow cancels every order resting at price.
func (i *Instance) CancelRow(ctx context.Context, price float64) (ladder.Outcome, error) {
	reply := make(chan ladder.Outcome, 1)
	if err := i.send(ctx, cancelRowMsg{price: price, reply: reply}); err != nil {
		return ladder.Outcome{}, err
	}
	return await(ctx, i.done, reply)
}

// Scroll extends the window in dir and returns the number of rows added.
func (i *Instance) Scroll(ctx context.Context, dir ScrollDirection) (int, error) {
	reply := make(chan scrollResult, 1)
	if err := i.send(ctx, scrollMsg{dir: dir, reply: reply}); err != nil {
		return 0, err
	}
	res, err := await(ctx, i.done, reply)
	if err != nil {
		return 0, err
	}
	return res.added, res.err
}

// Close stops the instance and releases its subscriptions.
func (i *Instance) Close() {
	i.cancel()
	<-i.done
}

func (i *Instance) send(ctx context.Context, msg any) error {
	select {
	case i.inbox <- msg:
		return nil
	case <-i.done:
		return domain.ErrInstanceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-done:
		return zero, domain.ErrInstanceClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (i *Instance) loop() {
	defer close(i.done)
	defer i.teardown()

	for {
		var (
			bookC  <-chan domain.OrderBookSnapshot
			orderC <-chan []domain.Order
			posC   <-chan []domain.Position
			quoteC <-chan domain.LastPrice
		)
		if i.bookSub != nil {
			bookC = i.bookSub.C
		}
		if i.ordersSub != nil {
			orderC = i.ordersSub.C
		}
		if i.positionSub != nil {
			posC = i.positionSub.C
		}
		if i.quoteSub != nil {
			quoteC = i.quoteSub.C
		}

		select {
		case <-i.ctx.Done():
			return
		case msg := <-i.inbox:
			i.handle(msg)
		case snap := <-bookC:
			i.onBook(snap)
		case orders := <-orderC:
			i.orders = orders
			i.render()
		case positions := <-posC:
			i.positions = positions
			i.render()
		case lp := <-quoteC:
			i.onQuote(lp)
		}
	}
}

func (i *Instance) handle(msg any) {
	switch m := msg.(type) {
	case settingsMsg:
		i.applySettings(m.settings)
	case terminalMsg:
		i.terminal = m.settings
		i.router.SetMouseActions(m.settings.MouseActions)
		i.router.SyncWorkingVolumes(i.settings.WorkingVolumes, m.settings.HotKeys)
		i.render()
	case activeMsg:
		if i.active != m.active {
			i.active = m.active
			i.render()
		}
	case volumeMsg:
		i.router.SetActiveWorkingVolume(m.volume)
		i.render()
	case commandMsg:
		out := i.router.Handle(i.ctx, i.routerContext(), m.cmd)
		metrics.CommandsTotal.WithLabelValues(string(out.Scope), string(out.Action)).Inc()
		if out.Action == ladder.ActionCenter {
			i.center()
		}
		i.render()
		m.reply <- out
	case mouseMsg:
		ev := m.ev
		ev.Row = i.rowAt(ev.Row.Price)
		out := i.router.HandleMouse(i.ctx, i.routerContext(), ev)
		metrics.CommandsTotal.WithLabelValues(string(out.Scope), string(out.Action)).Inc()
		m.reply <- out
	case cancelRowMsg:
		out := i.router.CancelRowOrders(i.ctx, i.rowAt(m.price))
		m.reply <- out
	case scrollMsg:
		added, err := i.scroll(m.dir)
		m.reply <- scrollResult{added: added, err: err}
	case instrumentMsg:
		i.onInstrument(m)
	case seedMsg:
		i.onSeed(m)
	default:
		i.logger.Warn("unknown message", slog.String("type", fmt.Sprintf("%T", msg)))
	}
}

// withDefaults fills the fields a client may leave empty.
func (i *Instance) withDefaults(s domain.WidgetSettings) domain.WidgetSettings {
	s.GUID = i.guid
	if s.Depth <= 0 {
		s.Depth = i.deps.DefaultDepth
	}
	if s.VisibleRows <= 0 {
		s.VisibleRows = i.deps.DefaultVisibleRows
	}
	if s.Portfolio == "" {
		s.Portfolio = i.deps.DefaultPortfolio
	}
	return s
}

// applySettings diffs the new settings against the current ones and
// re-keys only the streams whose key changed.
func (i *Instance) applySettings(next domain.WidgetSettings) {
	next = i.withDefaults(next)
	prev := i.settings
	if next.Equal(prev) {
		return
	}
	i.settings = next
	i.settingsRef.Store(&next)

	key := next.InstrumentKey()
	instrumentChanged := !prev.InstrumentKey().Equal(key)

	if instrumentChanged {
		i.epoch++
		i.store.Reset()
		i.instrument = nil
		i.book = domain.OrderBookSnapshot{}
		i.rows = nil
		i.lastPrice = 0

		closeSub(&i.quoteSub)
		i.quoteSub = i.deps.Quotes.Subscribe(key)
		go i.loadInstrument(i.epoch, key)

		i.logger.Info("instrument changed",
			slog.String("from", prev.InstrumentKey().String()),
			slog.String("to", key.String()),
			slog.Uint64("epoch", i.epoch),
		)
	}
	if instrumentChanged || prev.Depth != next.Depth {
		closeSub(&i.bookSub)
		i.bookSub = i.deps.Books.Subscribe(feed.BookKey{Instrument: key, Depth: next.Depth})
	}
	if prev.Portfolio != next.Portfolio || prev.Exchange != next.Exchange {
		closeSub(&i.ordersSub)
		closeSub(&i.positionSub)
		i.orders, i.positions = nil, nil
		if next.Portfolio != "" {
			pk := feed.PortfolioKey{Portfolio: next.Portfolio, Exchange: next.Exchange}
			i.ordersSub = i.deps.Orders.Subscribe(pk)
			i.positionSub = i.deps.Positions.Subscribe(pk)
		}
	}
	if prev.VisibleRows != next.VisibleRows {
		i.store.SetVisibleRows(next.VisibleRows)
	}
	if instrumentChanged || !slices.Equal(prev.WorkingVolumes, next.WorkingVolumes) {
		i.router.SyncWorkingVolumes(next.WorkingVolumes, i.terminal.HotKeys)
	}

	i.render()
}

func (i *Instance) loadInstrument(epoch uint64, key domain.InstrumentKey) {
	ctx, cancel := context.WithTimeout(i.ctx, lookupTimeout)
	defer cancel()
	inst, err := i.deps.Instruments.GetInstrument(ctx, key)
	_ = i.send(i.ctx, instrumentMsg{epoch: epoch, inst: inst, err: err})
}

func (i *Instance) loadSeed(epoch uint64, key domain.InstrumentKey) {
	ctx, cancel := context.WithTimeout(i.ctx, lookupTimeout)
	defer cancel()
	lp, err := i.deps.Instruments.GetLastPrice(ctx, key)
	_ = i.send(i.ctx, seedMsg{epoch: epoch, price: lp, err: err})
}

func (i *Instance) onInstrument(m instrumentMsg) {
	if m.epoch != i.epoch {
		return
	}
	if m.err != nil {
		i.logger.Warn("instrument lookup failed",
			slog.String("instrument", i.settings.InstrumentKey().String()),
			slog.String("error", m.err.Error()),
		)
		return
	}
	inst := m.inst
	i.instrument = &inst
	if !inst.HasPriceStep() {
		i.logger.Info("instrument has no price step, rendering raw book",
			slog.String("instrument", inst.InstrumentKey.String()))
	}
	i.ensureWindow()
	i.render()
}

func (i *Instance) onSeed(m seedMsg) {
	if m.epoch != i.epoch {
		return
	}
	if m.err != nil {
		i.logger.Warn("seed price lookup failed", slog.String("error", m.err.Error()))
		return
	}
	if m.price.Price > 0 && i.lastPrice == 0 {
		i.lastPrice = m.price.Price
	}
	i.ensureWindow()
	i.render()
}

func (i *Instance) onBook(snap domain.OrderBookSnapshot) {
	key := i.settings.InstrumentKey()
	if !snap.Key.Equal(key) {
		i.logger.Debug("dropping tick for another instrument", slog.String("instrument", snap.Key.String()))
		return
	}
	if w := i.store.State(); !w.Key.IsZero() && !w.Key.Equal(key) {
		i.store.Reset()
	}
	i.book = snap
	i.ensureWindow()
	i.render()
}

func (i *Instance) onQuote(lp domain.LastPrice) {
	if !lp.Key.Equal(i.settings.InstrumentKey()) || lp.Price <= 0 {
		return
	}
	i.lastPrice = lp.Price
	if i.store.State().IsEmpty() {
		i.ensureWindow()
		i.render()
	}
}

// ensureWindow builds the first window once the instrument is known, seeded
// by the book, else the last price. Without either it waits and asks for
// the last price.
func (i *Instance) ensureWindow() {
	if i.instrument == nil || !i.instrument.HasPriceStep() {
		return
	}
	w := i.store.State()
	if !w.IsEmpty() {
		return
	}

	key := i.settings.InstrumentKey()
	var (
		seed   *domain.PriceRange
		reason string
	)
	if bounds, ok := i.book.Bounds(); ok {
		seed, reason = &bounds, "init_book"
	} else if i.lastPrice > 0 {
		seed, reason = &domain.PriceRange{Min: i.lastPrice, Max: i.lastPrice}, "init_last_price"
	}

	if seed == nil {
		if w.AwaitingPrice {
			return
		}
		if err := i.store.InitWithPriceRange(key, nil, i.instrument.MinStep, i.settings.VisibleRows); err != nil {
			i.logger.Warn("ladder init failed", slog.String("error", err.Error()))
			return
		}
		go i.loadSeed(i.epoch, key)
		return
	}

	if err := i.store.InitWithPriceRange(key, seed, i.instrument.MinStep, i.settings.VisibleRows); err != nil {
		i.logger.Warn("ladder init failed", slog.String("error", err.Error()))
		return
	}
	metrics.RegenerationsTotal.WithLabelValues(reason).Inc()
}

// RequestRegeneration rebuilds the window around bounds. It runs on the
// instance goroutine from inside a merge pass; the pass is repeated once
// against the new window.
func (i *Instance) RequestRegeneration(bounds domain.PriceRange) {
	if !i.store.BeginRegeneration() {
		return
	}
	if err := i.store.RegenerateForPrice(bounds.Min, bounds.Max); err != nil {
		i.logger.Warn("ladder regeneration failed", slog.String("error", err.Error()))
		return
	}
	metrics.RegenerationsTotal.WithLabelValues("stale_window").Inc()
	i.regenerated = true
}

// center rebuilds the window around the book midpoint, falling back to the
// last price and then to whichever book side exists.
func (i *Instance) center() {
	if i.instrument == nil || !i.instrument.HasPriceStep() {
		return
	}
	step := i.instrument.MinStep

	bid, hasBid := i.book.BestBid()
	ask, hasAsk := i.book.BestAsk()
	var mid float64
	switch {
	case hasBid && hasAsk:
		mid = (bid.Price + ask.Price) / 2
	case i.lastPrice > 0:
		mid = i.lastPrice
	case hasBid:
		mid = bid.Price
	case hasAsk:
		mid = ask.Price
	default:
		i.logger.Debug("cannot center ladder", slog.String("error", domain.ErrNoSeedPrice.Error()))
		return
	}
	mid = ladder.Quantize(mid, step)

	if !i.store.BeginRegeneration() {
		return
	}
	seed := domain.PriceRange{Min: mid, Max: mid}
	if err := i.store.InitWithPriceRange(i.settings.InstrumentKey(), &seed, step, i.settings.VisibleRows); err != nil {
		i.logger.Warn("ladder center failed", slog.String("error", err.Error()))
		return
	}
	metrics.RegenerationsTotal.WithLabelValues("center").Inc()
	i.result = ladder.Result{}

	for _, r := range i.store.State().Rows {
		if r.Price == mid {
			idx := r.Index
			i.centerIndex = &idx
			break
		}
	}
}

func (i *Instance) scroll(dir ScrollDirection) (int, error) {
	var (
		added int
		err   error
	)
	switch dir {
	case ScrollTop:
		added, err = i.store.ExtendTop()
	case ScrollBottom:
		added, err = i.store.ExtendBottom()
	default:
		return 0, fmt.Errorf("session: scroll %q: %w", dir, domain.ErrInvalidInput)
	}
	if err != nil {
		return 0, err
	}
	metrics.RegenerationsTotal.WithLabelValues("extend_" + string(dir)).Inc()
	i.render()
	return added, nil
}

// render merges, overlays and highlights the current state and publishes
// the resulting view.
func (i *Instance) render() {
	start := time.Now()
	key := i.settings.InstrumentKey()

	view := domain.LadderView{
		GUID:           i.guid,
		Key:            key,
		Active:         i.active,
		WorkingVolumes: i.router.WorkingVolumes(),
		Position:       i.position(),
		UpdatedAt:      start,
	}
	if v, ok := i.router.ActiveWorkingVolume(); ok {
		view.ActiveWorkingVolume = &v
	}

	if i.instrument == nil {
		view.Loading = true
		i.publish(view)
		return
	}

	var step float64
	if i.instrument.HasPriceStep() {
		step = i.instrument.MinStep
		window := i.store.State()
		res := i.merger.Merge(i.result, window, i.book, i.settings)
		if res.Outcome == ladder.OutcomeStaleWindow && i.regenerated {
			i.regenerated = false
			window = i.store.State()
			res = i.merger.Merge(i.result, window, i.book, i.settings)
		}
		i.regenerated = false
		i.result = res
		view.Loading = window.IsEmpty()
	} else {
		i.result = ladder.RawRows(i.book)
		view.Raw = true
	}
	metrics.MergesTotal.WithLabelValues(string(i.result.Outcome)).Inc()

	i.rows = ladder.Overlay(i.result.Rows, i.instrumentOrders(), view.Position, i.book, step)
	view.Rows = ladder.Render(i.rows, i.result.MaxVolume, i.settings)
	view.MaxVolume = i.result.MaxVolume
	view.CenterIndex, i.centerIndex = i.centerIndex, nil

	metrics.MergeDuration.Observe(time.Since(start).Seconds())
	i.publish(view)
}

func (i *Instance) publish(view domain.LadderView) {
	i.view.Store(&view)
	if i.deps.Sink != nil {
		i.deps.Sink.Publish(view)
	}
}

func (i *Instance) routerContext() ladder.RouterContext {
	rc := ladder.RouterContext{
		Settings: i.settings,
		Book:     i.book,
		Orders:   i.orders,
		Active:   i.active,
	}
	if i.instrument != nil {
		rc.Instrument = *i.instrument
	}
	return rc
}

// rowAt returns the rendered row at price, or a bare row that no mouse
// mapping acts on.
func (i *Instance) rowAt(price float64) domain.BodyRow {
	var step float64
	if i.instrument != nil {
		step = i.instrument.MinStep
	}
	if row, ok := ladder.RowAt(i.rows, price, step); ok {
		return row
	}
	return domain.BodyRow{PriceRow: domain.PriceRow{Price: price}}
}

func (i *Instance) position() *domain.Position {
	return domain.FindPosition(i.positions, i.settings.InstrumentKey())
}

func (i *Instance) instrumentOrders() []domain.Order {
	key := i.settings.InstrumentKey()
	out := make([]domain.Order, 0, len(i.orders))
	for _, o := range i.orders {
		if o.Key.Equal(key) {
			out = append(out, o)
		}
	}
	return out
}

func (i *Instance) teardown() {
	closeSub(&i.bookSub)
	closeSub(&i.ordersSub)
	closeSub(&i.positionSub)
	closeSub(&i.quoteSub)
	if i.unwatch != nil {
		i.unwatch()
	}
}

func closeSub[T any](sub **Subscription[T]) {
	if *sub != nil {
		(*sub).Close()
		*sub = nil
	}
}

// isClosed reports whether err means the instance is gone.
func isClosed(err error) bool {
	return errors.Is(err, domain.ErrInstanceClosed)
}
