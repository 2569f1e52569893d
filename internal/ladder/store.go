package ladder

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

const (
	// DefaultBufferRows is the number of rows kept above and below the
	// visible area, and the number of rows added per extension.
	DefaultBufferRows = 50

	// maxWindowRows bounds a single window so a bad tick far away from the
	// market cannot allocate an unbounded ladder.
	maxWindowRows = 200_000
)

// Store owns the LadderWindow of one widget instance. Every mutation
// replaces the window with a new value and notifies subscribers; rows
// handed out earlier are never modified.
type Store struct {
	bufferRows int
	logger     *slog.Logger

	mu      sync.RWMutex
	state   domain.LadderWindow
	pending bool

	subMu     sync.Mutex
	subs      map[int]func(domain.LadderWindow)
	nextSubID int
}

// NewStore creates an empty Store. bufferRows <= 0 selects
// DefaultBufferRows.
func NewStore(bufferRows int, logger *slog.Logger) *Store {
	if bufferRows <= 0 {
		bufferRows = DefaultBufferRows
	}
	return &Store{
		bufferRows: bufferRows,
		logger:     logger.With(slog.String("component", "ladder_store")),
		subs:       make(map[int]func(domain.LadderWindow)),
	}
}

// State returns the current window.
func (s *Store) State() domain.LadderWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Pending reports whether a regeneration is in flight.
func (s *Store) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// BeginRegeneration marks a regeneration as in flight. It returns false when
// one already is; the caller must then not start another. The flag is
// cleared by InitWithPriceRange, RegenerateForPrice and Reset.
func (s *Store) BeginRegeneration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}
	s.pending = true
	return true
}

// Subscribe registers fn to be called with the window after every mutation.
// fn is called immediately with the current window. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(domain.LadderWindow)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subMu.Unlock()

	fn(s.State())

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Reset drops the window, e.g. when the widget switches instrument.
func (s *Store) Reset() {
	s.set(domain.LadderWindow{}, true)
}

// InitWithPriceRange builds a new window for key around seed. With a nil
// seed the window is left empty and marked as awaiting a price. With a
// non-positive minStep no ladder can be generated and ErrNoPriceStep is
// returned; callers fall back to rendering the raw book.
func (s *Store) InitWithPriceRange(key domain.InstrumentKey, seed *domain.PriceRange, minStep float64, visibleRows int) error {
	if minStep <= 0 {
		s.set(domain.LadderWindow{Key: key}, true)
		return domain.ErrNoPriceStep
	}
	if visibleRows < 1 {
		visibleRows = 1
	}

	if seed == nil {
		s.set(domain.LadderWindow{
			Key:           key,
			MinStep:       minStep,
			VisibleRows:   visibleRows,
			AwaitingPrice: true,
		}, true)
		return nil
	}

	rows, err := s.buildRows(*seed, minStep, visibleRows)
	if err != nil {
		s.clearPending()
		return err
	}

	s.set(domain.LadderWindow{
		Key:                key,
		Rows:               rows,
		DirectionRowsCount: s.bufferRows,
		MinStep:            minStep,
		VisibleRows:        visibleRows,
	}, true)

	s.logger.Debug("ladder window built",
		slog.String("instrument", key.String()),
		slog.Float64("top", rows[0].Price),
		slog.Float64("bottom", rows[len(rows)-1].Price),
		slog.Int("rows", len(rows)),
	)
	return nil
}

// RegenerateForPrice discards the window and builds one covering
// [minPrice, maxPrice] plus the buffer, keeping the instrument, step and
// visible row count.
func (s *Store) RegenerateForPrice(minPrice, maxPrice float64) error {
	cur := s.State()
	if cur.MinStep <= 0 {
		s.clearPending()
		return domain.ErrWindowNotReady
	}
	if minPrice > maxPrice {
		minPrice, maxPrice = maxPrice, minPrice
	}
	return s.InitWithPriceRange(cur.Key, &domain.PriceRange{Min: minPrice, Max: maxPrice}, cur.MinStep, cur.VisibleRows)
}

// SetVisibleRows changes the visible row count used by later
// regenerations. It does not rebuild the current window.
func (s *Store) SetVisibleRows(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.state.VisibleRows = n
	s.mu.Unlock()
}

// ExtendTop adds DirectionRowsCount rows above the current top row and
// returns how many rows were added. Existing rows keep their price and
// index; the new rows get indices below the current first index.
func (s *Store) ExtendTop() (int, error) {
	cur := s.State()
	if cur.IsEmpty() {
		return 0, domain.ErrWindowNotReady
	}
	n := cur.DirectionRowsCount
	if len(cur.Rows)+n > maxWindowRows {
		return 0, fmt.Errorf("ladder: extend top: window would exceed %d rows", maxWindowRows)
	}

	step := decimal.NewFromFloat(cur.MinStep)
	prec := stepPrecision(cur.MinStep)
	top := decimal.NewFromFloat(cur.Rows[0].Price)
	firstIndex := cur.Rows[0].Index

	rows := make([]domain.PriceRow, 0, len(cur.Rows)+n)
	for k := n; k >= 1; k-- {
		price, _ := top.Add(step.Mul(decimal.NewFromInt(int64(k)))).Round(prec).Float64()
		rows = append(rows, domain.PriceRow{Price: price, Index: firstIndex - k})
	}
	rows = append(rows, cur.Rows...)

	next := cur
	next.Rows = rows
	s.set(next, false)
	return n, nil
}

// ExtendBottom adds DirectionRowsCount rows below the current bottom row
// and returns how many rows were added.
func (s *Store) ExtendBottom() (int, error) {
	cur := s.State()
	if cur.IsEmpty() {
		return 0, domain.ErrWindowNotReady
	}
	n := cur.DirectionRowsCount
	if len(cur.Rows)+n > maxWindowRows {
		return 0, fmt.Errorf("ladder: extend bottom: window would exceed %d rows", maxWindowRows)
	}

	step := decimal.NewFromFloat(cur.MinStep)
	prec := stepPrecision(cur.MinStep)
	last := cur.Rows[len(cur.Rows)-1]
	bottom := decimal.NewFromFloat(last.Price)

	rows := make([]domain.PriceRow, len(cur.Rows), len(cur.Rows)+n)
	copy(rows, cur.Rows)
	for k := 1; k <= n; k++ {
		price, _ := bottom.Sub(step.Mul(decimal.NewFromInt(int64(k)))).Round(prec).Float64()
		rows = append(rows, domain.PriceRow{Price: price, Index: last.Index + k})
	}

	next := cur
	next.Rows = rows
	s.set(next, false)
	return n, nil
}

// buildRows lays out a descending price sequence around seed. With V
// visible rows and B buffer rows, the top row sits ceil(V/2)+B steps above
// seed.Max and the bottom row floor(V/2)+B-1 steps below seed.Min, so a
// single seed price yields exactly V+2B rows.
func (s *Store) buildRows(seed domain.PriceRange, minStep float64, visibleRows int) ([]domain.PriceRow, error) {
	if seed.Min > seed.Max {
		seed.Min, seed.Max = seed.Max, seed.Min
	}

	step := decimal.NewFromFloat(minStep)
	prec := stepPrecision(minStep)

	above := int64((visibleRows+1)/2 + s.bufferRows)
	below := int64(visibleRows/2 + s.bufferRows - 1)

	top := quantizeDecimal(decimal.NewFromFloat(seed.Max), step, prec).Add(step.Mul(decimal.NewFromInt(above)))
	bottom := quantizeDecimal(decimal.NewFromFloat(seed.Min), step, prec).Sub(step.Mul(decimal.NewFromInt(below)))

	count := top.Sub(bottom).Div(step).Round(0).IntPart() + 1
	if count <= 0 || count > maxWindowRows {
		return nil, fmt.Errorf("ladder: build rows for [%v, %v] step %v: %d rows: %w",
			seed.Min, seed.Max, minStep, count, domain.ErrInvalidInput)
	}

	rows := make([]domain.PriceRow, count)
	for i := range rows {
		price, _ := top.Sub(step.Mul(decimal.NewFromInt(int64(i)))).Round(prec).Float64()
		rows[i] = domain.PriceRow{Price: price, Index: i}
	}
	return rows, nil
}

func (s *Store) clearPending() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

// set replaces the window, optionally clearing the pending flag, and
// notifies subscribers outside the lock.
func (s *Store) set(w domain.LadderWindow, clearPending bool) {
	s.mu.Lock()
	s.state = w
	if clearPending {
		s.pending = false
	}
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(domain.LadderWindow), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(w)
	}
}
