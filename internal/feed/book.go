package feed

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/platform/terminal"
)

// askLevel orders asks by ascending price.
type askLevel domain.BookLevel

func (a askLevel) Less(than btree.Item) bool {
	return a.Price < than.(askLevel).Price
}

// bidLevel orders bids by descending price.
type bidLevel domain.BookLevel

func (b bidLevel) Less(than btree.Item) bool {
	return b.Price > than.(bidLevel).Price
}

// Book assembles the order book of one instrument from feed messages. A
// full message replaces both sides; an update of existing levels changes
// them one by one and a zero volume removes the level.
type Book struct {
	key   domain.InstrumentKey
	depth int

	mu      sync.Mutex
	asks    *btree.BTree
	bids    *btree.BTree
	updated time.Time
}

// NewBook creates an empty book limited to depth levels per side.
func NewBook(key domain.InstrumentKey, depth int) *Book {
	if depth <= 0 {
		depth = terminal.DefaultBookDepth
	}
	return &Book{
		key:   key,
		depth: depth,
		asks:  btree.New(32),
		bids:  btree.New(32),
	}
}

// Apply folds one message into the book.
func (b *Book) Apply(d terminal.BookData) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !d.Existing {
		b.asks.Clear(false)
		b.bids.Clear(false)
	}
	for _, lvl := range d.Asks {
		if lvl.Volume <= 0 {
			b.asks.Delete(askLevel(lvl))
			continue
		}
		b.asks.ReplaceOrInsert(askLevel(lvl))
	}
	for _, lvl := range d.Bids {
		if lvl.Volume <= 0 {
			b.bids.Delete(bidLevel(lvl))
			continue
		}
		b.bids.ReplaceOrInsert(bidLevel(lvl))
	}
	b.updated = d.Time()
}

// Snapshot returns the depth-limited book, asks ascending and bids
// descending.
func (b *Book) Snapshot() domain.OrderBookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := domain.OrderBookSnapshot{
		Key:       b.key,
		Asks:      make([]domain.BookLevel, 0, min(b.depth, b.asks.Len())),
		Bids:      make([]domain.BookLevel, 0, min(b.depth, b.bids.Len())),
		Timestamp: b.updated,
	}
	b.asks.Ascend(func(item btree.Item) bool {
		snap.Asks = append(snap.Asks, domain.BookLevel(item.(askLevel)))
		return len(snap.Asks) < b.depth
	})
	b.bids.Ascend(func(item btree.Item) bool {
		snap.Bids = append(snap.Bids, domain.BookLevel(item.(bidLevel)))
		return len(snap.Bids) < b.depth
	})
	return snap
}
