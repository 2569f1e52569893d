package domain

import "time"

// BookLevel is a single aggregated price level of an order book.
type BookLevel struct {
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	Yield  float64 `json:"y,omitempty"`
}

// OrderBookSnapshot is the depth-limited book for one instrument. Asks are
// ascending by price, bids descending. Either side may be empty.
type OrderBookSnapshot struct {
	Key       InstrumentKey `json:"instrumentKey"`
	Asks      []BookLevel   `json:"a"`
	Bids      []BookLevel   `json:"b"`
	Timestamp time.Time     `json:"t"`
}

// PriceRange is an inclusive price interval.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether p lies inside the range.
func (r PriceRange) Contains(p float64) bool {
	return p >= r.Min && p <= r.Max
}

// IsEmpty reports whether both sides of the book are empty.
func (s OrderBookSnapshot) IsEmpty() bool {
	return len(s.Asks) == 0 && len(s.Bids) == 0
}

// HasBothSides reports whether the book has at least one ask and one bid.
func (s OrderBookSnapshot) HasBothSides() bool {
	return len(s.Asks) > 0 && len(s.Bids) > 0
}

// BestAsk returns the lowest ask level.
func (s OrderBookSnapshot) BestAsk() (BookLevel, bool) {
	if len(s.Asks) == 0 {
		return BookLevel{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest bid level.
func (s OrderBookSnapshot) BestBid() (BookLevel, bool) {
	if len(s.Bids) == 0 {
		return BookLevel{}, false
	}
	return s.Bids[0], true
}

// AsksRange returns {first ask, last ask}.
func (s OrderBookSnapshot) AsksRange() (PriceRange, bool) {
	if len(s.Asks) == 0 {
		return PriceRange{}, false
	}
	return PriceRange{Min: s.Asks[0].Price, Max: s.Asks[len(s.Asks)-1].Price}, true
}

// BidsRange returns {last bid, first bid}.
func (s OrderBookSnapshot) BidsRange() (PriceRange, bool) {
	if len(s.Bids) == 0 {
		return PriceRange{}, false
	}
	return PriceRange{Min: s.Bids[len(s.Bids)-1].Price, Max: s.Bids[0].Price}, true
}

// Bounds returns the full price span covered by the book: the highest ask
// (or the best bid when there are no asks) down to the lowest bid (or the
// best ask when there are no bids).
func (s OrderBookSnapshot) Bounds() (PriceRange, bool) {
	asks, hasAsks := s.AsksRange()
	bids, hasBids := s.BidsRange()
	switch {
	case hasAsks && hasBids:
		return PriceRange{Min: bids.Min, Max: asks.Max}, true
	case hasAsks:
		return asks, true
	case hasBids:
		return bids, true
	default:
		return PriceRange{}, false
	}
}

// Validate checks the feed's sort contract: asks strictly ascending and bids
// strictly descending. It returns ErrUnsortedBook on violation.
func (s OrderBookSnapshot) Validate() error {
	for i := 1; i < len(s.Asks); i++ {
		if s.Asks[i].Price <= s.Asks[i-1].Price {
			return ErrUnsortedBook
		}
	}
	for i := 1; i < len(s.Bids); i++ {
		if s.Bids[i].Price >= s.Bids[i-1].Price {
			return ErrUnsortedBook
		}
	}
	return nil
}

// LastPrice is the most recent trade price for an instrument.
type LastPrice struct {
	Key       InstrumentKey `json:"instrumentKey"`
	Price     float64       `json:"price"`
	Timestamp time.Time     `json:"ts"`
}
