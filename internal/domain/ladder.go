package domain

// PriceRow is one price step of the ladder. Index 0 is the highest price at
// the time the window was built; rows added above it get negative indices so
// an existing row keeps its index for the lifetime of the window.
type PriceRow struct {
	Price float64 `json:"price"`
	Index int     `json:"index"`
}

// LadderWindow is the contiguous, price-stepped set of rows for one
// instrument. Rows are strictly descending by price with a constant step.
type LadderWindow struct {
	Key                InstrumentKey `json:"instrumentKey"`
	Rows               []PriceRow    `json:"rows"`
	DirectionRowsCount int           `json:"directionRowsCount"`
	MinStep            float64       `json:"minstep"`
	VisibleRows        int           `json:"visibleRows"`
	AwaitingPrice      bool          `json:"awaitingPrice"`
}

// IsEmpty reports whether the window has no rows.
func (w LadderWindow) IsEmpty() bool {
	return len(w.Rows) == 0
}

// MaxPrice returns the price of the top row.
func (w LadderWindow) MaxPrice() float64 {
	if len(w.Rows) == 0 {
		return 0
	}
	return w.Rows[0].Price
}

// MinPrice returns the price of the bottom row.
func (w LadderWindow) MinPrice() float64 {
	if len(w.Rows) == 0 {
		return 0
	}
	return w.Rows[len(w.Rows)-1].Price
}

// RowType classifies a rendered ladder row.
type RowType string

const (
	RowTypeAsk    RowType = "ask"
	RowTypeBid    RowType = "bid"
	RowTypeSpread RowType = "spread"
)

// IsOrderable reports whether clicks on a row of this type may produce
// orders.
func (t RowType) IsOrderable() bool {
	return t == RowTypeAsk || t == RowTypeBid
}

// BodyRow is a ladder row after the live book, working orders and the
// position were folded in. It is a value; every merge pass produces new rows.
type BodyRow struct {
	PriceRow
	Volume                   *float64       `json:"volume,omitempty"`
	RowType                  RowType        `json:"rowType,omitempty"`
	IsBest                   bool           `json:"isBest,omitempty"`
	IsFiller                 bool           `json:"isFiller,omitempty"`
	CurrentOrders            []CurrentOrder `json:"currentOrders,omitempty"`
	CurrentPositionRangeSign *int           `json:"currentPositionRangeSign"`
}
