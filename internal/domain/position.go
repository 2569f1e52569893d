package domain

// Position is the trader's net position in one instrument and portfolio.
// Qty is signed: positive for long, negative for short.
type Position struct {
	Key       InstrumentKey `json:"instrumentKey"`
	Portfolio string        `json:"portfolio"`
	Qty       float64       `json:"qty"`
	AvgPrice  float64       `json:"avgPrice"`
}

// IsFlat reports whether there is nothing to overlay or close.
func (p *Position) IsFlat() bool {
	return p == nil || p.Qty == 0
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool {
	return p != nil && p.Qty > 0
}

// AbsQty returns the unsigned position size.
func (p *Position) AbsQty() float64 {
	if p == nil {
		return 0
	}
	if p.Qty < 0 {
		return -p.Qty
	}
	return p.Qty
}

// FindPosition returns the position for key in positions, or nil.
func FindPosition(positions []Position, key InstrumentKey) *Position {
	for i := range positions {
		if positions[i].Key.Equal(key) {
			p := positions[i]
			return &p
		}
	}
	return nil
}
