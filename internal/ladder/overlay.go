package ladder

import "github.com/alanyoungcy/scalperladder/internal/domain"

// Overlay annotates merged rows with the working orders resting at each
// price and with the open position's range. It returns new rows; the input
// slice is not modified.
//
// Limit orders are placed by their price and stop orders by their trigger
// price. Orders that are not working are ignored. A position highlights the
// rows between its average price and the reference price (the best bid for a
// long position, the best ask for a short one, each falling back to the
// other side), inclusive at both ends.
func Overlay(rows []domain.BodyRow, orders []domain.Order, pos *domain.Position, snap domain.OrderBookSnapshot, step float64) []domain.BodyRow {
	out := make([]domain.BodyRow, len(rows))
	copy(out, rows)
	if len(out) == 0 {
		return out
	}

	byPrice := make(map[int64][]domain.CurrentOrder)
	for _, o := range orders {
		if o.Status != domain.OrderStatusWorking {
			continue
		}
		t := ticks(o.LadderPrice(), step)
		byPrice[t] = append(byPrice[t], o.ToCurrentOrder())
	}

	var (
		hasRange  bool
		lo, hi    int64
		rangeSign int
	)
	if base, ok := positionBasePrice(pos, snap); ok {
		hasRange = true
		rangeSign = sign(pos.Qty) * sign(base-pos.AvgPrice)
		lo, hi = ticks(base, step), ticks(pos.AvgPrice, step)
		if lo > hi {
			lo, hi = hi, lo
		}
	}

	for i := range out {
		t := ticks(out[i].Price, step)
		if placed := byPrice[t]; len(placed) > 0 {
			out[i].CurrentOrders = append([]domain.CurrentOrder(nil), placed...)
		} else {
			out[i].CurrentOrders = nil
		}

		out[i].CurrentPositionRangeSign = nil
		if hasRange && t >= lo && t <= hi {
			s := rangeSign
			out[i].CurrentPositionRangeSign = &s
		}
	}
	return out
}

// positionBasePrice picks the reference price the position range extends
// to. It reports false when there is no position or no book.
func positionBasePrice(pos *domain.Position, snap domain.OrderBookSnapshot) (float64, bool) {
	if pos.IsFlat() {
		return 0, false
	}

	bid, hasBid := snap.BestBid()
	ask, hasAsk := snap.BestAsk()

	if pos.IsLong() {
		switch {
		case hasBid:
			return bid.Price, true
		case hasAsk:
			return ask.Price, true
		}
		return 0, false
	}

	switch {
	case hasAsk:
		return ask.Price, true
	case hasBid:
		return bid.Price, true
	}
	return 0, false
}
