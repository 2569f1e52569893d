package ladder

import (
	"log/slog"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// MergeOutcome tells the caller what a merge pass did.
type MergeOutcome string

const (
	OutcomeMerged      MergeOutcome = "merged"
	OutcomeRaw         MergeOutcome = "raw"
	OutcomeNoWindow    MergeOutcome = "no_window"
	OutcomeEmptyBook   MergeOutcome = "empty_book"
	OutcomeInvalidBook MergeOutcome = "invalid_book"
	OutcomeStaleWindow MergeOutcome = "stale_window"
)

// Result is the output of one merge pass. MaxVolume is the largest matched
// volume and drives proportional volume highlighting.
type Result struct {
	Rows      []domain.BodyRow
	MaxVolume float64
	Outcome   MergeOutcome
}

// Regenerator accepts requests to rebuild the window around new bounds.
type Regenerator interface {
	RequestRegeneration(bounds domain.PriceRange)
}

// Merger maps live book levels onto ladder rows.
type Merger struct {
	regen  Regenerator
	logger *slog.Logger
}

// NewMerger creates a Merger that sends stale-window regeneration requests
// to regen.
func NewMerger(regen Regenerator, logger *slog.Logger) *Merger {
	return &Merger{
		regen:  regen,
		logger: logger.With(slog.String("component", "ladder_merger")),
	}
}

// Merge folds snap into window. Whenever the pass cannot produce trusted
// rows (no window, a missing book side, an unsorted book, or a window that
// no longer covers the book) the previous rows are returned unchanged with
// the corresponding outcome.
func (m *Merger) Merge(prev Result, window domain.LadderWindow, snap domain.OrderBookSnapshot, settings domain.WidgetSettings) Result {
	keep := func(outcome MergeOutcome) Result {
		return Result{Rows: prev.Rows, MaxVolume: prev.MaxVolume, Outcome: outcome}
	}

	if window.IsEmpty() {
		return keep(OutcomeNoWindow)
	}
	if !snap.HasBothSides() {
		return keep(OutcomeEmptyBook)
	}
	if err := snap.Validate(); err != nil {
		m.logger.Warn("dropping order book update",
			slog.String("instrument", snap.Key.String()),
			slog.String("error", err.Error()),
		)
		return keep(OutcomeInvalidBook)
	}

	asks, _ := snap.AsksRange()
	bids, _ := snap.BidsRange()
	step := window.MinStep

	if ticks(bids.Min, step) < ticks(window.MinPrice(), step) || ticks(asks.Max, step) > ticks(window.MaxPrice(), step) {
		if m.regen != nil {
			m.regen.RequestRegeneration(domain.PriceRange{Min: bids.Min, Max: asks.Max})
		}
		return keep(OutcomeStaleWindow)
	}

	askIdx := levelIndex(snap.Asks, step)
	bidIdx := levelIndex(snap.Bids, step)

	askMin, askMax := ticks(asks.Min, step), ticks(asks.Max, step)
	bidMin, bidMax := ticks(bids.Min, step), ticks(bids.Max, step)

	out := Result{Rows: make([]domain.BodyRow, 0, len(window.Rows)), Outcome: OutcomeMerged}
	for _, pr := range window.Rows {
		t := ticks(pr.Price, step)
		row := domain.BodyRow{PriceRow: pr}

		switch {
		case t >= askMin:
			row.RowType = domain.RowTypeAsk
			if t <= askMax && !matchLevel(&row, snap.Asks, askIdx, t, &out.MaxVolume) {
				if !settings.ShowZeroVolumeItems {
					continue
				}
				row.IsFiller = true
			}
		case t <= bidMax:
			row.RowType = domain.RowTypeBid
			if t >= bidMin && !matchLevel(&row, snap.Bids, bidIdx, t, &out.MaxVolume) {
				if !settings.ShowZeroVolumeItems {
					continue
				}
				row.IsFiller = true
			}
		case settings.ShowSpreadItems:
			row.RowType = domain.RowTypeSpread
		default:
			continue
		}

		out.Rows = append(out.Rows, row)
	}

	return out
}

// RawRows renders the book without a price ladder: asks from highest to
// lowest followed by bids from highest to lowest. It serves instruments
// that have no price step.
func RawRows(snap domain.OrderBookSnapshot) Result {
	out := Result{
		Rows:    make([]domain.BodyRow, 0, len(snap.Asks)+len(snap.Bids)),
		Outcome: OutcomeRaw,
	}

	idx := 0
	for i := len(snap.Asks) - 1; i >= 0; i-- {
		out.Rows = append(out.Rows, rawRow(snap.Asks[i], domain.RowTypeAsk, i == 0, idx, &out.MaxVolume))
		idx++
	}
	for i, lvl := range snap.Bids {
		out.Rows = append(out.Rows, rawRow(lvl, domain.RowTypeBid, i == 0, idx, &out.MaxVolume))
		idx++
	}
	return out
}

func rawRow(lvl domain.BookLevel, rt domain.RowType, best bool, idx int, maxVolume *float64) domain.BodyRow {
	v := lvl.Volume
	if v > *maxVolume {
		*maxVolume = v
	}
	return domain.BodyRow{
		PriceRow: domain.PriceRow{Price: lvl.Price, Index: idx},
		Volume:   &v,
		RowType:  rt,
		IsBest:   best,
	}
}

// levelIndex maps each level's tick to its position on its side.
func levelIndex(levels []domain.BookLevel, step float64) map[int64]int {
	idx := make(map[int64]int, len(levels))
	for i, lvl := range levels {
		t := ticks(lvl.Price, step)
		if _, ok := idx[t]; !ok {
			idx[t] = i
		}
	}
	return idx
}

// matchLevel copies the volume of the level at tick t into row. The first
// level of a side is the best one.
func matchLevel(row *domain.BodyRow, levels []domain.BookLevel, idx map[int64]int, t int64, maxVolume *float64) bool {
	i, ok := idx[t]
	if !ok {
		return false
	}
	v := levels[i].Volume
	row.Volume = &v
	row.IsBest = i == 0
	if v > *maxVolume {
		*maxVolume = v
	}
	return true
}
