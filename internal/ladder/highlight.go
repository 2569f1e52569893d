package ladder

import (
	"sort"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// Highlight returns the volume bar for a row, or nil when the row gets none.
//
// biggestVolume sizes the bar relative to the largest matched volume.
// volumeBoundsWithFixedValue picks the option with the highest boundary the
// volume reaches and sizes the bar against the configured fullness.
func Highlight(row domain.BodyRow, maxVolume float64, settings domain.WidgetSettings) *domain.VolumeHighlight {
	if row.Volume == nil || *row.Volume <= 0 {
		return nil
	}
	v := *row.Volume

	switch settings.VolumeHighlightMode {
	case domain.VolumeHighlightBiggestVolume:
		if maxVolume <= 0 {
			return nil
		}
		return &domain.VolumeHighlight{Size: clampPercent(100 * v / maxVolume)}

	case domain.VolumeHighlightFixed:
		if settings.VolumeHighlightFullness <= 0 {
			return nil
		}
		opt, ok := highlightOption(v, settings.VolumeHighlightOptions)
		if !ok {
			return nil
		}
		return &domain.VolumeHighlight{
			Size:  clampPercent(100 * v / settings.VolumeHighlightFullness),
			Color: opt.Color,
		}
	}
	return nil
}

// Render attaches highlights to rows.
func Render(rows []domain.BodyRow, maxVolume float64, settings domain.WidgetSettings) []domain.RenderedRow {
	out := make([]domain.RenderedRow, len(rows))
	for i, r := range rows {
		out[i] = domain.RenderedRow{BodyRow: r, Highlight: Highlight(r, maxVolume, settings)}
	}
	return out
}

func highlightOption(v float64, options []domain.VolumeHighlightOption) (domain.VolumeHighlightOption, bool) {
	sorted := make([]domain.VolumeHighlightOption, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Boundary > sorted[j].Boundary })

	for _, o := range sorted {
		if v >= o.Boundary {
			return o, true
		}
	}
	return domain.VolumeHighlightOption{}, false
}

func clampPercent(p float64) float64 {
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
