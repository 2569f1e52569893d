// Package ladder implements the scalper price ladder: the price-stepped row
// window, the merge of live book depth onto it, the working order and
// position overlay, and the routing of hotkey and mouse commands into order
// actions.
package ladder

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/scalperladder/internal/domain"
)

// stepPrecision returns the number of decimal places carried by step.
func stepPrecision(step float64) int32 {
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// Quantize snaps price to the nearest multiple of step and rounds the
// result to the step's decimal precision. A non-positive step returns price
// unchanged.
func Quantize(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	f, _ := quantizeDecimal(decimal.NewFromFloat(price), decimal.NewFromFloat(step), stepPrecision(step)).Float64()
	return f
}

func quantizeDecimal(price, step decimal.Decimal, precision int32) decimal.Decimal {
	return price.Div(step).Round(0).Mul(step).Round(precision)
}

// ticks converts a price into an integer number of steps. Prices that are
// equal after quantization map to the same tick.
func ticks(price, step float64) int64 {
	if step <= 0 {
		return int64(math.Float64bits(price))
	}
	return int64(math.Round(price / step))
}

// sign returns -1, 0 or 1.
func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// RowAt returns the row sitting at price. Prices are compared in steps, so a
// client-side rounding error does not miss the row.
func RowAt(rows []domain.BodyRow, price, step float64) (domain.BodyRow, bool) {
	t := ticks(price, step)
	for _, r := range rows {
		if ticks(r.Price, step) == t {
			return r, true
		}
	}
	return domain.BodyRow{}, false
}
