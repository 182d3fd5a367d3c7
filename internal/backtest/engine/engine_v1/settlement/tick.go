package settlement

import "github.com/shopspring/decimal"

// TickSize returns the minimum price increment for the band the price falls
// in. The step table is monotonic in price.
func TickSize(price float64) float64 {
	switch {
	case price < 10:
		return 0.01
	case price < 50:
		return 0.05
	case price < 100:
		return 0.1
	case price < 500:
		return 0.5
	case price < 1000:
		return 1.0
	default:
		return 5.0
	}
}

// RoundToTick rounds a price to the nearest multiple of its tick size.
// Idempotent: a price that crosses a band boundary lands exactly on the
// boundary, which is a valid tick of the next band.
func RoundToTick(price float64) float64 {
	tick := decimal.NewFromFloat(TickSize(price))
	rounded, _ := decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).Float64()

	return rounded
}

// LimitPrice applies a percentage move to a base price and rounds the result
// to a valid tick. pct is in percent, e.g. 10 for the up-limit and -10 for
// the down-limit.
func LimitPrice(base, pct float64) float64 {
	moved, _ := decimal.NewFromFloat(base).
		Mul(decimal.NewFromFloat(1 + pct/100)).
		Float64()

	return RoundToTick(moved)
}
