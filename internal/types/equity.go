package types

import (
	"math"
	"sort"
	"time"
)

// TradingDaysPerYear is used to annualize the Sharpe ratio.
const TradingDaysPerYear = 252

// DefaultAnnualRiskFreeRate is the annual risk-free rate assumed when the
// caller does not supply one.
const DefaultAnnualRiskFreeRate = 0.02

// EquityPoint is one (date, capital) sample of a run's equity curve.
type EquityPoint struct {
	Date  time.Time `yaml:"date" csv:"date"`
	Value float64   `yaml:"value" csv:"value"`
}

// EquityCurve is an append-only series of equity samples, one per processed
// bar, ascending by date.
type EquityCurve []EquityPoint

// MaxDrawdown returns the largest peak-to-trough decline of the curve, as an
// absolute amount and as a fraction of the peak. A monotonically increasing
// curve has zero drawdown.
func (c EquityCurve) MaxDrawdown() (float64, float64) {
	if len(c) == 0 {
		return 0, 0
	}

	peak := c[0].Value
	maxDrawdown := 0.0
	maxDrawdownRate := 0.0

	for _, point := range c[1:] {
		if point.Value > peak {
			peak = point.Value

			continue
		}

		drawdown := peak - point.Value
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
			if peak > 0 {
				maxDrawdownRate = drawdown / peak
			}
		}
	}

	return maxDrawdown, maxDrawdownRate
}

// Returns computes the per-bar simple returns of the curve.
func (c EquityCurve) Returns() []float64 {
	if len(c) < 2 {
		return nil
	}

	out := make([]float64, 0, len(c)-1)
	for i := 1; i < len(c); i++ {
		prev := c[i-1].Value
		if prev == 0 {
			out = append(out, 0)

			continue
		}

		out = append(out, (c[i].Value-prev)/prev)
	}

	return out
}

// SharpeRatio computes the annualized Sharpe ratio of a daily return series
// against an annual risk-free rate. Returns 0 when there are fewer than two
// samples or the returns have no variance.
func SharpeRatio(returns []float64, annualRiskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	dailyRiskFree := annualRiskFree / TradingDaysPerYear

	mean := 0.0
	for _, r := range returns {
		mean += r - dailyRiskFree
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := (r - dailyRiskFree) - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// CombinePortfolioCurve merges per-instrument equity curves into one
// portfolio curve. For every date in the union of the inputs, portfolio
// equity = initial + sum over instruments of (instrument equity at that date
// - initial), carrying each instrument's last known value forward. An
// instrument contributes zero before its first sample.
func CombinePortfolioCurve(initial float64, curves []EquityCurve) EquityCurve {
	nonEmpty := make([]EquityCurve, 0, len(curves))
	for _, curve := range curves {
		if len(curve) > 0 {
			nonEmpty = append(nonEmpty, curve)
		}
	}

	if len(nonEmpty) == 0 {
		return nil
	}

	dateSet := make(map[time.Time]struct{})
	for _, curve := range nonEmpty {
		for _, point := range curve {
			dateSet[point.Date] = struct{}{}
		}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for date := range dateSet {
		dates = append(dates, date)
	}

	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})

	cursors := make([]int, len(nonEmpty))
	lastValues := make([]float64, len(nonEmpty))
	for i := range lastValues {
		lastValues[i] = initial
	}

	combined := make(EquityCurve, 0, len(dates))

	for _, date := range dates {
		total := initial
		for i, curve := range nonEmpty {
			for cursors[i] < len(curve) && !curve[cursors[i]].Date.After(date) {
				lastValues[i] = curve[cursors[i]].Value
				cursors[i]++
			}

			total += lastValues[i] - initial
		}

		combined = append(combined, EquityPoint{Date: date, Value: total})
	}

	return combined
}
