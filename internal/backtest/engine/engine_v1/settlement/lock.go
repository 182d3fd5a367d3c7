package settlement

import "github.com/rxtech-lab/stocksim/internal/types"

// LockState describes how far a bar is pinned at a price-band extreme.
type LockState string

const (
	// LockNone: the bar traded freely.
	LockNone LockState = "none"
	// LockFull: every price of the bar sat at or beyond the adverse limit;
	// no exit could have filled. The engine suppresses exits on such bars.
	LockFull LockState = "full"
	// LockPartial: the bar opened at or beyond the adverse limit but traded
	// away from it intraday; exits could still fill.
	LockPartial LockState = "partial"
)

// LimitLockState classifies a bar against the daily price band derived from
// the previous close. For a long position the adverse extreme is the
// down-limit; for a short position it is the up-limit. upPct and downPct are
// percentages, e.g. 10 and 10 for a +/-10% band.
func LimitLockState(open, high, low, close, prevClose, upPct, downPct float64, direction types.Direction) LockState {
	if prevClose <= 0 {
		return LockNone
	}

	if direction == types.DirectionShort {
		upLimit := LimitPrice(prevClose, upPct)

		if min4(open, high, low, close) >= upLimit {
			return LockFull
		}

		if open >= upLimit && low < upLimit {
			return LockPartial
		}

		return LockNone
	}

	downLimit := LimitPrice(prevClose, -downPct)

	if max4(open, high, low, close) <= downLimit {
		return LockFull
	}

	if open <= downLimit && high > downLimit {
		return LockPartial
	}

	return LockNone
}

func max4(a, b, c, d float64) float64 {
	return max(max(a, b), max(c, d))
}

func min4(a, b, c, d float64) float64 {
	return min(min(a, b), min(c, d))
}
