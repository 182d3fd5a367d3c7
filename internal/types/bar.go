package types

import (
	"time"

	"github.com/rxtech-lab/stocksim/pkg/errors"
)

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PriceBar is one OHLCV record for one instrument on one date.
// Extra carries caller-supplied columns through untouched; policies may read
// them but the engine never interprets them.
type PriceBar struct {
	InstrumentID string    `yaml:"instrument_id" csv:"instrument_id"`
	Date         time.Time `yaml:"date" csv:"date"`
	Open         float64   `yaml:"open" csv:"open"`
	High         float64   `yaml:"high" csv:"high"`
	Low          float64   `yaml:"low" csv:"low"`
	Close        float64   `yaml:"close" csv:"close"`
	Volume       float64   `yaml:"volume" csv:"volume"`
	Extra        map[string]float64 `yaml:"extra,omitempty" csv:"-"`
}

// BarTable is one instrument's bar series, ascending by date, unique per date.
type BarTable []PriceBar

// Validate checks the invariants a simulation run relies on. Violations are
// data errors: they invalidate this instrument only, never a whole run.
func (t BarTable) Validate() error {
	if len(t) == 0 {
		return errors.New(errors.ErrCodeEmptyBarTable, "bar table is empty")
	}

	for i, bar := range t {
		if bar.InstrumentID == "" {
			return errors.Newf(errors.ErrCodeMissingColumn, "bar %d has no instrument id", i)
		}

		if bar.Date.IsZero() {
			return errors.Newf(errors.ErrCodeInvalidBarField, "bar %d for %s has no date", i, bar.InstrumentID)
		}

		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			return errors.Newf(errors.ErrCodeInvalidBarField,
				"bar %d for %s has a non-positive price", i, bar.InstrumentID)
		}

		if bar.High < bar.Low {
			return errors.Newf(errors.ErrCodeInvalidBarField,
				"bar %d for %s has high below low", i, bar.InstrumentID)
		}

		if i == 0 {
			continue
		}

		prev := t[i-1]
		if bar.Date.Equal(prev.Date) {
			return errors.Newf(errors.ErrCodeDuplicateBar,
				"duplicate bar for %s on %s", bar.InstrumentID, bar.Date.Format("2006-01-02"))
		}

		if bar.Date.Before(prev.Date) {
			return errors.Newf(errors.ErrCodeUnorderedBars,
				"bars for %s are not ascending at index %d", bar.InstrumentID, i)
		}
	}

	return nil
}

// Closes returns the close column. Handy for vectorized signal functions.
func (t BarTable) Closes() []float64 {
	out := make([]float64, len(t))
	for i, bar := range t {
		out[i] = bar.Close
	}

	return out
}

// Opens returns the open column.
func (t BarTable) Opens() []float64 {
	out := make([]float64, len(t))
	for i, bar := range t {
		out[i] = bar.Open
	}

	return out
}
