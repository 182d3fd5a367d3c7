package policy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/internal/version"
)

// BreakoutPolicy enters when a bar closes above the highest close of the
// preceding window and exits when it closes below the lowest close of the
// preceding window. Both predicates are single-column passes over the table,
// so the policy also supplies vectorized signal tagging.
type BreakoutPolicy struct {
	window float64
}

// NewBreakoutPolicy creates the policy with the given default lookback window.
func NewBreakoutPolicy(window int) *BreakoutPolicy {
	return &BreakoutPolicy{window: float64(window)}
}

// Name returns the name of the policy.
func (p *BreakoutPolicy) Name() string {
	return fmt.Sprintf("breakout_%d", int(p.window))
}

// ID returns the unique identifier of the policy.
func (p *BreakoutPolicy) ID() string {
	return "com.rxtech.stocksim.policy.breakout"
}

// APIVersion returns the policy API version this policy was built against.
func (p *BreakoutPolicy) APIVersion() string {
	return version.GetVersion()
}

// ParameterSpecs declares the parameters the policy reads.
func (p *BreakoutPolicy) ParameterSpecs() []ParameterSpec {
	return []ParameterSpec{
		{
			Name:    "window",
			Kind:    types.ParameterStatic,
			Default: p.window,
			Min:     optional.Some(1.0),
			Max:     optional.Some(500.0),
		},
	}
}

// ShouldEnter triggers when the close breaks above the window's highest close.
func (p *BreakoutPolicy) ShouldEnter(bars types.BarTable, index int, params *types.StrategyParameters) (Signal, error) {
	window := p.windowFrom(params)
	if index < window {
		return NoSignal(), nil
	}

	highest := bars[index-window].Close
	for _, bar := range bars[index-window+1 : index] {
		if bar.Close > highest {
			highest = bar.Close
		}
	}

	if bars[index].Close > highest {
		return Enter("close above window high"), nil
	}

	return NoSignal(), nil
}

// ShouldExit triggers when the close breaks below the window's lowest close.
func (p *BreakoutPolicy) ShouldExit(bars types.BarTable, index int, _ *types.Position, params *types.StrategyParameters) (Signal, error) {
	window := p.windowFrom(params)
	if index < window {
		return NoSignal(), nil
	}

	lowest := bars[index-window].Close
	for _, bar := range bars[index-window+1 : index] {
		if bar.Close < lowest {
			lowest = bar.Close
		}
	}

	if bars[index].Close < lowest {
		return Signal{Triggered: true, Reason: "close below window low"}, nil
	}

	return NoSignal(), nil
}

// EntrySignals tags every bar with the entry predicate.
func (p *BreakoutPolicy) EntrySignals(bars types.BarTable, params *types.StrategyParameters) ([]bool, error) {
	window := p.windowFrom(params)
	closes := bars.Closes()
	signals := make([]bool, len(bars))

	for i := window; i < len(closes); i++ {
		highest := closes[i-window]
		for _, c := range closes[i-window+1 : i] {
			if c > highest {
				highest = c
			}
		}

		signals[i] = closes[i] > highest
	}

	return signals, nil
}

// ExitSignals tags every bar with the exit predicate.
func (p *BreakoutPolicy) ExitSignals(bars types.BarTable, params *types.StrategyParameters) ([]bool, error) {
	window := p.windowFrom(params)
	closes := bars.Closes()
	signals := make([]bool, len(bars))

	for i := window; i < len(closes); i++ {
		lowest := closes[i-window]
		for _, c := range closes[i-window+1 : i] {
			if c < lowest {
				lowest = c
			}
		}

		signals[i] = closes[i] < lowest
	}

	return signals, nil
}

func (p *BreakoutPolicy) windowFrom(params *types.StrategyParameters) int {
	if params == nil {
		return int(p.window)
	}

	if value, ok := params.Get("window"); ok {
		return int(value)
	}

	return int(p.window)
}
