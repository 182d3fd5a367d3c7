package policy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/internal/version"
)

// HoldBarsPolicy enters when a bar closes above its open and exits after the
// position has been held a fixed number of bars. The holding counter is the
// engine-maintained dynamic parameter, so the policy itself stays stateless.
type HoldBarsPolicy struct {
	holdBars float64
}

// NewHoldBarsPolicy creates the policy with the given default holding length.
func NewHoldBarsPolicy(holdBars int) *HoldBarsPolicy {
	return &HoldBarsPolicy{holdBars: float64(holdBars)}
}

// Name returns the name of the policy.
func (p *HoldBarsPolicy) Name() string {
	return fmt.Sprintf("hold_bars_%d", int(p.holdBars))
}

// ID returns the unique identifier of the policy.
func (p *HoldBarsPolicy) ID() string {
	return "com.rxtech.stocksim.policy.hold_bars"
}

// APIVersion returns the policy API version this policy was built against.
func (p *HoldBarsPolicy) APIVersion() string {
	return version.GetVersion()
}

// ParameterSpecs declares the parameters the policy reads.
func (p *HoldBarsPolicy) ParameterSpecs() []ParameterSpec {
	return []ParameterSpec{
		{
			Name:    "hold_bars",
			Kind:    types.ParameterStatic,
			Default: p.holdBars,
			Min:     optional.Some(1.0),
		},
		{
			Name:    HoldingDaysParameter,
			Kind:    types.ParameterDynamic,
			Default: 0,
		},
	}
}

// ShouldEnter triggers when the bar closes above its open.
func (p *HoldBarsPolicy) ShouldEnter(bars types.BarTable, index int, _ *types.StrategyParameters) (Signal, error) {
	bar := bars[index]
	if bar.Close > bar.Open {
		return Enter("close above open"), nil
	}

	return NoSignal(), nil
}

// ShouldExit triggers once the holding counter reaches the configured length.
func (p *HoldBarsPolicy) ShouldExit(_ types.BarTable, _ int, _ *types.Position, params *types.StrategyParameters) (Signal, error) {
	holdBars, _ := params.Get("hold_bars")

	held, ok := params.Get(HoldingDaysParameter)
	if !ok {
		return NoSignal(), nil
	}

	if held >= holdBars {
		return Signal{Triggered: true, Reason: fmt.Sprintf("held %d bars", int(held))}, nil
	}

	return NoSignal(), nil
}
