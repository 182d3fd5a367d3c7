package policy

import (
	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stocksim/internal/types"
)

// HoldingDaysParameter is the reserved dynamic parameter the engine maintains
// for policies that declare it: reset to its default on entry and exit,
// incremented once per held bar.
const HoldingDaysParameter = "holding_days"

// Signal is a policy's verdict for one bar.
type Signal struct {
	// Triggered is true when the policy wants to enter or exit on this bar.
	Triggered bool
	// Price optionally overrides the configured price rule for the leg,
	// e.g. a touched limit price.
	Price optional.Option[float64]
	// Reason is free-form context carried into logs.
	Reason string
}

// NoSignal is the zero verdict.
func NoSignal() Signal {
	return Signal{}
}

// Enter builds a triggered entry signal.
func Enter(reason string) Signal {
	return Signal{Triggered: true, Reason: reason}
}

// ExitAt builds a triggered exit signal with an explicit price.
func ExitAt(price float64, reason string) Signal {
	return Signal{Triggered: true, Price: optional.Some(price), Reason: reason}
}

// ParameterSpec declares one policy parameter: its kind, default and bounds.
type ParameterSpec struct {
	Name    string
	Kind    types.ParameterKind
	Default float64
	Min     optional.Option[float64]
	Max     optional.Option[float64]
	Step    optional.Option[float64]
}

// Policy is the pluggable entry/exit decision logic parameterizing one run.
// Policies should be stateless: per-run state lives in the parameter set and
// the open position, both owned by the engine.
type Policy interface {
	// Name returns the human-readable name of the policy.
	Name() string
	// ID returns the unique identifier of the policy.
	ID() string
	// APIVersion returns the policy API version this policy was built against.
	APIVersion() string
	// ParameterSpecs declares the parameters the policy reads.
	ParameterSpecs() []ParameterSpec
	// ShouldEnter evaluates the entry predicate for the bar at index.
	ShouldEnter(bars types.BarTable, index int, params *types.StrategyParameters) (Signal, error)
	// ShouldExit evaluates the exit predicate for the bar at index while the
	// given position is open.
	ShouldExit(bars types.BarTable, index int, position *types.Position, params *types.StrategyParameters) (Signal, error)
}

// VectorizedPolicy additionally supplies whole-table signal tagging over the
// bar series. The engine walks the tagged table once instead of evaluating
// predicates per row. Tagging must be state-independent: for such predicates
// the vectorized walk reproduces the row-wise result exactly.
type VectorizedPolicy interface {
	Policy
	// EntrySignals tags every bar with the entry predicate. len(result) must
	// equal len(bars).
	EntrySignals(bars types.BarTable, params *types.StrategyParameters) ([]bool, error)
	// ExitSignals tags every bar with the exit predicate.
	ExitSignals(bars types.BarTable, params *types.StrategyParameters) ([]bool, error)
}
