package engine

import (
	"context"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/stocksim/internal/policy"
	"github.com/rxtech-lab/stocksim/internal/types"
)

// Lifecycle callback types for backtest phases.
// All callbacks with an error return can abort execution by returning an error.

// OnRunStartCallback is called once when the run begins. runID is generated
// before any instrument is processed.
type OnRunStartCallback func(runID string, totalInstruments int) error

// OnRunEndCallback is called once when the run completes, with the error the
// run will return.
type OnRunEndCallback func(err error)

// OnInstrumentStartCallback is called when one instrument's simulation begins.
type OnInstrumentStartCallback func(instrumentIndex int, instrumentID string, totalBars int) error

// OnInstrumentEndCallback is called when one instrument's simulation ends.
// err is non-nil when the instrument failed and was excluded from the merge.
type OnInstrumentEndCallback func(instrumentIndex int, instrumentID string, err error)

// OnProcessDataCallback is called for each bar processed across all
// instruments.
type OnProcessDataCallback func(current int, total int) error

// LifecycleCallbacks holds all lifecycle callback functions for the engine.
// All fields are pointers - nil means no callback will be invoked.
type LifecycleCallbacks struct {
	OnRunStart        *OnRunStartCallback
	OnRunEnd          *OnRunEndCallback
	OnInstrumentStart *OnInstrumentStartCallback
	OnInstrumentEnd   *OnInstrumentEndCallback
	OnProcessData     *OnProcessDataCallback
}

// InstrumentResult is one instrument's completed simulation.
type InstrumentResult struct {
	InstrumentID string
	// Trades is the closed-trade ledger, append-only in bar order.
	Trades []types.TradeRecord
	// Snapshots holds the per-held-bar open-position snapshots when the run
	// records them.
	Snapshots []types.Position
	// OpenPosition is the position still open at the end, if any.
	OpenPosition *types.Position
	// EquityCurve has one point per processed bar.
	EquityCurve types.EquityCurve
	// FinalCapital is the capital after the last processed bar.
	FinalCapital float64
	// ParameterHistory is the dynamic-parameter change log of the run.
	ParameterHistory []types.ParameterChange
}

// RunResult is the merged output of a multi-instrument run. Consumed
// read-only by reporting and export layers.
type RunResult struct {
	RunID string
	// Instruments is stable-ordered by instrument id, never completion order.
	Instruments []InstrumentResult
	// Failed lists instruments excluded by the partial-success model.
	Failed []types.InstrumentError
	// Unfinished lists instruments whose simulations were cancelled before
	// completing.
	Unfinished []string
	// Trades is the merged ledger, ordered by instrument id then entry date.
	Trades []types.TradeRecord
	// EquityCurve is the portfolio-level curve combined across instruments.
	EquityCurve types.EquityCurve
	// Stats aggregates the run.
	Stats types.BacktestStats
}

// Engine runs one policy over a set of instruments.
type Engine interface {
	// Initialize configures the engine from a YAML configuration string.
	Initialize(config string) error
	// SetDataPath points the engine at a bar data file. Supports CSV and
	// Parquet, including glob patterns for batch loading.
	SetDataPath(path string) error
	// SetDataSource sets the data source for the engine directly.
	SetDataSource(source datasource.DataSource) error
	// SetPolicy sets the policy and its static parameter overrides.
	SetPolicy(p policy.Policy, overrides map[string]float64) error
	// SetInstruments restricts the run to the given instrument ids. An empty
	// set means every instrument in the data source.
	SetInstruments(ids []string) error
	// SetResultsFolder sets the output directory for the run's stats file.
	SetResultsFolder(folder string) error
	// Run executes the simulation. The context can be used to cancel the
	// operation; a cancelled run returns the partial result.
	Run(ctx context.Context, callbacks LifecycleCallbacks) (*RunResult, error)
	// GetConfigSchema returns the JSON schema of the engine configuration.
	GetConfigSchema() (string, error)
}
