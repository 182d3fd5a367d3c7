package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine"
	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/policy"
	"github.com/rxtech-lab/stocksim/internal/types"
)

// coordinator fans one policy out over many instruments on a bounded worker
// pool and merges the per-instrument results deterministically.
type coordinator struct {
	config BacktestEngineV1Config
	pol    policy.Policy
	params *types.StrategyParameters
	source datasource.DataSource
	log    *logger.Logger
}

// instrumentOutcome is one worker's report. Exactly one of result, failure or
// unfinished is set.
type instrumentOutcome struct {
	result     *engine.InstrumentResult
	failure    *types.InstrumentError
	unfinished bool
}

// Run simulates every instrument and merges the outcomes. A failed instrument
// is excluded and reported, never fatal to its siblings. Cancelling the
// context stops scheduling and returns the partial result with the instruments
// that never finished listed.
func (c *coordinator) Run(ctx context.Context, runID string, instruments []string, callbacks engine.LifecycleCallbacks) (*engine.RunResult, error) {
	sorted := append([]string(nil), instruments...)
	sort.Strings(sorted)

	if callbacks.OnRunStart != nil {
		if err := (*callbacks.OnRunStart)(runID, len(sorted)); err != nil {
			return nil, err
		}
	}

	totalBars := c.countTotalBars(sorted)

	var (
		processed    atomic.Int64
		callbackLock sync.Mutex
	)

	outcomes := make([]instrumentOutcome, len(sorted))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.poolSize(len(sorted)))

	for i, instrumentID := range sorted {
		group.Go(func() error {
			if groupCtx.Err() != nil {
				outcomes[i] = instrumentOutcome{unfinished: true}

				return nil
			}

			outcome, err := c.runOne(groupCtx, i, instrumentID, callbacks, totalBars, &processed, &callbackLock)
			outcomes[i] = outcome

			return err
		})
	}

	err := group.Wait()

	result := c.merge(runID, sorted, outcomes)

	if callbacks.OnRunEnd != nil {
		(*callbacks.OnRunEnd)(err)
	}

	// A cancelled run still hands back everything that finished.
	if err != nil && ctx.Err() == nil {
		return result, err
	}

	return result, nil
}

// runOne simulates a single instrument. Data and simulation errors become a
// recorded failure; only callback errors propagate and abort the run.
func (c *coordinator) runOne(
	ctx context.Context,
	index int,
	instrumentID string,
	callbacks engine.LifecycleCallbacks,
	totalBars int,
	processed *atomic.Int64,
	callbackLock *sync.Mutex,
) (instrumentOutcome, error) {
	bars, err := c.source.GetBars(instrumentID, c.config.StartTime, c.config.EndTime)
	if err != nil {
		c.log.Warn("instrument excluded, data fetch failed",
			zap.String("instrument", instrumentID),
			zap.Error(err))

		c.notifyInstrumentEnd(callbacks, callbackLock, index, instrumentID, err)

		return failedOutcome(instrumentID, err), nil
	}

	if callbacks.OnInstrumentStart != nil {
		callbackLock.Lock()
		err := (*callbacks.OnInstrumentStart)(index, instrumentID, len(bars))
		callbackLock.Unlock()

		if err != nil {
			return instrumentOutcome{unfinished: true}, err
		}
	}

	// Each instrument simulates against its own deep copy of the parameter
	// set, so one run's dynamic updates never leak into another.
	run := newInstrumentRun(instrumentID, bars, c.config, c.pol, c.params.Clone(), c.log)
	run.attachVectorSignals(c.log)

	var callbackErr error

	result, err := run.Run(ctx, func(int) error {
		current := int(processed.Add(1))

		if callbacks.OnProcessData != nil {
			callbackLock.Lock()
			defer callbackLock.Unlock()

			if err := (*callbacks.OnProcessData)(current, totalBars); err != nil {
				callbackErr = err

				return err
			}
		}

		return nil
	})

	switch {
	case callbackErr != nil:
		return instrumentOutcome{unfinished: true}, callbackErr
	case err == context.Canceled || err == context.DeadlineExceeded || ctx.Err() != nil && err != nil:
		c.notifyInstrumentEnd(callbacks, callbackLock, index, instrumentID, err)

		return instrumentOutcome{unfinished: true}, nil
	case err != nil:
		c.log.Warn("instrument excluded, simulation failed",
			zap.String("instrument", instrumentID),
			zap.Error(err))

		c.notifyInstrumentEnd(callbacks, callbackLock, index, instrumentID, err)

		return failedOutcome(instrumentID, err), nil
	}

	c.notifyInstrumentEnd(callbacks, callbackLock, index, instrumentID, nil)

	return instrumentOutcome{result: &result}, nil
}

func (c *coordinator) notifyInstrumentEnd(callbacks engine.LifecycleCallbacks, callbackLock *sync.Mutex, index int, instrumentID string, err error) {
	if callbacks.OnInstrumentEnd == nil {
		return
	}

	callbackLock.Lock()
	defer callbackLock.Unlock()

	(*callbacks.OnInstrumentEnd)(index, instrumentID, err)
}

func failedOutcome(instrumentID string, err error) instrumentOutcome {
	return instrumentOutcome{failure: &types.InstrumentError{
		InstrumentID: instrumentID,
		Error:        err.Error(),
	}}
}

// poolSize bounds the worker pool by the instrument count, the configured
// concurrency and the hard cap.
func (c *coordinator) poolSize(instruments int) int {
	size := c.config.Concurrency
	if size <= 0 || size > MaxConcurrency {
		size = MaxConcurrency
	}

	if instruments > 0 && instruments < size {
		size = instruments
	}

	return size
}

// countTotalBars counts the bars the run will actually process, within the
// same date bounds the per-instrument fetch applies.
func (c *coordinator) countTotalBars(instruments []string) int {
	total := 0
	for _, instrumentID := range instruments {
		count, err := c.source.Count(instrumentID, c.config.StartTime, c.config.EndTime)
		if err != nil {
			continue
		}

		total += count
	}

	return total
}

// merge assembles the run result in instrument-id order, independent of
// completion order, so equal inputs always produce byte-identical output.
func (c *coordinator) merge(runID string, sorted []string, outcomes []instrumentOutcome) *engine.RunResult {
	result := &engine.RunResult{RunID: runID}

	curves := make([]types.EquityCurve, 0, len(sorted))

	for i, instrumentID := range sorted {
		outcome := outcomes[i]

		switch {
		case outcome.result != nil:
			result.Instruments = append(result.Instruments, *outcome.result)
			result.Trades = append(result.Trades, outcome.result.Trades...)
			curves = append(curves, outcome.result.EquityCurve)
		case outcome.failure != nil:
			result.Failed = append(result.Failed, *outcome.failure)
		default:
			result.Unfinished = append(result.Unfinished, instrumentID)
		}
	}

	result.EquityCurve = types.CombinePortfolioCurve(c.config.InitialCapital, curves)
	result.Stats = c.aggregateStats(runID, result)

	return result
}

func (c *coordinator) aggregateStats(runID string, result *engine.RunResult) types.BacktestStats {
	stats := types.BacktestStats{
		ID:                runID,
		Timestamp:         time.Now(),
		FailedInstruments: result.Failed,
		InitialCapital:    c.config.InitialCapital,
		Policy: types.PolicyInfo{
			ID:      c.pol.ID(),
			Version: c.pol.APIVersion(),
			Name:    c.pol.Name(),
		},
	}

	for _, instrument := range result.Instruments {
		stats.Instruments = append(stats.Instruments, instrument.InstrumentID)
	}

	totalHoldingDays := 0

	for _, trade := range result.Trades {
		stats.TradeTotals.NumberOfTrades++

		if trade.IsWin() {
			stats.TradeTotals.NumberOfWinningTrades++
		} else if trade.NetProfit < 0 {
			stats.TradeTotals.NumberOfLosingTrades++
		}

		totalHoldingDays += trade.HoldingDays

		stats.ProfitTotals.TotalNetProfit += trade.NetProfit
		stats.ProfitTotals.TotalCommission += trade.Commission
		stats.ProfitTotals.TotalTax += trade.Tax

		if trade.NetProfit < stats.ProfitTotals.MaximumLoss {
			stats.ProfitTotals.MaximumLoss = trade.NetProfit
		}

		if trade.NetProfit > stats.ProfitTotals.MaximumProfit {
			stats.ProfitTotals.MaximumProfit = trade.NetProfit
		}
	}

	if stats.TradeTotals.NumberOfTrades > 0 {
		stats.TradeTotals.WinRate = float64(stats.TradeTotals.NumberOfWinningTrades) / float64(stats.TradeTotals.NumberOfTrades)
		stats.TradeTotals.AvgHoldingDays = float64(totalHoldingDays) / float64(stats.TradeTotals.NumberOfTrades)
	}

	// Portfolio capital convention: every merged instrument starts with its
	// own InitialCapital, so the portfolio base is InitialCapital times the
	// instrument count. FinalCapital adds the combined curve's net change to
	// that base, which includes unrealized profit on still-open positions;
	// without a curve it falls back to the closed-trade total.
	portfolioInitial := c.config.InitialCapital * float64(len(result.Instruments))
	if portfolioInitial > 0 {
		stats.ProfitTotals.NetProfitRate = stats.ProfitTotals.TotalNetProfit / portfolioInitial
	}

	stats.FinalCapital = portfolioInitial + stats.ProfitTotals.TotalNetProfit
	if n := len(result.EquityCurve); n > 0 {
		stats.FinalCapital = portfolioInitial + (result.EquityCurve[n-1].Value - c.config.InitialCapital)
	}

	stats.RiskTotals.MaxDrawdown, stats.RiskTotals.MaxDrawdownRate = result.EquityCurve.MaxDrawdown()
	stats.RiskTotals.SharpeRatio = types.SharpeRatio(result.EquityCurve.Returns(), types.DefaultAnnualRiskFreeRate)

	return stats
}
