package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine"
	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/settlement"
	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/policy"
	"github.com/rxtech-lab/stocksim/internal/types"
)

// instrumentRun is one instrument's complete, synchronous simulation: the
// Flat/Holding state machine walking the bar series in date order. It owns
// its parameter set, position and ledger exclusively, so it needs no locking.
type instrumentRun struct {
	instrumentID string
	bars         types.BarTable
	config       BacktestEngineV1Config
	pol          policy.Policy
	params       *types.StrategyParameters
	calc         *settlement.Calculator
	log          *logger.Logger

	capital   float64
	position  *types.Position
	trades    []types.TradeRecord
	snapshots []types.Position
	equity    types.EquityCurve

	// signals switches the walk to precomputed whole-table tags. Nil means
	// row-wise predicate evaluation.
	signals *vectorSignals

	hasHoldingParam bool
}

func newInstrumentRun(
	instrumentID string,
	bars types.BarTable,
	config BacktestEngineV1Config,
	pol policy.Policy,
	params *types.StrategyParameters,
	log *logger.Logger,
) *instrumentRun {
	_, hasHoldingParam := params.Defaults[policy.HoldingDaysParameter]

	return &instrumentRun{
		instrumentID:    instrumentID,
		bars:            bars,
		config:          config,
		pol:             pol,
		params:          params,
		calc:            settlement.NewCalculator(config.Rates),
		log:             log,
		capital:         config.InitialCapital,
		hasHoldingParam: hasHoldingParam,
	}
}

// Run walks the bar series once. onBar, when non-nil, is invoked after every
// processed bar; returning an error from it aborts the run.
func (r *instrumentRun) Run(ctx context.Context, onBar func(index int) error) (engine.InstrumentResult, error) {
	if err := r.bars.Validate(); err != nil {
		return engine.InstrumentResult{}, err
	}

	for i := range r.bars {
		select {
		case <-ctx.Done():
			return engine.InstrumentResult{}, ctx.Err()
		default:
		}

		r.processBar(i)

		if onBar != nil {
			if err := onBar(i); err != nil {
				return engine.InstrumentResult{}, err
			}
		}
	}

	return r.result(), nil
}

func (r *instrumentRun) processBar(index int) {
	bar := r.bars[index]

	if r.position != nil {
		r.processHeldBar(index, bar)

		return
	}

	// Bar 0 is never an entry signal: there is no prior bar to compare
	// against.
	if index > 0 {
		signal := r.evaluateEntry(index)
		if signal.Triggered {
			r.openPosition(index, bar)
		}
	}

	r.appendEquity(bar)
}

// processHeldBar advances the holding counters, then applies the fixed exit
// priority: full limit-lock suppression, take-profit, stop-loss, price-band
// exit, policy exit, max-holding-days, forced end-of-run.
func (r *instrumentRun) processHeldBar(index int, bar types.PriceBar) {
	r.position.HoldingDays++

	if r.hasHoldingParam {
		if err := r.params.IncrementDynamic(index, policy.HoldingDaysParameter); err != nil {
			r.log.Warn("failed to advance holding counter", zap.Error(err))
		}
	}

	prevClose := r.bars[index-1].Close
	lock := settlement.LimitLockState(bar.Open, bar.High, bar.Low, bar.Close, prevClose,
		r.config.UpLimitPct, r.config.DownLimitPct, r.position.Direction)

	if lock == settlement.LockFull {
		// No exit can fill on a fully locked bar.
		r.holdThrough(index, bar)

		return
	}

	if price, ok := r.takeProfitTouched(bar); ok {
		r.closePosition(index, bar, price, types.ExitReasonTakeProfit)

		return
	}

	if price, ok := r.stopLossTouched(bar); ok {
		r.closePosition(index, bar, price, types.ExitReasonStopLoss)

		return
	}

	if lock == settlement.LockPartial {
		r.closePosition(index, bar, r.bandExitPrice(prevClose), types.ExitReasonPriceBand)

		return
	}

	if signal := r.evaluateExit(index); signal.Triggered {
		price := r.exitPrice(bar)
		if signal.Price.IsSome() {
			price = signal.Price.Unwrap()
		}

		r.closePosition(index, bar, price, types.ExitReasonPolicy)

		return
	}

	if r.config.MaxHoldingDays > 0 && r.position.HoldingDays >= r.config.MaxHoldingDays {
		r.closePosition(index, bar, r.exitPrice(bar), types.ExitReasonMaxHoldingDays)

		return
	}

	if index == len(r.bars)-1 && r.config.ForcedExitAtEnd {
		r.closePosition(index, bar, r.exitPrice(bar), types.ExitReasonForcedEnd)

		return
	}

	r.holdThrough(index, bar)
}

// holdThrough marks the open position to the bar's close without closing it.
func (r *instrumentRun) holdThrough(index int, bar types.PriceBar) {
	r.position.MarkToMarket(bar.Date, bar.Close)

	if r.config.RecordSnapshots {
		r.snapshots = append(r.snapshots, *r.position)
	}

	r.appendEquity(bar)
}

// evaluateEntry runs the policy's entry predicate. A predicate that errors or
// panics is logged and treated as no-signal; the run continues.
func (r *instrumentRun) evaluateEntry(index int) (signal policy.Signal) {
	if r.signals != nil {
		if r.signals.entries[index] {
			return policy.Enter("vectorized")
		}

		return policy.NoSignal()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("entry predicate panicked, treating bar as no-signal",
				zap.String("instrument", r.instrumentID),
				zap.Int("bar", index),
				zap.Any("panic", rec))

			signal = policy.NoSignal()
		}
	}()

	signal, err := r.pol.ShouldEnter(r.bars, index, r.params)
	if err != nil {
		r.log.Warn("entry predicate failed, treating bar as no-signal",
			zap.String("instrument", r.instrumentID),
			zap.Int("bar", index),
			zap.Error(err))

		return policy.NoSignal()
	}

	return signal
}

func (r *instrumentRun) evaluateExit(index int) (signal policy.Signal) {
	if r.signals != nil {
		if r.signals.exits[index] {
			return policy.Signal{Triggered: true, Reason: "vectorized"}
		}

		return policy.NoSignal()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("exit predicate panicked, treating bar as no-signal",
				zap.String("instrument", r.instrumentID),
				zap.Int("bar", index),
				zap.Any("panic", rec))

			signal = policy.NoSignal()
		}
	}()

	signal, err := r.pol.ShouldExit(r.bars, index, r.position, r.params)
	if err != nil {
		r.log.Warn("exit predicate failed, treating bar as no-signal",
			zap.String("instrument", r.instrumentID),
			zap.Int("bar", index),
			zap.Error(err))

		return policy.NoSignal()
	}

	return signal
}

func (r *instrumentRun) openPosition(index int, bar types.PriceBar) {
	entryPrice := r.calc.TradePrice(r.entryPrice(bar), r.config.Direction == types.DirectionLong)

	shares := r.calc.LotSize(r.capital*r.config.SizingFraction, entryPrice, r.config.LotMode)
	if shares <= 0 {
		return
	}

	position := &types.Position{
		PositionID:   uuid.NewString(),
		InstrumentID: r.instrumentID,
		Direction:    r.config.Direction,
		EntryDate:    bar.Date,
		EntryPrice:   entryPrice,
		Shares:       shares,
	}

	sign := 1.0
	if r.config.Direction == types.DirectionShort {
		sign = -1.0
	}

	if r.config.TakeProfitPct > 0 {
		position.TakeProfitPrice = settlement.LimitPrice(entryPrice, sign*r.config.TakeProfitPct)
	}

	if r.config.StopLossPct > 0 {
		position.StopLossPrice = settlement.LimitPrice(entryPrice, -sign*r.config.StopLossPct)
	}

	r.position = position

	if r.hasHoldingParam {
		if err := r.params.ResetDynamic(index, policy.HoldingDaysParameter); err != nil {
			r.log.Warn("failed to reset holding counter", zap.Error(err))
		}
	}

	r.position.MarkToMarket(bar.Date, bar.Close)
}

// closePosition settles both legs and converts the position into a
// TradeRecord. The record is appended only once every cost is computed, so a
// cancelled run never emits a half-applied trade.
func (r *instrumentRun) closePosition(index int, bar types.PriceBar, exitPrice float64, reason types.ExitReason) {
	position := r.position
	settled := r.calc.Settle(position.EntryPrice, exitPrice, position.Shares, position.Direction)

	trade := types.TradeRecord{
		TradeID:      uuid.NewString(),
		InstrumentID: position.InstrumentID,
		Direction:    position.Direction,
		EntryDate:    position.EntryDate,
		EntryPrice:   position.EntryPrice,
		ExitDate:     bar.Date,
		ExitPrice:    exitPrice,
		Shares:       position.Shares,
		GrossProfit:  settled.GrossProfit,
		Commission:   settled.EntryCommission + settled.ExitCommission,
		Tax:          settled.Tax,
		NetProfit:    settled.NetProfit,
		ProfitRate:   settled.ProfitRate,
		HoldingDays:  position.HoldingDays,
		ExitReason:   reason,
	}

	r.trades = append(r.trades, trade)
	r.capital += settled.NetProfit
	r.position = nil

	if r.hasHoldingParam {
		if err := r.params.ResetDynamic(index, policy.HoldingDaysParameter); err != nil {
			r.log.Warn("failed to reset holding counter", zap.Error(err))
		}
	}

	r.appendEquity(bar)
}

// appendEquity records one (date, capital) point for the bar: realized
// capital plus the open position's unrealized P&L.
func (r *instrumentRun) appendEquity(bar types.PriceBar) {
	value := r.capital
	if r.position != nil {
		value += r.position.UnrealizedPnL
	}

	r.equity = append(r.equity, types.EquityPoint{Date: bar.Date, Value: value})
}

func (r *instrumentRun) entryPrice(bar types.PriceBar) float64 {
	if r.config.EntryPriceRule == PriceRuleOpen {
		return bar.Open
	}

	return bar.Close
}

func (r *instrumentRun) exitPrice(bar types.PriceBar) float64 {
	raw := bar.Close
	if r.config.ExitPriceRule == PriceRuleOpen {
		raw = bar.Open
	}

	return r.calc.TradePrice(raw, r.position.Direction == types.DirectionShort)
}

// bandExitPrice is the fill assumed on a partially locked bar: the adverse
// band limit itself.
func (r *instrumentRun) bandExitPrice(prevClose float64) float64 {
	if r.position.Direction == types.DirectionShort {
		return settlement.LimitPrice(prevClose, r.config.UpLimitPct)
	}

	return settlement.LimitPrice(prevClose, -r.config.DownLimitPct)
}

func (r *instrumentRun) takeProfitTouched(bar types.PriceBar) (float64, bool) {
	price := r.position.TakeProfitPrice
	if price <= 0 {
		return 0, false
	}

	if r.position.Direction == types.DirectionShort {
		if bar.Low <= price {
			return price, true
		}

		return 0, false
	}

	if bar.High >= price {
		return price, true
	}

	return 0, false
}

func (r *instrumentRun) stopLossTouched(bar types.PriceBar) (float64, bool) {
	price := r.position.StopLossPrice
	if price <= 0 {
		return 0, false
	}

	if r.position.Direction == types.DirectionShort {
		if bar.High >= price {
			return price, true
		}

		return 0, false
	}

	if bar.Low <= price {
		return price, true
	}

	return 0, false
}

func (r *instrumentRun) result() engine.InstrumentResult {
	result := engine.InstrumentResult{
		InstrumentID:     r.instrumentID,
		Trades:           r.trades,
		Snapshots:        r.snapshots,
		EquityCurve:      r.equity,
		FinalCapital:     r.capital,
		ParameterHistory: r.params.History,
	}

	if r.position != nil {
		open := *r.position
		result.OpenPosition = &open
	}

	return result
}

// String identifies the run in logs.
func (r *instrumentRun) String() string {
	return fmt.Sprintf("run(%s, %d bars)", r.instrumentID, len(r.bars))
}
