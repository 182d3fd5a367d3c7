package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyInfo contains metadata about the policy that produced a run.
type PolicyInfo struct {
	// ID is the unique identifier for the policy (e.g., "com.example.policy.hold3")
	ID string `yaml:"id" json:"id"`
	// Version is the policy's declared API version.
	Version string `yaml:"version" json:"version"`
	// Name is the human-readable name of the policy.
	Name string `yaml:"name" json:"name"`
}

// InstrumentError pairs a failed instrument with the reason it was excluded
// from the merged result.
type InstrumentError struct {
	InstrumentID string `yaml:"instrument_id" json:"instrument_id"`
	Error        string `yaml:"error" json:"error"`
}

type TradeTotals struct {
	// Count of all closed trades.
	NumberOfTrades int `yaml:"number_of_trades"`
	// Count of trades that closed with positive net profit.
	NumberOfWinningTrades int `yaml:"number_of_winning_trades"`
	// Count of trades that closed with negative net profit.
	NumberOfLosingTrades int `yaml:"number_of_losing_trades"`
	// Win rate over all closed trades.
	WinRate float64 `yaml:"win_rate"`
	// Average holding days over all closed trades.
	AvgHoldingDays float64 `yaml:"avg_holding_days"`
}

type ProfitTotals struct {
	// Sum of net profit over all closed trades.
	TotalNetProfit float64 `yaml:"total_net_profit"`
	// Net profit as a fraction of the portfolio base, per-instrument
	// initial capital times the merged instrument count.
	NetProfitRate float64 `yaml:"net_profit_rate"`
	// Sum of both legs' commission over all closed trades.
	TotalCommission float64 `yaml:"total_commission"`
	// Sum of exit-leg tax over all closed trades.
	TotalTax float64 `yaml:"total_tax"`
	// Largest single-trade net loss.
	MaximumLoss float64 `yaml:"maximum_loss"`
	// Largest single-trade net profit.
	MaximumProfit float64 `yaml:"maximum_profit"`
}

type RiskTotals struct {
	// Largest peak-to-trough decline of the portfolio equity curve.
	MaxDrawdown float64 `yaml:"max_drawdown"`
	// The decline as a fraction of the peak.
	MaxDrawdownRate float64 `yaml:"max_drawdown_rate"`
	// Annualized Sharpe ratio of the per-bar return series.
	SharpeRatio float64 `yaml:"sharpe_ratio"`
}

// BacktestStats is the aggregate summary of one multi-instrument run.
type BacktestStats struct {
	// ID is the unique identifier for this run.
	ID string `yaml:"id" json:"id"`
	// Timestamp is when the run was executed.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// Instruments lists every instrument that produced a result, sorted by id.
	Instruments []string `yaml:"instruments"`
	// FailedInstruments lists instruments excluded from the merge.
	FailedInstruments []InstrumentError `yaml:"failed_instruments,omitempty"`
	// InitialCapital is the per-instrument starting capital. Each merged
	// instrument simulates with its own full allocation, so the portfolio
	// base is InitialCapital times the number of merged instruments.
	InitialCapital float64 `yaml:"initial_capital"`
	// FinalCapital is that portfolio base plus the combined equity curve's
	// net change, so it includes unrealized profit on open positions.
	FinalCapital float64 `yaml:"final_capital"`
	// Totals over all closed trades.
	TradeTotals TradeTotals `yaml:"trade_totals"`
	// Profit and cost totals.
	ProfitTotals ProfitTotals `yaml:"profit_totals"`
	// Drawdown and Sharpe figures from the portfolio curve.
	RiskTotals RiskTotals `yaml:"risk_totals"`
	// Policy contains metadata about the policy that produced these stats.
	Policy PolicyInfo `yaml:"policy" json:"policy"`
}

// WriteBacktestStats serializes run statistics to a YAML file. The file is
// consumed read-only by reporting and export layers.
func WriteBacktestStats(path string, stats BacktestStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal backtest stats to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write backtest stats to file: %w", err)
	}

	return nil
}
