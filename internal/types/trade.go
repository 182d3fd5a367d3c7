package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason enumerates why a position was closed.
type ExitReason string

const (
	ExitReasonTakeProfit     ExitReason = "take_profit"
	ExitReasonStopLoss       ExitReason = "stop_loss"
	ExitReasonPriceBand      ExitReason = "price_band"
	ExitReasonPolicy         ExitReason = "policy"
	ExitReasonMaxHoldingDays ExitReason = "max_holding_days"
	ExitReasonForcedEnd      ExitReason = "forced_end"
)

// Position represents one open holding. At most one exists per instrument per
// run. It is mutated on every held bar and converted into a TradeRecord on
// exit.
type Position struct {
	PositionID      string    `yaml:"position_id" csv:"position_id"`
	InstrumentID    string    `yaml:"instrument_id" csv:"instrument_id"`
	Direction       Direction `yaml:"direction" csv:"direction"`
	EntryDate       time.Time `yaml:"entry_date" csv:"entry_date"`
	EntryPrice      float64   `yaml:"entry_price" csv:"entry_price"`
	Shares          float64   `yaml:"shares" csv:"shares"`
	TakeProfitPrice float64   `yaml:"take_profit_price" csv:"take_profit_price"`
	StopLossPrice   float64   `yaml:"stop_loss_price" csv:"stop_loss_price"`

	// Updated each held bar.
	CurrentPrice  float64   `yaml:"current_price" csv:"current_price"`
	UnrealizedPnL float64   `yaml:"unrealized_pnl" csv:"unrealized_pnl"`
	HoldingDays   int       `yaml:"holding_days" csv:"holding_days"`
	AsOf          time.Time `yaml:"as_of" csv:"as_of"`
}

// MarkToMarket updates the position's per-bar fields against the given price.
func (p *Position) MarkToMarket(date time.Time, price float64) {
	p.CurrentPrice = price
	p.AsOf = date

	entry := decimal.NewFromFloat(p.EntryPrice)
	current := decimal.NewFromFloat(price)
	shares := decimal.NewFromFloat(p.Shares)

	diff := current.Sub(entry)
	if p.Direction == DirectionShort {
		diff = entry.Sub(current)
	}

	p.UnrealizedPnL, _ = diff.Mul(shares).Float64()
}

// TradeRecord is the immutable snapshot of a closed position. Appended to the
// run's ledger only once both legs and their costs are fully computed.
type TradeRecord struct {
	TradeID      string     `yaml:"trade_id" csv:"trade_id"`
	InstrumentID string     `yaml:"instrument_id" csv:"instrument_id"`
	Direction    Direction  `yaml:"direction" csv:"direction"`
	EntryDate    time.Time  `yaml:"entry_date" csv:"entry_date"`
	EntryPrice   float64    `yaml:"entry_price" csv:"entry_price"`
	ExitDate     time.Time  `yaml:"exit_date" csv:"exit_date"`
	ExitPrice    float64    `yaml:"exit_price" csv:"exit_price"`
	Shares       float64    `yaml:"shares" csv:"shares"`
	GrossProfit  float64    `yaml:"gross_profit" csv:"gross_profit"`
	Commission   float64    `yaml:"commission" csv:"commission"`
	Tax          float64    `yaml:"tax" csv:"tax"`
	NetProfit    float64    `yaml:"net_profit" csv:"net_profit"`
	ProfitRate   float64    `yaml:"profit_rate" csv:"profit_rate"`
	HoldingDays  int        `yaml:"holding_days" csv:"holding_days"`
	ExitReason   ExitReason `yaml:"exit_reason" csv:"exit_reason"`
}

// IsWin reports whether the trade closed with a positive net profit.
func (t *TradeRecord) IsWin() bool {
	return t.NetProfit > 0
}
