// Package settlement holds the pure pricing arithmetic of a simulation run:
// tick rounding, limit-price bands, lot sizing, commission, tax, slippage and
// P&L. Everything here is stateless given a Rates configuration.
package settlement

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/stocksim/internal/types"
)

// LotUnit is the number of shares in one whole lot.
const LotUnit = 1000

// LotMode selects how capital is converted into a share count.
type LotMode string

const (
	// LotModeWholeOnly floors to a whole-lot multiple.
	LotModeWholeOnly LotMode = "whole_lot_only"
	// LotModeAny floors to single shares.
	LotModeAny LotMode = "any_lot"
	// LotModeWholePreferred uses whole lots when at least one is affordable,
	// otherwise falls back to single shares.
	LotModeWholePreferred LotMode = "whole_preferred"
)

var AllLotModes = []any{
	LotModeWholeOnly,
	LotModeAny,
	LotModeWholePreferred,
}

// Rates is the cost configuration of one run.
type Rates struct {
	// CommissionRate is the per-leg commission rate on notional.
	CommissionRate float64 `yaml:"commission_rate" validate:"gte=0"`
	// CommissionDiscount multiplies the commission rate, e.g. 0.6 for a 40%
	// broker discount.
	CommissionDiscount float64 `yaml:"commission_discount" validate:"gte=0"`
	// MinCommission is the per-leg commission floor.
	MinCommission float64 `yaml:"min_commission" validate:"gte=0"`
	// MaxCommission is the per-leg commission cap.
	MaxCommission float64 `yaml:"max_commission" validate:"gte=0"`
	// TaxRate applies to the exit leg's notional only.
	TaxRate float64 `yaml:"tax_rate" validate:"gte=0"`
	// SlippageRate moves fills against the trader: buys up, sells down.
	SlippageRate float64 `yaml:"slippage_rate" validate:"gte=0"`
}

// DefaultRates returns the Taiwan equity market defaults.
func DefaultRates() Rates {
	return Rates{
		CommissionRate:     0.001425,
		CommissionDiscount: 1.0,
		MinCommission:      20,
		MaxCommission:      1000000,
		TaxRate:            0.003,
	}
}

// Settlement is the fully costed result of closing one position.
type Settlement struct {
	GrossProfit     float64
	EntryCommission float64
	ExitCommission  float64
	Tax             float64
	NetProfit       float64
	ProfitRate      float64
}

// Calculator evaluates the settlement arithmetic for one Rates configuration.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a calculator from the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the calculator's configuration.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// LotSize converts capital into a share count at the given price. Returns 0
// when no affordable size exists; callers treat 0 as "no trade". The result
// always satisfies shares * price <= capital.
func (c *Calculator) LotSize(capital, price float64, mode LotMode) float64 {
	if capital <= 0 || price <= 0 {
		return 0
	}

	switch mode {
	case LotModeWholeOnly:
		lots := math.Floor(capital / (price * LotUnit))

		return lots * LotUnit
	case LotModeAny:
		return math.Floor(capital / price)
	case LotModeWholePreferred:
		lots := math.Floor(capital / (price * LotUnit))
		if lots >= 1 {
			return lots * LotUnit
		}

		return math.Floor(capital / price)
	default:
		return 0
	}
}

// Commission computes the fee for one leg's notional:
// clamp(notional * rate * discount, min, max). Monotonic non-decreasing in
// notional.
func (c *Calculator) Commission(notional float64) float64 {
	if notional <= 0 {
		return 0
	}

	fee := decimal.NewFromFloat(notional).
		Mul(decimal.NewFromFloat(c.rates.CommissionRate)).
		Mul(decimal.NewFromFloat(c.rates.CommissionDiscount))

	minFee := decimal.NewFromFloat(c.rates.MinCommission)
	maxFee := decimal.NewFromFloat(c.rates.MaxCommission)

	if fee.LessThan(minFee) {
		fee = minFee
	}

	if fee.GreaterThan(maxFee) {
		fee = maxFee
	}

	result, _ := fee.Float64()

	return result
}

// Tax computes the transaction tax on the exit leg's notional.
func (c *Calculator) Tax(notional float64) float64 {
	if notional <= 0 {
		return 0
	}

	result, _ := decimal.NewFromFloat(notional).
		Mul(decimal.NewFromFloat(c.rates.TaxRate)).
		Float64()

	return result
}

// TradePrice applies slippage to a fill and rounds it to a valid tick. Buys
// fill above the quoted price, sells below it.
func (c *Calculator) TradePrice(price float64, isBuy bool) float64 {
	if c.rates.SlippageRate == 0 {
		return RoundToTick(price)
	}

	factor := 1 + c.rates.SlippageRate
	if !isBuy {
		factor = 1 - c.rates.SlippageRate
	}

	slipped, _ := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(factor)).
		Float64()

	return RoundToTick(slipped)
}

// Pnl computes the gross profit of a round trip. The sign flips for shorts.
func (c *Calculator) Pnl(entry, exit, shares float64, direction types.Direction) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if direction == types.DirectionShort {
		diff = diff.Neg()
	}

	result, _ := diff.Mul(decimal.NewFromFloat(shares)).Float64()

	return result
}

// PnlRate computes the gross return of a round trip relative to the entry
// price. The sign flips for shorts.
func (c *Calculator) PnlRate(entry, exit float64, direction types.Direction) float64 {
	if entry == 0 {
		return 0
	}

	rate := (exit - entry) / entry
	if direction == types.DirectionShort {
		rate = -rate
	}

	return rate
}

// Settle fully costs a closed round trip: gross P&L, both legs' commission,
// exit-leg tax, net P&L and net return on the entry notional.
func (c *Calculator) Settle(entry, exit, shares float64, direction types.Direction) Settlement {
	entryNotional, _ := decimal.NewFromFloat(entry).Mul(decimal.NewFromFloat(shares)).Float64()
	exitNotional, _ := decimal.NewFromFloat(exit).Mul(decimal.NewFromFloat(shares)).Float64()

	gross := c.Pnl(entry, exit, shares, direction)
	entryCommission := c.Commission(entryNotional)
	exitCommission := c.Commission(exitNotional)
	tax := c.Tax(exitNotional)

	net, _ := decimal.NewFromFloat(gross).
		Sub(decimal.NewFromFloat(entryCommission)).
		Sub(decimal.NewFromFloat(exitCommission)).
		Sub(decimal.NewFromFloat(tax)).
		Float64()

	rate := 0.0
	if entryNotional > 0 {
		rate = net / entryNotional
	}

	return Settlement{
		GrossProfit:     gross,
		EntryCommission: entryCommission,
		ExitCommission:  exitCommission,
		Tax:             tax,
		NetProfit:       net,
		ProfitRate:      rate,
	}
}
