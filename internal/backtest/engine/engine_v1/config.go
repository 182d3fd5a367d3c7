package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v2"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/settlement"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

// MaxConcurrency caps the coordinator's worker pool regardless of what the
// configuration asks for.
const MaxConcurrency = 10

// PriceRule selects which bar price fills a leg.
type PriceRule string

const (
	PriceRuleClose PriceRule = "close"
	PriceRuleOpen  PriceRule = "open"
)

var AllPriceRules = []any{
	PriceRuleClose,
	PriceRuleOpen,
}

// BacktestEngineV1Config is the one configuration object of a run. No
// implicit global defaults beyond DefaultConfig.
type BacktestEngineV1Config struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting capital per instrument,minimum=0" validate:"gt=0"`
	// SizingFraction is the share of capital committed per entry.
	SizingFraction float64 `yaml:"sizing_fraction" json:"sizing_fraction" jsonschema:"title=Sizing Fraction,description=Fraction of capital committed per entry,minimum=0,maximum=1" validate:"gt=0,lte=1"`
	// Rates configures commission, tax and slippage.
	Rates settlement.Rates `yaml:"rates" json:"rates" jsonschema:"title=Rates,description=Commission, tax and slippage configuration"`
	// LotMode selects how capital converts into shares.
	LotMode settlement.LotMode `yaml:"lot_mode" json:"lot_mode" jsonschema:"title=Lot Mode,description=How capital converts into shares" validate:"oneof=whole_lot_only any_lot whole_preferred"`
	// Direction of every position this run opens.
	Direction types.Direction `yaml:"direction" json:"direction" jsonschema:"title=Direction,description=Position side for the run" validate:"oneof=long short"`
	// UpLimitPct and DownLimitPct define the daily price band in percent.
	UpLimitPct   float64 `yaml:"up_limit_pct" json:"up_limit_pct" jsonschema:"title=Up Limit Percent,minimum=0" validate:"gte=0"`
	DownLimitPct float64 `yaml:"down_limit_pct" json:"down_limit_pct" jsonschema:"title=Down Limit Percent,minimum=0" validate:"gte=0"`
	// TakeProfitPct and StopLossPct derive the exit prices stored on a
	// position at entry. 0 disables the trigger.
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct" jsonschema:"title=Take Profit Percent,minimum=0" validate:"gte=0"`
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" jsonschema:"title=Stop Loss Percent,minimum=0" validate:"gte=0"`
	// MaxHoldingDays forces an exit after this many held bars. 0 disables it.
	MaxHoldingDays int `yaml:"max_holding_days" json:"max_holding_days" jsonschema:"title=Max Holding Days,minimum=0" validate:"gte=0"`
	// ForcedExitAtEnd closes any open position on the last bar.
	ForcedExitAtEnd bool `yaml:"forced_exit_at_end" json:"forced_exit_at_end" jsonschema:"title=Forced Exit At End"`
	// EntryPriceRule and ExitPriceRule select the bar price for each leg.
	EntryPriceRule PriceRule `yaml:"entry_price_rule" json:"entry_price_rule" jsonschema:"title=Entry Price Rule" validate:"oneof=open close"`
	ExitPriceRule  PriceRule `yaml:"exit_price_rule" json:"exit_price_rule" jsonschema:"title=Exit Price Rule" validate:"oneof=open close"`
	// RecordSnapshots emits an updated open-position snapshot per held bar.
	RecordSnapshots bool `yaml:"record_snapshots" json:"record_snapshots" jsonschema:"title=Record Snapshots"`
	// PreferVectorized runs the vectorized walk when the policy supports it.
	PreferVectorized bool `yaml:"prefer_vectorized" json:"prefer_vectorized" jsonschema:"title=Prefer Vectorized"`
	// Concurrency bounds the coordinator's worker pool. Clamped to
	// MaxConcurrency.
	Concurrency int `yaml:"concurrency" json:"concurrency" jsonschema:"title=Concurrency,minimum=1,maximum=10" validate:"gte=1,lte=10"`
	// StartTime and EndTime bound the simulated date range.
	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start date for the run"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end date for the run"`
}

// UnmarshalYAML implements custom unmarshaling for BacktestEngineV1Config.
func (c *BacktestEngineV1Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Config struct {
		InitialCapital   float64            `yaml:"initial_capital"`
		SizingFraction   float64            `yaml:"sizing_fraction"`
		Rates            settlement.Rates   `yaml:"rates"`
		LotMode          settlement.LotMode `yaml:"lot_mode"`
		Direction        types.Direction    `yaml:"direction"`
		UpLimitPct       float64            `yaml:"up_limit_pct"`
		DownLimitPct     float64            `yaml:"down_limit_pct"`
		TakeProfitPct    float64            `yaml:"take_profit_pct"`
		StopLossPct      float64            `yaml:"stop_loss_pct"`
		MaxHoldingDays   int                `yaml:"max_holding_days"`
		ForcedExitAtEnd  bool               `yaml:"forced_exit_at_end"`
		EntryPriceRule   PriceRule          `yaml:"entry_price_rule"`
		ExitPriceRule    PriceRule          `yaml:"exit_price_rule"`
		RecordSnapshots  bool               `yaml:"record_snapshots"`
		PreferVectorized bool               `yaml:"prefer_vectorized"`
		Concurrency      int                `yaml:"concurrency"`
		StartTime        *time.Time         `yaml:"start_time"`
		EndTime          *time.Time         `yaml:"end_time"`
	}

	config := Config{
		InitialCapital:  DefaultConfig().InitialCapital,
		SizingFraction:  DefaultConfig().SizingFraction,
		Rates:           DefaultConfig().Rates,
		LotMode:         DefaultConfig().LotMode,
		Direction:       DefaultConfig().Direction,
		UpLimitPct:      DefaultConfig().UpLimitPct,
		DownLimitPct:    DefaultConfig().DownLimitPct,
		EntryPriceRule:  DefaultConfig().EntryPriceRule,
		ExitPriceRule:   DefaultConfig().ExitPriceRule,
		ForcedExitAtEnd: DefaultConfig().ForcedExitAtEnd,
		Concurrency:     DefaultConfig().Concurrency,
	}
	if err := unmarshal(&config); err != nil {
		return err
	}

	c.InitialCapital = config.InitialCapital
	c.SizingFraction = config.SizingFraction
	c.Rates = config.Rates
	c.LotMode = config.LotMode
	c.Direction = config.Direction
	c.UpLimitPct = config.UpLimitPct
	c.DownLimitPct = config.DownLimitPct
	c.TakeProfitPct = config.TakeProfitPct
	c.StopLossPct = config.StopLossPct
	c.MaxHoldingDays = config.MaxHoldingDays
	c.ForcedExitAtEnd = config.ForcedExitAtEnd
	c.EntryPriceRule = config.EntryPriceRule
	c.ExitPriceRule = config.ExitPriceRule
	c.RecordSnapshots = config.RecordSnapshots
	c.PreferVectorized = config.PreferVectorized
	c.Concurrency = config.Concurrency

	if config.StartTime != nil {
		c.StartTime = optional.Some(*config.StartTime)
	}

	if config.EndTime != nil {
		c.EndTime = optional.Some(*config.EndTime)
	}

	return nil
}

// DefaultConfig returns the documented fallbacks.
func DefaultConfig() BacktestEngineV1Config {
	return BacktestEngineV1Config{
		InitialCapital:  1000000,
		SizingFraction:  1.0,
		Rates:           settlement.DefaultRates(),
		LotMode:         settlement.LotModeWholePreferred,
		Direction:       types.DirectionLong,
		UpLimitPct:      10,
		DownLimitPct:    10,
		ForcedExitAtEnd: true,
		EntryPriceRule:  PriceRuleClose,
		ExitPriceRule:   PriceRuleClose,
		Concurrency:     MaxConcurrency,
		StartTime:       optional.None[time.Time](),
		EndTime:         optional.None[time.Time](),
	}
}

// ParseConfig decodes and validates a YAML configuration string. Unset fields
// fall back to DefaultConfig.
func ParseConfig(content string) (BacktestEngineV1Config, error) {
	config := DefaultConfig()

	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return config, errors.Wrap(errors.ErrCodeBacktestConfig, "failed to parse run configuration", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Validate checks the configuration's structural constraints.
func (c *BacktestEngineV1Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfig, "invalid run configuration", err)
	}

	if c.Rates.MinCommission > c.Rates.MaxCommission {
		return errors.New(errors.ErrCodeBacktestConfig, "min commission exceeds max commission")
	}

	return nil
}

// GenerateSchema generates a JSON schema for the BacktestEngineV1Config.
func (c *BacktestEngineV1Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			if strings.Contains(t.String(), "settlement.LotMode") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: settlement.AllLotModes,
				}
			}

			if strings.Contains(t.String(), "engine.PriceRule") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllPriceRules,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backtest-engine-v1-config"
	schema.Description = "Configuration schema for BacktestEngineV1"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the BacktestEngineV1Config.
func (c *BacktestEngineV1Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
