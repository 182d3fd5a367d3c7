package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine"
	engine_v1 "github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/stocksim/internal/policy"
)

// parseOverrides turns repeated --set name=value flags into static parameter
// overrides.
func parseOverrides(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	overrides := make(map[string]float64, len(pairs))

	for _, pair := range pairs {
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid override %q, expected name=value", pair)
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid override value %q: %w", pair, err)
		}

		overrides[name] = value
	}

	return overrides, nil
}

func selectPolicy(name string) (policy.Policy, error) {
	switch name {
	case "hold_bars":
		return policy.NewHoldBarsPolicy(3), nil
	case "breakout":
		return policy.NewBreakoutPolicy(20), nil
	default:
		return nil, fmt.Errorf("unknown policy %q (available: hold_bars, breakout)", name)
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	configContent := ""

	if configPath := cmd.String("config"); configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		configContent = string(data)
	}

	pol, err := selectPolicy(cmd.String("policy"))
	if err != nil {
		return err
	}

	overrides, err := parseOverrides(cmd.StringSlice("set"))
	if err != nil {
		return err
	}

	backtester := engine_v1.NewBacktestEngineV1()

	if err := backtester.Initialize(configContent); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := backtester.SetDataPath(cmd.String("data")); err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}

	if err := backtester.SetPolicy(pol, overrides); err != nil {
		return fmt.Errorf("failed to set policy: %w", err)
	}

	if instruments := cmd.StringSlice("instrument"); len(instruments) > 0 {
		if err := backtester.SetInstruments(instruments); err != nil {
			return err
		}
	}

	if results := cmd.String("results"); results != "" {
		if err := backtester.SetResultsFolder(results); err != nil {
			return err
		}
	}

	if cacheDir := cmd.String("cache-dir"); cacheDir != "" {
		if v1, ok := backtester.(*engine_v1.BacktestEngineV1); ok {
			v1.EnableCache(cacheDir, cmd.Duration("cache-ttl"))
		}
	}

	var bar *progressbar.ProgressBar

	onRunStart := engine.OnRunStartCallback(func(runID string, total int) error {
		log.Printf("Run %s over %d instruments", runID, total)

		return nil
	})
	onProcessData := engine.OnProcessDataCallback(func(current, total int) error {
		if bar == nil {
			bar = progressbar.Default(int64(total))
			bar.Describe(fmt.Sprintf("Simulating %s", cmd.String("policy")))
		}

		return bar.Set(current)
	})
	onInstrumentEnd := engine.OnInstrumentEndCallback(func(_ int, instrumentID string, err error) {
		if err != nil {
			log.Printf("Instrument %s failed: %v", instrumentID, err)
		}
	})

	result, err := backtester.Run(ctx, engine.LifecycleCallbacks{
		OnRunStart:      &onRunStart,
		OnProcessData:   &onProcessData,
		OnInstrumentEnd: &onInstrumentEnd,
	})
	if err != nil {
		return err
	}

	if bar != nil {
		_ = bar.Finish()
	}

	stats := result.Stats
	log.Printf("Finished: %d trades, win rate %.2f%%, net profit %.2f, max drawdown %.2f%%, sharpe %.2f",
		stats.TradeTotals.NumberOfTrades,
		stats.TradeTotals.WinRate*100,
		stats.ProfitTotals.TotalNetProfit,
		stats.RiskTotals.MaxDrawdownRate*100,
		stats.RiskTotals.SharpeRatio)

	if len(result.Failed) > 0 {
		log.Printf("%d instruments excluded", len(result.Failed))
	}

	if len(result.Unfinished) > 0 {
		log.Printf("%d instruments unfinished (cancelled)", len(result.Unfinished))
	}

	return nil
}

func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := engine_v1.NewBacktestEngineV1().GetConfigSchema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run a trading policy simulation over historical bars",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Simulate a policy over a bar file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the YAML run configuration",
					},
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Path to a CSV or Parquet bar file (glob patterns supported)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "policy",
						Aliases: []string{"p"},
						Usage:   "Policy to simulate (hold_bars, breakout)",
						Value:   "hold_bars",
					},
					&cli.StringSliceFlag{
						Name:  "set",
						Usage: "Static parameter override as name=value, repeatable",
					},
					&cli.StringSliceFlag{
						Name:    "instrument",
						Aliases: []string{"i"},
						Usage:   "Restrict the run to these instrument ids, repeatable",
					},
					&cli.StringFlag{
						Name:    "results",
						Aliases: []string{"r"},
						Usage:   "Directory for the run's stats file",
					},
					&cli.StringFlag{
						Name:  "cache-dir",
						Usage: "Directory for the two-tier price cache",
					},
					&cli.DurationFlag{
						Name:  "cache-ttl",
						Usage: "Time to live for cached bar tables",
						Value: 24 * time.Hour,
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the run configuration",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
