package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine"
	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/cache"
	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/policy"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/internal/version"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

// BacktestEngineV1 runs one policy over a set of instruments with bounded
// concurrency and deterministic merging.
type BacktestEngineV1 struct {
	config         BacktestEngineV1Config
	pol            policy.Policy
	paramOverrides map[string]float64
	source         datasource.DataSource
	instruments    []string
	resultsFolder  string
	cacheDir       string
	cacheTTL       time.Duration
	log            *logger.Logger

	initialized bool
}

// NewBacktestEngineV1 creates a new engine with the documented default
// configuration.
func NewBacktestEngineV1() engine.Engine {
	log, err := logger.NewLogger()
	if err != nil {
		log = logger.NewNopLogger()
	}

	return &BacktestEngineV1{
		config: DefaultConfig(),
		log:    log,
	}
}

// Initialize configures the engine from a YAML configuration string.
func (b *BacktestEngineV1) Initialize(config string) error {
	parsed, err := ParseConfig(config)
	if err != nil {
		return err
	}

	b.config = parsed
	b.initialized = true

	return nil
}

// SetDataPath points the engine at a CSV or Parquet bar file, loading it
// through DuckDB.
func (b *BacktestEngineV1) SetDataPath(path string) error {
	source, err := datasource.NewDuckDBDataSource("", b.log)
	if err != nil {
		return err
	}

	if err := source.Initialize(path); err != nil {
		return err
	}

	return b.SetDataSource(source)
}

// SetDataSource sets the data source for the engine directly.
func (b *BacktestEngineV1) SetDataSource(source datasource.DataSource) error {
	if source == nil {
		return errors.New(errors.ErrCodeBacktestNoData, "data source is nil")
	}

	b.source = source

	return nil
}

// SetPolicy sets the policy and its static parameter overrides. The policy is
// validated against the engine version immediately.
func (b *BacktestEngineV1) SetPolicy(p policy.Policy, overrides map[string]float64) error {
	if err := policy.Validate(p, version.GetVersion()); err != nil {
		return err
	}

	if _, err := policy.BuildParameters(p, overrides); err != nil {
		return err
	}

	b.pol = p
	b.paramOverrides = overrides

	return nil
}

// SetInstruments restricts the run to the given instrument ids. An empty set
// means every instrument in the data source.
func (b *BacktestEngineV1) SetInstruments(ids []string) error {
	b.instruments = append([]string(nil), ids...)

	return nil
}

// SetResultsFolder sets the output directory for the run's stats file.
func (b *BacktestEngineV1) SetResultsFolder(folder string) error {
	b.resultsFolder = folder

	return nil
}

// EnableCache routes bar reads through the two-tier price cache rooted at
// dir. Payloads expire after ttl.
func (b *BacktestEngineV1) EnableCache(dir string, ttl time.Duration) {
	b.cacheDir = dir
	b.cacheTTL = ttl
}

// Run executes the simulation over every configured instrument.
func (b *BacktestEngineV1) Run(ctx context.Context, callbacks engine.LifecycleCallbacks) (*engine.RunResult, error) {
	if err := b.preRunCheck(); err != nil {
		return nil, err
	}

	source, priceCache, err := b.buildSource()
	if err != nil {
		return nil, err
	}

	if priceCache != nil {
		defer func() {
			if err := priceCache.Close(); err != nil {
				b.log.Warn("failed to close price cache", zap.Error(err))
			}
		}()
	}

	instruments, err := b.resolveInstruments(source)
	if err != nil {
		return nil, err
	}

	params, err := policy.BuildParameters(b.pol, b.paramOverrides)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()

	b.log.Info("starting backtest run",
		zap.String("run_id", runID),
		zap.String("policy", b.pol.Name()),
		zap.Int("instruments", len(instruments)))

	coord := &coordinator{
		config: b.config,
		pol:    b.pol,
		params: params,
		source: source,
		log:    b.log,
	}

	result, err := coord.Run(ctx, runID, instruments, callbacks)
	if err != nil {
		return result, err
	}

	if b.resultsFolder != "" {
		if err := b.writeStats(result); err != nil {
			return result, err
		}
	}

	b.log.Info("backtest run finished",
		zap.String("run_id", runID),
		zap.Int("succeeded", len(result.Instruments)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("unfinished", len(result.Unfinished)))

	return result, nil
}

// GetConfigSchema returns the JSON schema of the engine configuration.
func (b *BacktestEngineV1) GetConfigSchema() (string, error) {
	return b.config.GenerateSchemaJSON()
}

func (b *BacktestEngineV1) preRunCheck() error {
	if !b.initialized {
		return errors.New(errors.ErrCodeBacktestConfig, "engine is not initialized")
	}

	if b.pol == nil {
		return errors.New(errors.ErrCodeBacktestNoPolicy, "no policy configured")
	}

	if b.source == nil {
		return errors.New(errors.ErrCodeBacktestNoData, "no data source configured")
	}

	return nil
}

func (b *BacktestEngineV1) buildSource() (datasource.DataSource, *cache.PriceCache, error) {
	if b.cacheDir == "" {
		return b.source, nil, nil
	}

	priceCache, err := cache.Open(cache.Config{
		Dir:        b.cacheDir,
		DefaultTTL: b.cacheTTL,
	}, b.log)
	if err != nil {
		return nil, nil, err
	}

	return datasource.NewCachedDataSource(b.source, priceCache, b.cacheTTL), priceCache, nil
}

func (b *BacktestEngineV1) resolveInstruments(source datasource.DataSource) ([]string, error) {
	instruments := b.instruments

	if len(instruments) == 0 {
		all, err := source.GetAllInstruments()
		if err != nil {
			return nil, err
		}

		instruments = all
	}

	if len(instruments) == 0 {
		return nil, errors.New(errors.ErrCodeBacktestNoInstrument, "no instruments to simulate")
	}

	return instruments, nil
}

func (b *BacktestEngineV1) writeStats(result *engine.RunResult) error {
	if err := os.MkdirAll(b.resultsFolder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfig, "failed to create results folder", err)
	}

	path := filepath.Join(b.resultsFolder, result.RunID+".stats.yaml")

	return types.WriteBacktestStats(path, result.Stats)
}
