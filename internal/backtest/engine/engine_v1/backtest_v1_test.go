package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine"
	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/stocksim/internal/policy"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

const frictionlessYAML = `
initial_capital: 1000000
lot_mode: any_lot
rates:
  commission_rate: 0
  commission_discount: 0
  min_commission: 0
  max_commission: 0
  tax_rate: 0
  slippage_rate: 0
`

func testData() map[string]types.BarTable {
	tables := map[string]types.BarTable{
		"1101": barsFromCloses(40, 40.5, 41, 41.5, 42, 42.5, 43, 43.5),
		"2330": barsFromCloses(100, 102, 103, 104, 105, 104, 106, 107, 108, 109),
		"2454": barsFromCloses(50, 51, 52, 53, 54, 55),
		"2603": barsFromCloses(20, 20.2, 20.4, 20.6, 20.8, 21, 21.2),
		"3008": barsFromCloses(200, 202, 204, 206, 208, 210, 212, 214),
	}

	for id, table := range tables {
		for i := range table {
			table[i].InstrumentID = id
		}
	}

	return tables
}

type BacktestEngineV1TestSuite struct {
	suite.Suite
	engine engine.Engine
}

func TestBacktestEngineV1Suite(t *testing.T) {
	suite.Run(t, new(BacktestEngineV1TestSuite))
}

func (suite *BacktestEngineV1TestSuite) SetupTest() {
	suite.engine = NewBacktestEngineV1()

	suite.Require().NoError(suite.engine.Initialize(frictionlessYAML))
	suite.Require().NoError(suite.engine.SetDataSource(datasource.NewInMemoryDataSource(testData())))
	suite.Require().NoError(suite.engine.SetPolicy(policy.NewHoldBarsPolicy(3), nil))
}

func (suite *BacktestEngineV1TestSuite) TestRunAllInstruments() {
	result, err := suite.engine.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().NoError(err)

	suite.Require().Len(result.Instruments, 5)
	suite.Empty(result.Failed)
	suite.Empty(result.Unfinished)
	suite.NotEmpty(result.Trades)
	suite.NotEmpty(result.EquityCurve)

	suite.Equal(result.RunID, result.Stats.ID)
	suite.Equal([]string{"1101", "2330", "2454", "2603", "3008"}, result.Stats.Instruments)
	suite.Equal(len(result.Trades), result.Stats.TradeTotals.NumberOfTrades)
	suite.Equal(1000000.0, result.Stats.InitialCapital)
	suite.Equal("com.rxtech.stocksim.policy.hold_bars", result.Stats.Policy.ID)
}

func (suite *BacktestEngineV1TestSuite) TestMergeOrderIsSortedById() {
	suite.Require().NoError(suite.engine.SetInstruments([]string{"3008", "2330", "1101"}))

	result, err := suite.engine.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().NoError(err)

	suite.Require().Len(result.Instruments, 3)
	suite.Equal("1101", result.Instruments[0].InstrumentID)
	suite.Equal("2330", result.Instruments[1].InstrumentID)
	suite.Equal("3008", result.Instruments[2].InstrumentID)
}

// TestDeterministicAcrossPoolSizes: the merged result must not depend on how
// many workers raced to produce it.
func (suite *BacktestEngineV1TestSuite) TestDeterministicAcrossPoolSizes() {
	runWith := func(concurrency string) *engine.RunResult {
		e := NewBacktestEngineV1()
		suite.Require().NoError(e.Initialize(frictionlessYAML + "concurrency: " + concurrency + "\n"))
		suite.Require().NoError(e.SetDataSource(datasource.NewInMemoryDataSource(testData())))
		suite.Require().NoError(e.SetPolicy(policy.NewHoldBarsPolicy(3), nil))

		result, err := e.Run(context.Background(), engine.LifecycleCallbacks{})
		suite.Require().NoError(err)

		return result
	}

	serial := runWith("1")
	parallel := runWith("10")

	suite.Equal(shapes(serial.Trades), shapes(parallel.Trades))
	suite.Equal(serial.EquityCurve, parallel.EquityCurve)
	suite.Equal(serial.Stats.TradeTotals, parallel.Stats.TradeTotals)
	suite.Equal(serial.Stats.ProfitTotals, parallel.Stats.ProfitTotals)
	suite.Equal(serial.Stats.RiskTotals, parallel.Stats.RiskTotals)
}

// TestPartialSuccess: a corrupt instrument is excluded and reported while its
// siblings complete.
func (suite *BacktestEngineV1TestSuite) TestPartialSuccess() {
	data := testData()
	broken := data["2454"]
	broken[1].Date, broken[2].Date = broken[2].Date, broken[1].Date

	suite.Require().NoError(suite.engine.SetDataSource(datasource.NewInMemoryDataSource(data)))

	result, err := suite.engine.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().NoError(err)

	suite.Len(result.Instruments, 4)
	suite.Require().Len(result.Failed, 1)
	suite.Equal("2454", result.Failed[0].InstrumentID)
	suite.Contains(result.Failed[0].Error, "not ascending")

	for _, instrument := range result.Instruments {
		suite.NotEqual("2454", instrument.InstrumentID)
	}
}

func (suite *BacktestEngineV1TestSuite) TestCancelledRunReturnsPartialResult() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := suite.engine.Run(ctx, engine.LifecycleCallbacks{})
	suite.Require().NoError(err)
	suite.Require().NotNil(result)

	suite.Empty(result.Instruments)
	suite.Len(result.Unfinished, 5)
}

func (suite *BacktestEngineV1TestSuite) TestLifecycleCallbacks() {
	var (
		runStarts        int
		runEnds          int
		instrumentStarts int
		instrumentEnds   int
		lastProgress     int
		progressTotal    int
	)

	onRunStart := engine.OnRunStartCallback(func(runID string, total int) error {
		runStarts++
		suite.NotEmpty(runID)
		suite.Equal(5, total)

		return nil
	})
	onRunEnd := engine.OnRunEndCallback(func(error) {
		runEnds++
	})
	onInstrumentStart := engine.OnInstrumentStartCallback(func(_ int, _ string, totalBars int) error {
		instrumentStarts++
		suite.Positive(totalBars)

		return nil
	})
	onInstrumentEnd := engine.OnInstrumentEndCallback(func(_ int, _ string, err error) {
		instrumentEnds++
		suite.NoError(err)
	})
	onProcessData := engine.OnProcessDataCallback(func(current, total int) error {
		lastProgress = current
		progressTotal = total

		return nil
	})

	_, err := suite.engine.Run(context.Background(), engine.LifecycleCallbacks{
		OnRunStart:        &onRunStart,
		OnRunEnd:          &onRunEnd,
		OnInstrumentStart: &onInstrumentStart,
		OnInstrumentEnd:   &onInstrumentEnd,
		OnProcessData:     &onProcessData,
	})
	suite.Require().NoError(err)

	totalBars := 0
	for _, table := range testData() {
		totalBars += len(table)
	}

	suite.Equal(1, runStarts)
	suite.Equal(1, runEnds)
	suite.Equal(5, instrumentStarts)
	suite.Equal(5, instrumentEnds)
	suite.Equal(totalBars, progressTotal)
	suite.Equal(totalBars, lastProgress)
}

// TestProgressTotalRespectsDateBounds: the progress denominator counts only
// the bars a date-bounded run will actually process.
func (suite *BacktestEngineV1TestSuite) TestProgressTotalRespectsDateBounds() {
	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	e := NewBacktestEngineV1()
	suite.Require().NoError(e.Initialize(frictionlessYAML + "start_time: 2024-01-03T00:00:00Z\n"))
	suite.Require().NoError(e.SetDataSource(datasource.NewInMemoryDataSource(testData())))
	suite.Require().NoError(e.SetPolicy(policy.NewHoldBarsPolicy(3), nil))

	var progressTotal int

	onProcessData := engine.OnProcessDataCallback(func(_, total int) error {
		progressTotal = total

		return nil
	})

	_, err := e.Run(context.Background(), engine.LifecycleCallbacks{OnProcessData: &onProcessData})
	suite.Require().NoError(err)

	inBounds := 0
	for _, table := range testData() {
		for _, bar := range table {
			if !bar.Date.Before(start) {
				inBounds++
			}
		}
	}

	suite.Equal(inBounds, progressTotal)
}

// TestFinalCapitalConvention: every instrument starts with its own full
// allocation, so final capital is that base plus the combined net change.
// With all trades closed the change is exactly the closed-trade total.
func (suite *BacktestEngineV1TestSuite) TestFinalCapitalConvention() {
	result, err := suite.engine.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().NoError(err)

	portfolioInitial := result.Stats.InitialCapital * float64(len(result.Instruments))

	suite.InDelta(portfolioInitial+result.Stats.ProfitTotals.TotalNetProfit, result.Stats.FinalCapital, 1e-6)
	suite.InDelta(result.Stats.ProfitTotals.TotalNetProfit/portfolioInitial, result.Stats.ProfitTotals.NetProfitRate, 1e-12)
}

func (suite *BacktestEngineV1TestSuite) TestStatsFileWritten() {
	folder := suite.T().TempDir()
	suite.Require().NoError(suite.engine.SetResultsFolder(folder))

	result, err := suite.engine.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().NoError(err)

	data, err := os.ReadFile(filepath.Join(folder, result.RunID+".stats.yaml"))
	suite.Require().NoError(err)
	suite.Contains(string(data), "number_of_trades")
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresInitialization() {
	e := NewBacktestEngineV1()
	suite.Require().NoError(e.SetDataSource(datasource.NewInMemoryDataSource(testData())))
	suite.Require().NoError(e.SetPolicy(policy.NewHoldBarsPolicy(3), nil))

	_, err := e.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestConfig))
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresPolicy() {
	e := NewBacktestEngineV1()
	suite.Require().NoError(e.Initialize(frictionlessYAML))
	suite.Require().NoError(e.SetDataSource(datasource.NewInMemoryDataSource(testData())))

	_, err := e.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoPolicy))
}

func (suite *BacktestEngineV1TestSuite) TestRunRequiresInstruments() {
	e := NewBacktestEngineV1()
	suite.Require().NoError(e.Initialize(frictionlessYAML))
	suite.Require().NoError(e.SetDataSource(datasource.NewInMemoryDataSource(nil)))
	suite.Require().NoError(e.SetPolicy(policy.NewHoldBarsPolicy(3), nil))

	_, err := e.Run(context.Background(), engine.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoInstrument))
}

func (suite *BacktestEngineV1TestSuite) TestNilDataSourceRejected() {
	err := suite.engine.SetDataSource(nil)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoData))
}

func (suite *BacktestEngineV1TestSuite) TestIncompatiblePolicyRejected() {
	err := suite.engine.SetPolicy(&stalePolicy{HoldBarsPolicy: policy.NewHoldBarsPolicy(3)}, nil)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodePolicyVersion))
}

func (suite *BacktestEngineV1TestSuite) TestUnknownOverrideRejected() {
	err := suite.engine.SetPolicy(policy.NewHoldBarsPolicy(3), map[string]float64{"no_such_param": 1})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodePolicyParamMissing))
}

func (suite *BacktestEngineV1TestSuite) TestGetConfigSchema() {
	schema, err := suite.engine.GetConfigSchema()
	suite.Require().NoError(err)
	suite.True(strings.Contains(schema, "initial_capital"))
	suite.True(strings.Contains(schema, "lot_mode"))
}

// stalePolicy reports an API version no current engine accepts.
type stalePolicy struct {
	*policy.HoldBarsPolicy
}

func (p *stalePolicy) APIVersion() string {
	return "v9.9.9"
}
