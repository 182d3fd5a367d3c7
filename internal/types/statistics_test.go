package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

type StatisticsTestSuite struct {
	suite.Suite
	tempDir string
}

func TestStatisticsSuite(t *testing.T) {
	suite.Run(t, new(StatisticsTestSuite))
}

func (suite *StatisticsTestSuite) SetupTest() {
	suite.tempDir = suite.T().TempDir()
}

func (suite *StatisticsTestSuite) TestWriteBacktestStats() {
	stats := BacktestStats{
		ID:             "run-1",
		Timestamp:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Instruments:    []string{"2330", "2454"},
		InitialCapital: 1000000,
		FinalCapital:   1080000,
		TradeTotals: TradeTotals{
			NumberOfTrades:        4,
			NumberOfWinningTrades: 3,
			NumberOfLosingTrades:  1,
			WinRate:               0.75,
			AvgHoldingDays:        3.5,
		},
		ProfitTotals: ProfitTotals{
			TotalNetProfit:  80000,
			NetProfitRate:   0.08,
			TotalCommission: 1200,
			TotalTax:        900,
			MaximumProfit:   50000,
			MaximumLoss:     -10000,
		},
		RiskTotals: RiskTotals{
			MaxDrawdown:     20000,
			MaxDrawdownRate: 0.02,
			SharpeRatio:     1.4,
		},
		Policy: PolicyInfo{
			ID:      "com.example.policy.hold3",
			Version: "1.0.0",
			Name:    "hold three bars",
		},
	}

	path := filepath.Join(suite.tempDir, "stats.yaml")
	suite.Require().NoError(WriteBacktestStats(path, stats))

	data, err := os.ReadFile(path)
	suite.Require().NoError(err)

	var loaded BacktestStats
	suite.Require().NoError(yaml.Unmarshal(data, &loaded))
	suite.Equal(stats.ID, loaded.ID)
	suite.Equal(stats.Instruments, loaded.Instruments)
	suite.Equal(stats.TradeTotals, loaded.TradeTotals)
	suite.Equal(stats.ProfitTotals, loaded.ProfitTotals)
	suite.Equal(stats.RiskTotals, loaded.RiskTotals)
	suite.Equal(stats.Policy, loaded.Policy)
}

func (suite *StatisticsTestSuite) TestWriteBacktestStatsOmitsEmptyFailures() {
	path := filepath.Join(suite.tempDir, "stats.yaml")
	suite.Require().NoError(WriteBacktestStats(path, BacktestStats{ID: "run-2"}))

	data, err := os.ReadFile(path)
	suite.Require().NoError(err)
	suite.NotContains(string(data), "failed_instruments")
}

func (suite *StatisticsTestSuite) TestWriteBacktestStatsBadPath() {
	err := WriteBacktestStats(filepath.Join(suite.tempDir, "missing", "stats.yaml"), BacktestStats{})
	suite.Error(err)
}

func (suite *StatisticsTestSuite) TestTradeRecordIsWin() {
	win := TradeRecord{NetProfit: 10}
	loss := TradeRecord{NetProfit: -10}
	flat := TradeRecord{NetProfit: 0}

	suite.True(win.IsWin())
	suite.False(loss.IsWin())
	suite.False(flat.IsWin())
}
