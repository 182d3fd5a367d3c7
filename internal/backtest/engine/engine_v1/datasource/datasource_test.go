package datasource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/cache"
	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

func fixtureTable(instrument string, closes ...float64) types.BarTable {
	table := make(types.BarTable, len(closes))
	for i, c := range closes {
		table[i] = types.PriceBar{
			InstrumentID: instrument,
			Date:         time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
			Open:         c - 1,
			High:         c + 1,
			Low:          c - 2,
			Close:        c,
			Volume:       1000,
		}
	}

	return table
}

type InMemoryDataSourceTestSuite struct {
	suite.Suite
	source *InMemoryDataSource
}

func TestInMemoryDataSourceSuite(t *testing.T) {
	suite.Run(t, new(InMemoryDataSourceTestSuite))
}

func (suite *InMemoryDataSourceTestSuite) SetupTest() {
	suite.source = NewInMemoryDataSource(map[string]types.BarTable{
		"2330": fixtureTable("2330", 100, 101, 102, 103),
		"2454": fixtureTable("2454", 50, 51),
	})
}

func (suite *InMemoryDataSourceTestSuite) TestGetBars() {
	table, err := suite.source.GetBars("2330", optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().NoError(err)
	suite.Len(table, 4)
	suite.NoError(table.Validate())
}

func (suite *InMemoryDataSourceTestSuite) TestGetBarsDateBounds() {
	start := optional.Some(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	end := optional.Some(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))

	table, err := suite.source.GetBars("2330", start, end)
	suite.Require().NoError(err)
	suite.Require().Len(table, 2)
	suite.Equal(101.0, table[0].Close)
	suite.Equal(102.0, table[1].Close)
}

func (suite *InMemoryDataSourceTestSuite) TestGetBarsUnknownInstrument() {
	_, err := suite.source.GetBars("0000", optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *InMemoryDataSourceTestSuite) TestGetBarsEmptyRange() {
	start := optional.Some(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := suite.source.GetBars("2330", start, optional.None[time.Time]())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *InMemoryDataSourceTestSuite) TestGetAllInstruments() {
	instruments, err := suite.source.GetAllInstruments()
	suite.Require().NoError(err)
	suite.Equal([]string{"2330", "2454"}, instruments)
}

func (suite *InMemoryDataSourceTestSuite) TestCount() {
	count, err := suite.source.Count("2454", optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().NoError(err)
	suite.Equal(2, count)
}

func (suite *InMemoryDataSourceTestSuite) TestCountDateBounds() {
	start := optional.Some(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	end := optional.Some(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))

	count, err := suite.source.Count("2330", start, end)
	suite.Require().NoError(err)
	suite.Equal(2, count)
}

type CachedDataSourceTestSuite struct {
	suite.Suite
	cache  *cache.PriceCache
	source *CachedDataSource
}

func TestCachedDataSourceSuite(t *testing.T) {
	suite.Run(t, new(CachedDataSourceTestSuite))
}

func (suite *CachedDataSourceTestSuite) SetupTest() {
	priceCache, err := cache.Open(cache.Config{
		Dir:                suite.T().TempDir(),
		MemoryCeilingBytes: 1 << 20,
		DefaultTTL:         time.Hour,
	}, logger.NewNopLogger())
	suite.Require().NoError(err)

	suite.cache = priceCache
	suite.source = NewCachedDataSource(NewInMemoryDataSource(map[string]types.BarTable{
		"2330": fixtureTable("2330", 100, 101, 102),
	}), priceCache, time.Hour)
}

func (suite *CachedDataSourceTestSuite) TestMissThenHit() {
	suite.Empty(suite.cache.Info())

	first, err := suite.source.GetBars("2330", optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().NoError(err)
	suite.Len(suite.cache.Info(), 1)

	second, err := suite.source.GetBars("2330", optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().NoError(err)
	suite.Equal(first, second)
}

func (suite *CachedDataSourceTestSuite) TestErrorNotCached() {
	_, err := suite.source.GetBars("0000", optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().Error(err)
	suite.Empty(suite.cache.Info())
}

func TestDuckDBDataSource(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")

	csv := "instrument_id,date,open,high,low,close,volume\n" +
		"2330,2024-01-01,99,101,98,100,1000\n" +
		"2330,2024-01-02,100,102,99,101,1100\n" +
		"2454,2024-01-01,49,51,48,50,500\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	source, err := NewDuckDBDataSource("", logger.NewNopLogger())
	if err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	defer source.Close()

	if err := source.Initialize(csvPath); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	table, err := source.GetBars("2330", optional.None[time.Time](), optional.None[time.Time]())
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}

	if len(table) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(table))
	}

	if table[0].Close != 100 || table[1].Close != 101 {
		t.Fatalf("unexpected closes: %v %v", table[0].Close, table[1].Close)
	}

	instruments, err := source.GetAllInstruments()
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}

	if len(instruments) != 2 || instruments[0] != "2330" || instruments[1] != "2454" {
		t.Fatalf("unexpected instruments: %v", instruments)
	}

	count, err := source.Count("2454", optional.None[time.Time](), optional.None[time.Time]())
	if err != nil || count != 1 {
		t.Fatalf("count: %d err %v", count, err)
	}

	start := optional.Some(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	count, err = source.Count("2330", start, optional.None[time.Time]())
	if err != nil || count != 1 {
		t.Fatalf("bounded count: %d err %v", count, err)
	}

	if _, err := source.GetBars("0000", optional.None[time.Time](), optional.None[time.Time]()); !errors.HasCode(err, errors.ErrCodeDataNotFound) {
		t.Fatalf("expected data-not-found, got %v", err)
	}
}

func TestDuckDBDataSourceExtraColumns(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")

	csv := "instrument_id,date,open,high,low,close,volume,turnover,note\n" +
		"2330,2024-01-01,99,101,98,100,1000,2.5,hello\n" +
		"2330,2024-01-02,100,102,99,101,1100,3.5,world\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	source, err := NewDuckDBDataSource("", logger.NewNopLogger())
	if err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	defer source.Close()

	if err := source.Initialize(csvPath); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	table, err := source.GetBars("2330", optional.None[time.Time](), optional.None[time.Time]())
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}

	if len(table) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(table))
	}

	if got := table[0].Extra["turnover"]; got != 2.5 {
		t.Fatalf("expected turnover 2.5 in extra columns, got %v", got)
	}

	if got := table[1].Extra["turnover"]; got != 3.5 {
		t.Fatalf("expected turnover 3.5 in extra columns, got %v", got)
	}

	// Non-numeric extras are skipped, not errors.
	if _, ok := table[0].Extra["note"]; ok {
		t.Fatal("non-numeric column should not land in extra")
	}
}

func TestDuckDBDataSourceVolumeOptional(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")

	csv := "instrument_id,date,open,high,low,close\n" +
		"2330,2024-01-01,99,101,98,100\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	source, err := NewDuckDBDataSource("", logger.NewNopLogger())
	if err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	defer source.Close()

	if err := source.Initialize(csvPath); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	table, err := source.GetBars("2330", optional.None[time.Time](), optional.None[time.Time]())
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}

	if len(table) != 1 || table[0].Volume != 0 {
		t.Fatalf("expected one bar with zero volume, got %+v", table)
	}
}

func TestDuckDBDataSourceMissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")

	csv := "instrument_id,date,open,high,low\n" +
		"2330,2024-01-01,99,101,98\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}

	source, err := NewDuckDBDataSource("", logger.NewNopLogger())
	if err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	defer source.Close()

	if err := source.Initialize(csvPath); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err = source.GetBars("2330", optional.None[time.Time](), optional.None[time.Time]())
	if !errors.HasCode(err, errors.ErrCodeMissingColumn) {
		t.Fatalf("expected missing-column error, got %v", err)
	}
}
