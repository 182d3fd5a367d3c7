package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/types"
)

type CacheTestSuite struct {
	suite.Suite
	dir   string
	cache *PriceCache
	clock time.Time
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func (suite *CacheTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.clock = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	suite.cache = suite.open(Config{
		Dir:                suite.dir,
		MemoryCeilingBytes: 1 << 20,
		DefaultTTL:         time.Hour,
	})
}

func (suite *CacheTestSuite) open(config Config) *PriceCache {
	c, err := Open(config, logger.NewNopLogger())
	suite.Require().NoError(err)
	c.now = func() time.Time { return suite.clock }

	return c
}

func (suite *CacheTestSuite) advance(d time.Duration) {
	suite.clock = suite.clock.Add(d)
}

func (suite *CacheTestSuite) table(instrument string, bars int) types.BarTable {
	table := make(types.BarTable, bars)
	for i := range table {
		table[i] = types.PriceBar{
			InstrumentID: instrument,
			Date:         time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
			Open:         100,
			High:         101,
			Low:          99,
			Close:        100.5,
			Volume:       1000,
		}
	}

	return table
}

func (suite *CacheTestSuite) key(instrument string) Key {
	return NewKey("daily", []string{instrument},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
}

func serializedSize(table types.BarTable) int64 {
	data, _ := json.Marshal(table)

	return int64(len(data))
}

func (suite *CacheTestSuite) TestPutThenGet() {
	key := suite.key("2330")
	table := suite.table("2330", 5)

	suite.cache.Put(key, table, time.Hour)

	got := suite.cache.Get(key)
	suite.Require().True(got.IsSome())
	suite.Equal(table, got.Unwrap())
}

func (suite *CacheTestSuite) TestMissingKey() {
	suite.True(suite.cache.Get(suite.key("none")).IsNone())
}

func (suite *CacheTestSuite) TestKeyCanonicalization() {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	a := NewKey("daily", []string{"2454", "2330", "2330"}, start, end)
	b := NewKey("daily", []string{"2330", "2454"}, start, end)
	suite.Equal(a.Hash(), b.Hash())

	c := NewKey("daily", []string{"2330"}, start, end)
	suite.NotEqual(a.Hash(), c.Hash())
}

func (suite *CacheTestSuite) TestTTLExpiry() {
	key := suite.key("2330")
	suite.cache.Put(key, suite.table("2330", 5), time.Second)

	suite.True(suite.cache.Get(key).IsSome())

	suite.advance(2 * time.Second)
	suite.True(suite.cache.Get(key).IsNone())

	// the expired payload is gone from disk too
	_, err := os.Stat(filepath.Join(suite.dir, key.Hash()+".json"))
	suite.True(os.IsNotExist(err))
}

func (suite *CacheTestSuite) TestDiskPromotion() {
	key := suite.key("2330")
	table := suite.table("2330", 5)
	suite.cache.Put(key, table, time.Hour)

	suite.cache.Purge(PurgeMemory)
	suite.Zero(suite.cache.MemoryUsage())

	got := suite.cache.Get(key)
	suite.Require().True(got.IsSome())
	suite.Equal(table, got.Unwrap())
	suite.Positive(suite.cache.MemoryUsage())
}

func (suite *CacheTestSuite) TestSurvivesReopen() {
	key := suite.key("2330")
	table := suite.table("2330", 5)
	suite.cache.Put(key, table, time.Hour)
	suite.Require().NoError(suite.cache.Close())

	reopened := suite.open(Config{Dir: suite.dir, MemoryCeilingBytes: 1 << 20, DefaultTTL: time.Hour})
	got := reopened.Get(key)
	suite.Require().True(got.IsSome())
	suite.Equal(table, got.Unwrap())
}

func (suite *CacheTestSuite) TestReopenDropsExpired() {
	key := suite.key("2330")
	suite.cache.Put(key, suite.table("2330", 5), time.Second)
	suite.Require().NoError(suite.cache.Close())

	suite.advance(time.Minute)

	reopened := suite.open(Config{Dir: suite.dir, MemoryCeilingBytes: 1 << 20, DefaultTTL: time.Hour})
	suite.True(reopened.Get(key).IsNone())
	suite.Empty(reopened.Info())
}

func (suite *CacheTestSuite) TestEvictionRespectsCeilingAndOrder() {
	one := serializedSize(suite.table("x", 10))
	ceiling := one*3 + one/2

	cache := suite.open(Config{
		Dir:                suite.T().TempDir(),
		MemoryCeilingBytes: ceiling,
		DefaultTTL:         time.Hour,
	})

	keys := []Key{suite.key("a"), suite.key("b"), suite.key("c"), suite.key("d")}

	for _, key := range keys[:3] {
		cache.Put(key, suite.table("x", 10), time.Hour)
		suite.advance(time.Minute)
	}

	// refresh "a" so "b" becomes the oldest
	suite.True(cache.Get(keys[0]).IsSome())
	suite.advance(time.Minute)

	// fourth entry crosses the ceiling
	cache.Put(keys[3], suite.table("x", 10), time.Hour)

	suite.LessOrEqual(cache.MemoryUsage(), int64(float64(ceiling)*memoryEvictionTarget))

	_, aInMemory := cache.memory[keys[0].Hash()]
	_, bInMemory := cache.memory[keys[1].Hash()]
	suite.True(aInMemory, "recently accessed entry must survive eviction")
	suite.False(bInMemory, "oldest last-access entry must be evicted first")

	// evicted entries still hit via the disk tier
	suite.True(cache.Get(keys[1]).IsSome())
}

func (suite *CacheTestSuite) TestCorruptPayloadDropped() {
	key := suite.key("2330")
	suite.cache.Put(key, suite.table("2330", 5), time.Hour)
	suite.cache.Purge(PurgeMemory)

	path := filepath.Join(suite.dir, key.Hash()+".json")
	suite.Require().NoError(os.WriteFile(path, []byte("{not json"), 0644))

	suite.True(suite.cache.Get(key).IsNone())
	suite.Empty(suite.cache.Info())
}

func (suite *CacheTestSuite) TestDelete() {
	key := suite.key("2330")
	suite.cache.Put(key, suite.table("2330", 5), time.Hour)
	suite.cache.Delete(key)

	suite.True(suite.cache.Get(key).IsNone())
	suite.Empty(suite.cache.Info())
}

func (suite *CacheTestSuite) TestPurgeAll() {
	suite.cache.Put(suite.key("a"), suite.table("a", 5), time.Hour)
	suite.cache.Put(suite.key("b"), suite.table("b", 5), time.Hour)

	suite.cache.Purge(PurgeAll)

	suite.True(suite.cache.Get(suite.key("a")).IsNone())
	suite.True(suite.cache.Get(suite.key("b")).IsNone())
	suite.Zero(suite.cache.MemoryUsage())
	suite.Empty(suite.cache.Info())
}

func (suite *CacheTestSuite) TestPurgeExpired() {
	suite.cache.Put(suite.key("short"), suite.table("short", 5), time.Second)
	suite.cache.Put(suite.key("long"), suite.table("long", 5), time.Hour)

	suite.advance(2 * time.Second)
	suite.cache.Purge(PurgeExpired)

	info := suite.cache.Info()
	suite.Require().Len(info, 1)
	suite.Equal(suite.key("long").Hash(), info[0].Key)
}

func (suite *CacheTestSuite) TestInfoSortedWithMetadata() {
	suite.cache.Put(suite.key("b"), suite.table("b", 5), time.Hour)
	suite.cache.Put(suite.key("a"), suite.table("a", 3), time.Hour)

	info := suite.cache.Info()
	suite.Require().Len(info, 2)
	suite.Less(info[0].Key, info[1].Key)

	for _, entry := range info {
		suite.Positive(entry.Size)
		suite.Equal("daily", entry.DatasetKind)
		suite.Len(entry.Instruments, 1)
		suite.False(entry.CreatedAt.IsZero())
		suite.False(entry.ExpiresAt.IsZero())
	}
}

func (suite *CacheTestSuite) TestIndexFileIsValidJSON() {
	suite.cache.Put(suite.key("2330"), suite.table("2330", 5), time.Hour)

	data, err := os.ReadFile(filepath.Join(suite.dir, metadataFileName))
	suite.Require().NoError(err)

	var entries []EntryInfo
	suite.Require().NoError(json.Unmarshal(data, &entries))
	suite.Len(entries, 1)
}
