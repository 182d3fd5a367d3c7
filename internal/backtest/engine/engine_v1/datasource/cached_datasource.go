package datasource

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stocksim/internal/backtest/engine/engine_v1/cache"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

// barsDatasetKind tags bar-table payloads in the shared price cache.
const barsDatasetKind = "bars"

// CachedDataSource wraps a DataSource with the two-tier price cache. Reads
// check the cache first; a miss queries the underlying source and writes the
// result through. Cache failures degrade to a plain read, they never fail the
// data request.
type CachedDataSource struct {
	underlying DataSource
	cache      *cache.PriceCache
	ttl        time.Duration
}

// NewCachedDataSource creates a caching wrapper with the given payload TTL.
func NewCachedDataSource(underlying DataSource, priceCache *cache.PriceCache, ttl time.Duration) *CachedDataSource {
	return &CachedDataSource{
		underlying: underlying,
		cache:      priceCache,
		ttl:        ttl,
	}
}

// Initialize implements DataSource.
func (c *CachedDataSource) Initialize(path string) error {
	return c.underlying.Initialize(path)
}

// GetBars implements DataSource with read-through caching.
func (c *CachedDataSource) GetBars(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (types.BarTable, error) {
	key := cache.NewKey(barsDatasetKind, []string{instrumentID},
		start.TakeOr(time.Time{}), end.TakeOr(time.Time{}))

	if hit := c.cache.Get(key); hit.IsSome() {
		return hit.Unwrap(), nil
	}

	table, err := c.underlying.GetBars(instrumentID, start, end)
	if err != nil {
		return nil, err
	}

	c.cache.Put(key, table, c.ttl)

	return table, nil
}

// GetAllInstruments implements DataSource.
func (c *CachedDataSource) GetAllInstruments() ([]string, error) {
	return c.underlying.GetAllInstruments()
}

// Count implements DataSource.
func (c *CachedDataSource) Count(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	return c.underlying.Count(instrumentID, start, end)
}

// ExecuteSQL implements DataSource.
func (c *CachedDataSource) ExecuteSQL(query string, params ...interface{}) ([]SQLResult, error) {
	return c.underlying.ExecuteSQL(query, params...)
}

// Close implements DataSource.
func (c *CachedDataSource) Close() error {
	return c.underlying.Close()
}

func errNoBars(instrumentID string) error {
	return errors.Newf(errors.ErrCodeDataNotFound, "no bars for instrument %s", instrumentID)
}

func errNoSQL() error {
	return errors.New(errors.ErrCodeQueryFailed, "raw SQL is not supported by this data source")
}
