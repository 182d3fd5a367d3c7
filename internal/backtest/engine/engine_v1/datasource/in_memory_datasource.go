package datasource

import (
	"sort"
	"time"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stocksim/internal/types"
)

// InMemoryDataSource serves bar tables straight from memory. Used by tests
// and by callers that already hold their data.
type InMemoryDataSource struct {
	tables map[string]types.BarTable
}

// NewInMemoryDataSource creates a source over the given tables.
func NewInMemoryDataSource(tables map[string]types.BarTable) *InMemoryDataSource {
	copied := make(map[string]types.BarTable, len(tables))
	for id, table := range tables {
		copied[id] = table
	}

	return &InMemoryDataSource{tables: copied}
}

// Initialize implements DataSource. No-op: the data is supplied at
// construction.
func (d *InMemoryDataSource) Initialize(_ string) error {
	return nil
}

// GetBars implements DataSource.
func (d *InMemoryDataSource) GetBars(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (types.BarTable, error) {
	table, ok := d.tables[instrumentID]
	if !ok || len(table) == 0 {
		return nil, errNoBars(instrumentID)
	}

	var out types.BarTable

	for _, bar := range table {
		if start.IsSome() && bar.Date.Before(start.Unwrap()) {
			continue
		}

		if end.IsSome() && bar.Date.After(end.Unwrap()) {
			continue
		}

		out = append(out, bar)
	}

	if len(out) == 0 {
		return nil, errNoBars(instrumentID)
	}

	return out, nil
}

// GetAllInstruments implements DataSource.
func (d *InMemoryDataSource) GetAllInstruments() ([]string, error) {
	instruments := make([]string, 0, len(d.tables))
	for id := range d.tables {
		instruments = append(instruments, id)
	}

	sort.Strings(instruments)

	return instruments, nil
}

// Count implements DataSource.
func (d *InMemoryDataSource) Count(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	count := 0

	for _, bar := range d.tables[instrumentID] {
		if start.IsSome() && bar.Date.Before(start.Unwrap()) {
			continue
		}

		if end.IsSome() && bar.Date.After(end.Unwrap()) {
			continue
		}

		count++
	}

	return count, nil
}

// ExecuteSQL implements DataSource. Not supported for the in-memory source.
func (d *InMemoryDataSource) ExecuteSQL(_ string, _ ...interface{}) ([]SQLResult, error) {
	return nil, errNoSQL()
}

// Close implements DataSource.
func (d *InMemoryDataSource) Close() error {
	return nil
}
