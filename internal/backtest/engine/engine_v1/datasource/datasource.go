package datasource

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stocksim/internal/types"
)

// SQLResult represents a row of data from a SQL query.
type SQLResult struct {
	Values map[string]interface{}
}

// DataSource supplies per-instrument bar tables to the simulation engine.
type DataSource interface {
	// Initialize loads bar data from the given path. CSV and Parquet files
	// are supported; glob patterns load multiple files at once.
	Initialize(path string) error
	// GetBars returns one instrument's bars ascending by date, optionally
	// bounded by the given dates (inclusive).
	GetBars(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (types.BarTable, error)
	// GetAllInstruments returns the distinct instrument ids in the source.
	GetAllInstruments() ([]string, error)
	// Count returns the number of bars stored for one instrument within the
	// same optional date bounds GetBars applies.
	Count(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (int, error)
	// ExecuteSQL executes a raw SQL query and returns the results as SQLResult.
	ExecuteSQL(query string, params ...interface{}) ([]SQLResult, error)
	// Close closes the data source and releases any resources.
	Close() error
}
