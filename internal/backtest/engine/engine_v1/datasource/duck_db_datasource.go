package datasource

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

// DuckDBDataSource serves bar tables out of an embedded DuckDB instance.
// CSV and Parquet files are exposed through a `bars` view, so loading a new
// dataset is a view swap rather than a copy.
type DuckDBDataSource struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBDataSource opens a DuckDB database at the given path. Use the
// empty string for an in-memory database. This is distinct from Initialize(),
// which loads bar data into the database.
func NewDuckDBDataSource(path string, log *logger.Logger) (*DuckDBDataSource, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataLoadFailed, "failed to open duckdb", err)
	}

	return &DuckDBDataSource{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize implements DataSource. The source file must carry at least the
// instrument_id, date, open, high, low, close columns; extra columns pass
// through to the bars view untouched.
func (d *DuckDBDataSource) Initialize(path string) error {
	d.logger.Debug("initializing duckdb data source", zap.String("path", path))

	if _, err := d.db.Exec(`DROP VIEW IF EXISTS bars;`); err != nil {
		return errors.Wrap(errors.ErrCodeDataLoadFailed, "failed to drop existing bars view", err)
	}

	reader := "read_csv_auto"
	if strings.HasSuffix(path, ".parquet") {
		reader = "read_parquet"
	}

	// Squirrel doesn't support CREATE VIEW, use raw SQL.
	query := fmt.Sprintf(`CREATE VIEW bars AS SELECT * FROM %s('%s');`, reader, path)

	if _, err := d.db.Exec(query); err != nil {
		return errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "failed to load bar data from %s", path)
	}

	return nil
}

// requiredBarColumns must all be present in the bars view. Volume is
// optional; any other column rides along in PriceBar.Extra.
var requiredBarColumns = []string{"instrument_id", "date", "open", "high", "low", "close"}

// GetBars implements DataSource. The query selects every column of the bars
// view so that caller-supplied columns survive the round trip into
// PriceBar.Extra.
func (d *DuckDBDataSource) GetBars(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (types.BarTable, error) {
	query := d.sq.
		Select("*").
		From("bars").
		Where(squirrel.Eq{"instrument_id": instrumentID}).
		OrderBy("date ASC")

	if start.IsSome() {
		query = query.Where(squirrel.GtOrEq{"date": start.Unwrap()})
	}

	if end.IsSome() {
		query = query.Where(squirrel.LtOrEq{"date": end.Unwrap()})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build bars query", err)
	}

	rows, err := d.db.Query(sqlStr, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to query bars for %s", instrumentID)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read bar columns", err)
	}

	seen := make(map[string]bool, len(columns))
	for _, column := range columns {
		seen[column] = true
	}

	for _, required := range requiredBarColumns {
		if !seen[required] {
			return nil, errors.Newf(errors.ErrCodeMissingColumn, "bar data is missing required column %s", required)
		}
	}

	var table types.BarTable

	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to scan bar for %s", instrumentID)
		}

		bar, err := barFromRow(columns, values)
		if err != nil {
			return nil, err
		}

		table = append(table, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to read bars for %s", instrumentID)
	}

	if len(table) == 0 {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "no bars for instrument %s", instrumentID)
	}

	return table, nil
}

// barFromRow maps one scanned row onto a PriceBar. Known columns fill the
// named fields; other numeric columns land in Extra, non-numeric extras are
// skipped.
func barFromRow(columns []string, values []interface{}) (types.PriceBar, error) {
	var bar types.PriceBar

	for i, column := range columns {
		value := values[i]

		switch column {
		case "instrument_id":
			id, err := asString(value)
			if err != nil {
				return bar, errors.Wrap(errors.ErrCodeInvalidBarField, "invalid instrument_id value", err)
			}
			bar.InstrumentID = id
		case "date":
			date, err := asTime(value)
			if err != nil {
				return bar, errors.Wrap(errors.ErrCodeInvalidBarField, "invalid date value", err)
			}
			bar.Date = date
		case "open", "high", "low", "close", "volume":
			number, err := asFloat(value)
			if err != nil {
				return bar, errors.Wrapf(errors.ErrCodeInvalidBarField, err, "invalid %s value", column)
			}

			switch column {
			case "open":
				bar.Open = number
			case "high":
				bar.High = number
			case "low":
				bar.Low = number
			case "close":
				bar.Close = number
			case "volume":
				bar.Volume = number
			}
		default:
			number, err := asFloat(value)
			if err != nil {
				continue
			}

			if bar.Extra == nil {
				bar.Extra = make(map[string]float64)
			}

			bar.Extra[column] = number
		}
	}

	return bar, nil
}

func asFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", value, value)
	}
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("value %v (%T) is not a string", value, value)
	}
}

func asTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			return parsed, nil
		}
		return time.Parse(time.RFC3339, v)
	default:
		return time.Time{}, fmt.Errorf("value %v (%T) is not a timestamp", value, value)
	}
}

// GetAllInstruments implements DataSource.
func (d *DuckDBDataSource) GetAllInstruments() ([]string, error) {
	sqlStr, args, err := d.sq.
		Select("DISTINCT instrument_id").
		From("bars").
		OrderBy("instrument_id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build instruments query", err)
	}

	rows, err := d.db.Query(sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query instruments", err)
	}
	defer rows.Close()

	var instruments []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan instrument id", err)
		}

		instruments = append(instruments, id)
	}

	return instruments, rows.Err()
}

// Count implements DataSource.
func (d *DuckDBDataSource) Count(instrumentID string, start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	query := d.sq.
		Select("COUNT(*)").
		From("bars").
		Where(squirrel.Eq{"instrument_id": instrumentID})

	if start.IsSome() {
		query = query.Where(squirrel.GtOrEq{"date": start.Unwrap()})
	}

	if end.IsSome() {
		query = query.Where(squirrel.LtOrEq{"date": end.Unwrap()})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := d.db.QueryRow(sqlStr, args...).Scan(&count); err != nil {
		return 0, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to count bars for %s", instrumentID)
	}

	return count, nil
}

// ExecuteSQL implements DataSource.
func (d *DuckDBDataSource) ExecuteSQL(query string, params ...interface{}) ([]SQLResult, error) {
	rows, err := d.db.Query(query, params...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to execute query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read result columns", err)
	}

	var results []SQLResult

	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan result row", err)
		}

		row := SQLResult{Values: make(map[string]interface{}, len(columns))}
		for i, column := range columns {
			row.Values[column] = values[i]
		}

		results = append(results, row)
	}

	return results, rows.Err()
}

// Close implements DataSource.
func (d *DuckDBDataSource) Close() error {
	return d.db.Close()
}
