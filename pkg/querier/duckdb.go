package querier

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/malbeclabs/sqlviz/pkg/frame"
)

// DuckDB runs queries against an embedded DuckDB database. An empty DSN
// opens an in-memory database.
type DuckDB struct {
	log *slog.Logger
	cfg Config
	db  *sql.DB
}

func NewDuckDB(ctx context.Context, cfg Config) (*DuckDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}

	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	path := cfg.DSN
	if path == "" {
		path = ":memory:"
	}
	cfg.Logger.Info("querier: duckdb opened", "path", path)
	return &DuckDB{log: cfg.Logger, cfg: cfg, db: db}, nil
}

func (d *DuckDB) Driver() Driver {
	return DriverDuckDB
}

// DB exposes the underlying handle, e.g. for seeding test data.
func (d *DuckDB) DB() *sql.DB {
	return d.db
}

func (d *DuckDB) Close() error {
	return d.db.Close()
}

func (d *DuckDB) Explain(ctx context.Context, query string) (err error) {
	defer func() { observe(DriverDuckDB, err) }()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
	defer cancel()

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, explainSQL(query))
	if err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return rows.Err()
}

func (d *DuckDB) Query(ctx context.Context, query string) (f *frame.Frame, err error) {
	defer func() { observe(DriverDuckDB, err) }()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
	defer cancel()

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSQLRows(rows, d.cfg.RowLimit)
}

// scanSQLRows reads database/sql rows into a frame, stopping at limit.
func scanSQLRows(rows *sql.Rows, limit int) (*frame.Frame, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columns := make([]frame.Column, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = frame.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	result := [][]any{}
	truncated := false
	for rows.Next() {
		if len(result) >= limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	f := frame.New(columns, result)
	f.Truncated = truncated
	return f, nil
}
