package querier

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/malbeclabs/sqlviz/pkg/frame"
)

// ClickHouse runs queries over the native protocol. Sessions are readonly=2
// so queries may adjust settings but never write.
type ClickHouse struct {
	log  *slog.Logger
	cfg  Config
	conn driver.Conn
}

func NewClickHouse(ctx context.Context, cfg Config) (*ClickHouse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}

	options, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clickhouse dsn: %w", err)
	}
	if options.Settings == nil {
		options.Settings = clickhouse.Settings{}
	}
	options.Settings["max_execution_time"] = int(cfg.QueryTimeout.Seconds())
	options.Settings["readonly"] = 2
	if options.DialTimeout == 0 {
		options.DialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	cfg.Logger.Info("querier: clickhouse connected", "addr", options.Addr, "database", options.Auth.Database)
	return &ClickHouse{log: cfg.Logger, cfg: cfg, conn: conn}, nil
}

func (c *ClickHouse) Driver() Driver {
	return DriverClickHouse
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

func (c *ClickHouse) Explain(ctx context.Context, sql string) (err error) {
	defer func() { observe(DriverClickHouse, err) }()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	rows, err := c.conn.Query(ctx, explainSQL(sql))
	if err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return rows.Err()
}

func (c *ClickHouse) Query(ctx context.Context, sql string) (f *frame.Frame, err error) {
	defer func() { observe(DriverClickHouse, err) }()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	colTypes := rows.ColumnTypes()
	columns := make([]frame.Column, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = frame.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	result := [][]any{}
	truncated := false
	for rows.Next() {
		if len(result) >= c.cfg.RowLimit {
			truncated = true
			break
		}
		// The native driver needs typed destinations.
		dest := make([]any, len(colTypes))
		for i, ct := range colTypes {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		values := make([]any, len(dest))
		for i, d := range dest {
			values[i] = normalizeClickHouseValue(reflect.ValueOf(d).Elem())
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	f = frame.New(columns, result)
	f.Truncated = truncated
	return f, nil
}

// normalizeClickHouseValue dereferences Nullable columns, which scan into
// pointer types.
func normalizeClickHouseValue(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return normalizeValue(v.Interface())
}
