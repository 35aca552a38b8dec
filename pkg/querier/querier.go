// Package querier validates and executes SQL against the configured backend
// and returns results as frames.
package querier

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/metrics"
)

type Driver string

const (
	DriverPostgres   Driver = "postgres"
	DriverDuckDB     Driver = "duckdb"
	DriverClickHouse Driver = "clickhouse"
)

const (
	defaultRowLimit     = 10000
	defaultQueryTimeout = 30 * time.Second
)

// Querier validates and runs queries. Every call acquires its own connection
// and releases it before returning.
type Querier interface {
	// Explain checks that sql parses and plans without running it.
	Explain(ctx context.Context, sql string) error
	// Query runs sql and returns at most the configured row limit.
	Query(ctx context.Context, sql string) (*frame.Frame, error)
	Driver() Driver
	Close() error
}

type Config struct {
	Logger       *slog.Logger
	Driver       Driver
	DSN          string
	RowLimit     int
	QueryTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	switch cfg.Driver {
	case DriverPostgres, DriverClickHouse:
		if cfg.DSN == "" {
			return fmt.Errorf("dsn is required for driver %q", cfg.Driver)
		}
	case DriverDuckDB:
		// An empty DSN opens an in-memory database.
	case "":
		return fmt.Errorf("driver is required")
	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.RowLimit < 0 {
		return fmt.Errorf("row limit must not be negative")
	}
	if cfg.RowLimit == 0 {
		cfg.RowLimit = defaultRowLimit
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	return nil
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Querier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgres(ctx, cfg)
	case DriverDuckDB:
		return NewDuckDB(ctx, cfg)
	case DriverClickHouse:
		return NewClickHouse(ctx, cfg)
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
}

func explainSQL(sql string) string {
	return "EXPLAIN " + sql
}

func observe(driver Driver, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.QueriesTotal.WithLabelValues(string(driver), status).Inc()
}

// normalizeValue converts driver-specific cell types into the plain Go
// values frames expect.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case *big.Int:
		if val == nil {
			return nil
		}
		if val.IsInt64() {
			return val.Int64()
		}
		f, _ := new(big.Float).SetInt(val).Float64()
		return f
	case interface{ Float64() float64 }:
		return val.Float64()
	case interface{ InexactFloat64() float64 }:
		return val.InexactFloat64()
	}
	return v
}
