// Package schema describes the tables of the configured database as prompt
// text.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/sqlviz/pkg/frame"
	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/querier"
)

// Catalog returns a textual description of the available tables.
type Catalog interface {
	Describe(ctx context.Context) (string, error)
}

const informationSchemaQuery = `
SELECT c.table_schema, c.table_name, c.column_name, c.data_type
FROM information_schema.tables t
JOIN information_schema.columns c
  ON c.table_schema = t.table_schema
 AND c.table_name = t.table_name
WHERE t.table_type = 'BASE TABLE'
  AND t.table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

const clickhouseQuery = `
SELECT database, table, name, type
FROM system.columns
WHERE database = currentDatabase()
ORDER BY database, table, position`

// Column is one row of the catalog listing.
type Column struct {
	Schema string
	Table  string
	Name   string
	Type   string
}

type Config struct {
	Logger  *slog.Logger
	Querier querier.Querier
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Querier == nil {
		return fmt.Errorf("querier is required")
	}
	return nil
}

// QuerierCatalog reads information_schema (or system.columns on ClickHouse)
// through a Querier.
type QuerierCatalog struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*QuerierCatalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate schema config: %w", err)
	}
	return &QuerierCatalog{log: cfg.Logger, cfg: cfg}, nil
}

func (c *QuerierCatalog) Describe(ctx context.Context) (string, error) {
	columns, err := c.Columns(ctx)
	if err != nil {
		return "", err
	}
	c.log.Debug("schema: described", "columns", len(columns), "tables", len(Tables(columns)))
	return Format(columns), nil
}

// Columns lists every column of every user table in catalog order.
func (c *QuerierCatalog) Columns(ctx context.Context) ([]Column, error) {
	query := informationSchemaQuery
	if c.cfg.Querier.Driver() == querier.DriverClickHouse {
		query = clickhouseQuery
	}
	f, err := c.cfg.Querier.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	return columnsFromFrame(f)
}

func columnsFromFrame(f *frame.Frame) ([]Column, error) {
	if len(f.Columns) != 4 {
		return nil, fmt.Errorf("unexpected catalog result with %d columns", len(f.Columns))
	}
	columns := make([]Column, 0, f.Len())
	for _, row := range f.Rows {
		columns = append(columns, Column{
			Schema: frame.FormatValue(row[0]),
			Table:  frame.FormatValue(row[1]),
			Name:   frame.FormatValue(row[2]),
			Type:   frame.FormatValue(row[3]),
		})
	}
	return columns, nil
}

// Tables returns the distinct schema-qualified table names, in order.
func Tables(columns []Column) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, col := range columns {
		name := col.Schema + "." + col.Table
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}

// Format renders one line per table:
//
//	schema.table: col (type), col2 (type2)
//
// Columns must already be grouped by table.
func Format(columns []Column) string {
	var sb strings.Builder
	current := ""
	for _, col := range columns {
		name := col.Schema + "." + col.Table
		if name != current {
			if current != "" {
				sb.WriteString("\n")
			}
			current = name
			sb.WriteString(name + ": ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(col.Name + " (" + col.Type + ")")
	}
	return sb.String()
}

// Static is a Catalog with a fixed description.
type Static string

func (s Static) Describe(context.Context) (string, error) {
	return string(s), nil
}
