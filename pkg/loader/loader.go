// Package loader creates Postgres tables from a schema file and fills them
// from CSV.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/sqlviz/pkg/logger"
)

const defaultBatchSize = 1000

type Config struct {
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	BatchSize int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Pool == nil {
		return fmt.Errorf("pool is required")
	}
	if cfg.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return nil
}

type Loader struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate loader config: %w", err)
	}
	return &Loader{log: cfg.Logger, cfg: cfg}, nil
}

// Request describes one CSV load. Table may be schema-qualified.
type Request struct {
	Table    string
	CSV      io.Reader
	Fields   []Field
	Truncate bool
}

// LoadFiles reads the schema and CSV files and loads them into table.
func (l *Loader) LoadFiles(ctx context.Context, table, csvPath, schemaPath string, truncate bool) (int64, error) {
	fields, err := ReadSchemaFile(schemaPath)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, Request{Table: table, CSV: f, Fields: fields, Truncate: truncate})
}

// Load creates the table if needed, optionally truncates it and inserts
// every CSV row in one transaction. Empty cells become NULL. It returns the
// number of rows inserted.
func (l *Loader) Load(ctx context.Context, req Request) (int64, error) {
	if len(req.Fields) == 0 {
		return 0, fmt.Errorf("%w: no columns", ErrSchemaInvalid)
	}
	ident, err := tableIdentifier(req.Table)
	if err != nil {
		return 0, err
	}

	reader := csv.NewReader(req.CSV)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read csv header: %w", err)
	}
	headers := slices.Clone(header)
	headers[0] = strings.TrimPrefix(headers[0], "﻿")

	tx, err := l.cfg.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			l.log.Warn("loader: rollback failed", "error", rbErr)
		}
	}()

	create := CreateTableSQL(ident, req.Fields)
	l.log.Debug("loader: creating table", "sql", create)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}
	if req.Truncate {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+ident.Sanitize()); err != nil {
			return 0, fmt.Errorf("failed to truncate table: %w", err)
		}
	}

	insert := InsertSQL(ident, headers, req.Fields)
	var rows int64
	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert rows: %w", err)
		}
		batch = &pgx.Batch{}
		return nil
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read csv row %d: %w", rows+2, err)
		}
		args := make([]any, 0, len(record))
		for _, v := range record {
			if v == "" {
				args = append(args, nil)
			} else {
				args = append(args, v)
			}
		}
		batch.Queue(insert, args...)
		rows++
		if batch.Len() >= l.cfg.BatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	l.log.Info("loader: table loaded", "table", req.Table, "rows", rows, "truncated", req.Truncate)
	return rows, nil
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS with quoted identifiers.
func CreateTableSQL(table pgx.Identifier, fields []Field) string {
	columns := make([]string, len(fields))
	for i, f := range fields {
		col := pgx.Identifier{f.Name}.Sanitize() + " " + PostgresType(f.Type)
		if f.Required() {
			col += " NOT NULL"
		}
		columns[i] = col
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Sanitize(), strings.Join(columns, ", "))
}

// InsertSQL renders a parameterized INSERT for the given CSV headers. Values
// are bound as text and cast to the column type declared in fields.
func InsertSQL(table pgx.Identifier, headers []string, fields []Field) string {
	types := make(map[string]string, len(fields))
	for _, f := range fields {
		types[f.Name] = PostgresType(f.Type)
	}
	columns := make([]string, len(headers))
	placeholders := make([]string, len(headers))
	for i, h := range headers {
		typ, ok := types[h]
		if !ok {
			typ = "TEXT"
		}
		columns[i] = pgx.Identifier{h}.Sanitize()
		placeholders[i] = fmt.Sprintf("CAST($%d::text AS %s)", i+1, typ)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table.Sanitize(), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// tableIdentifier splits an optionally schema-qualified table name.
func tableIdentifier(table string) (pgx.Identifier, error) {
	parts := strings.Split(strings.TrimSpace(table), ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return pgx.Identifier(parts), nil
}
