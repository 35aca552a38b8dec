package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Comparison reports how a CSV file and a loaded table differ.
type Comparison struct {
	Table          string   `json:"table"`
	CSVColumns     []string `json:"csv_columns"`
	TableColumns   []string `json:"table_columns"`
	MissingInCSV   []string `json:"missing_in_csv"`
	MissingInTable []string `json:"missing_in_table"`
	CSVRows        int64    `json:"csv_rows"`
	TableRows      int64    `json:"table_rows"`
}

// Match reports whether the columns and row counts agree.
func (c Comparison) Match() bool {
	return len(c.MissingInCSV) == 0 && len(c.MissingInTable) == 0 && c.CSVRows == c.TableRows
}

func (c Comparison) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "table %s: %d csv rows, %d table rows", c.Table, c.CSVRows, c.TableRows)
	if len(c.MissingInCSV) > 0 {
		fmt.Fprintf(&sb, "; missing in csv: %s", strings.Join(c.MissingInCSV, ", "))
	}
	if len(c.MissingInTable) > 0 {
		fmt.Fprintf(&sb, "; missing in table: %s", strings.Join(c.MissingInTable, ", "))
	}
	return sb.String()
}

// Compare checks the CSV columns and row count against table.
func (l *Loader) Compare(ctx context.Context, table string, r io.Reader) (Comparison, error) {
	ident, err := tableIdentifier(table)
	if err != nil {
		return Comparison{}, err
	}
	cmp := Comparison{Table: table}

	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return Comparison{}, fmt.Errorf("failed to read csv header: %w", err)
	}
	cmp.CSVColumns = slices.Clone(header)
	cmp.CSVColumns[0] = strings.TrimPrefix(cmp.CSVColumns[0], "﻿")
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Comparison{}, fmt.Errorf("failed to read csv row %d: %w", cmp.CSVRows+2, err)
		}
		cmp.CSVRows++
	}

	schemaName, tableName := "", ident[len(ident)-1]
	if len(ident) == 2 {
		schemaName = ident[0]
	}
	rows, err := l.cfg.Pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = $1::text AND ($2::text = '' OR table_schema = $2::text)
		ORDER BY ordinal_position`, tableName, schemaName)
	if err != nil {
		return Comparison{}, fmt.Errorf("failed to query columns: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return Comparison{}, fmt.Errorf("failed to scan column: %w", err)
		}
		cmp.TableColumns = append(cmp.TableColumns, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Comparison{}, fmt.Errorf("failed to query columns: %w", err)
	}

	if err := l.cfg.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+ident.Sanitize()).Scan(&cmp.TableRows); err != nil {
		return Comparison{}, fmt.Errorf("failed to count rows: %w", err)
	}

	cmp.MissingInCSV = difference(cmp.TableColumns, cmp.CSVColumns)
	cmp.MissingInTable = difference(cmp.CSVColumns, cmp.TableColumns)
	l.log.Info("loader: compared", "table", table, "match", cmp.Match(), "csv_rows", cmp.CSVRows, "table_rows", cmp.TableRows)
	return cmp, nil
}

// difference returns the items of a not present in b, in a's order.
func difference(a, b []string) []string {
	out := []string{}
	for _, item := range a {
		if !slices.Contains(b, item) {
			out = append(out, item)
		}
	}
	return out
}
