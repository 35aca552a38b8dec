// Package frame holds the tabular result of a query: named, typed columns
// and positional rows. It is the only input visualization code receives.
package frame

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const maxValueChars = 100

// Column describes a single result column. Type is the database type name
// when the backend reports one, otherwise it is inferred from the values.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Frame is a row-major table.
type Frame struct {
	Columns   []Column `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// New builds a frame and fills in missing column types from the first
// non-nil value of each column.
func New(columns []Column, rows [][]any) *Frame {
	f := &Frame{Columns: columns, Rows: rows}
	if f.Rows == nil {
		f.Rows = [][]any{}
	}
	for i := range f.Columns {
		if f.Columns[i].Type != "" {
			continue
		}
		f.Columns[i].Type = "unknown"
		for _, row := range f.Rows {
			if i < len(row) && row[i] != nil {
				f.Columns[i].Type = inferType(row[i])
				break
			}
		}
	}
	return f
}

// Empty returns a frame with no columns and no rows.
func Empty() *Frame {
	return &Frame{Columns: []Column{}, Rows: [][]any{}}
}

func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

func (f *Frame) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	if f == nil {
		return -1
	}
	for i, c := range f.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (f *Frame) HasColumn(name string) bool {
	return f.ColumnIndex(name) >= 0
}

// Value returns the cell at row for the named column, or nil when either is
// out of range.
func (f *Frame) Value(row int, name string) any {
	idx := f.ColumnIndex(name)
	if idx < 0 || row < 0 || row >= f.Len() || idx >= len(f.Rows[row]) {
		return nil
	}
	return f.Rows[row][idx]
}

// Column returns a copy of the named column's values.
func (f *Frame) Column(name string) ([]any, error) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found (available: %s)", name, strings.Join(f.Names(), ", "))
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// Floats returns the named column converted to float64. Nil cells become 0.
func (f *Frame) Floats(name string) ([]float64, error) {
	values, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		n, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("column %q row %d: %v (%T) is not numeric", name, i, v, v)
		}
		out[i] = n
	}
	return out, nil
}

// Strings returns the named column formatted as display strings.
func (f *Frame) Strings(name string) ([]string, error) {
	values, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = FormatValue(v)
	}
	return out, nil
}

// Head returns a frame holding at most the first n rows.
func (f *Frame) Head(n int) *Frame {
	if f == nil {
		return Empty()
	}
	if n < 0 {
		n = 0
	}
	if n > len(f.Rows) {
		n = len(f.Rows)
	}
	rows := make([][]any, n)
	copy(rows, f.Rows[:n])
	cols := make([]Column, len(f.Columns))
	copy(cols, f.Columns)
	return &Frame{Columns: cols, Rows: rows}
}

// Clone returns a deep copy of the frame. Byte slice cells are copied too,
// so nothing written through the clone reaches f.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return Empty()
	}
	cols := make([]Column, len(f.Columns))
	copy(cols, f.Columns)
	rows := make([][]any, len(f.Rows))
	for i, row := range f.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			if b, ok := v.([]byte); ok {
				v = append([]byte(nil), b...)
			}
			out[j] = v
		}
		rows[i] = out
	}
	return &Frame{Columns: cols, Rows: rows, Truncated: f.Truncated}
}

// Select returns a frame restricted to the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	idxs := make([]int, len(names))
	cols := make([]Column, len(names))
	for i, name := range names {
		idx := f.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("column %q not found (available: %s)", name, strings.Join(f.Names(), ", "))
		}
		idxs[i] = idx
		cols[i] = f.Columns[idx]
	}
	rows := make([][]any, len(f.Rows))
	for r, row := range f.Rows {
		out := make([]any, len(idxs))
		for i, idx := range idxs {
			if idx < len(row) {
				out[i] = row[idx]
			}
		}
		rows[r] = out
	}
	return &Frame{Columns: cols, Rows: rows}, nil
}

// Records returns the rows keyed by column name.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, 0, f.Len())
	for _, row := range f.Rows {
		rec := make(map[string]any, len(f.Columns))
		for i, c := range f.Columns {
			if i < len(row) {
				rec[c.Name] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Structure describes the columns and their types, one per line.
func (f *Frame) Structure() string {
	if f == nil || len(f.Columns) == 0 {
		return "(no columns)"
	}
	width := 0
	for _, c := range f.Columns {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}
	var sb strings.Builder
	for _, c := range f.Columns {
		fmt.Fprintf(&sb, "%-*s  %s\n", width, c.Name, c.Type)
	}
	fmt.Fprintf(&sb, "rows: %d", f.Len())
	if f.Truncated {
		sb.WriteString(" (truncated)")
	}
	return sb.String()
}

// Sample renders the first n rows as a pipe-separated table.
func (f *Frame) Sample(n int) string {
	if f.Len() == 0 {
		return "(no rows)"
	}
	head := f.Head(n)
	var sb strings.Builder
	sb.WriteString(strings.Join(head.Names(), " | "))
	sb.WriteString("\n")
	for _, row := range head.Rows {
		values := make([]string, len(head.Columns))
		for i := range head.Columns {
			if i < len(row) {
				values[i] = FormatValue(row[i])
			}
		}
		sb.WriteString(strings.Join(values, " | "))
		sb.WriteString("\n")
	}
	if f.Len() > n {
		fmt.Fprintf(&sb, "... and %d more rows\n", f.Len()-n)
	}
	return sb.String()
}

// FormatValue renders a cell for prompts and terminal output.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		if val == float32(int32(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []byte:
		return string(val)
	default:
		s := fmt.Sprintf("%v", v)
		if utf8.RuneCountInString(s) > maxValueChars {
			s = string([]rune(s)[:maxValueChars-3]) + "..."
		}
		return s
	}
}

// ToFloat converts numeric cells, including numeric strings and big numbers,
// to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case *big.Float:
		f, _ := n.Float64()
		return f, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}

func inferType(v any) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, *big.Int:
		return "integer"
	case float32, float64, *big.Float:
		return "float"
	case bool:
		return "boolean"
	case time.Time:
		return "timestamp"
	case string, []byte:
		return "text"
	}
	return fmt.Sprintf("%T", v)
}
