package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

var ErrSchemaInvalid = errors.New("invalid schema file")

// Field is one column of a schema file, in the BigQuery-style layout
// [{"name": ..., "type": ..., "mode": ...}].
type Field struct {
	Name        string `json:"name" jsonschema:"column name"`
	Type        string `json:"type" jsonschema:"STRING, INTEGER, FLOAT, BOOLEAN or DATETIME; anything else loads as text"`
	Mode        string `json:"mode,omitempty" jsonschema:"NULLABLE (default), REQUIRED or REPEATED"`
	Description string `json:"description,omitempty" jsonschema:"free-form column description"`
}

// Required reports whether the column is declared NOT NULL.
func (f Field) Required() bool {
	return strings.EqualFold(f.Mode, "REQUIRED")
}

var fieldsSchema = mustResolveFieldsSchema()

func mustResolveFieldsSchema() *jsonschema.Resolved {
	schema, err := jsonschema.For[[]Field](nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create schema file schema: %v", err))
	}
	minItems, minLength := 1, 1
	schema.MinItems = &minItems
	item := schema.Items
	item.Properties["name"].MinLength = &minLength
	item.Properties["type"].MinLength = &minLength
	item.Properties["mode"].Enum = []any{"NULLABLE", "REQUIRED", "REPEATED", "nullable", "required", "repeated"}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve schema file schema: %v", err))
	}
	return resolved
}

// ParseSchema decodes and validates a schema file.
func ParseSchema(r io.Reader) ([]Field, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaInvalid, err)
	}
	if err := fieldsSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaInvalid, err)
	}

	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaInvalid, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrSchemaInvalid)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		key := strings.ToLower(f.Name)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrSchemaInvalid, f.Name)
		}
		seen[key] = true
	}
	return fields, nil
}

func ReadSchemaFile(path string) ([]Field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()
	fields, err := ParseSchema(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fields, nil
}

// PostgresType maps a schema file type to a Postgres column type. Unknown
// types load as TEXT.
func PostgresType(typ string) string {
	switch strings.ToUpper(strings.TrimSpace(typ)) {
	case "STRING":
		return "TEXT"
	case "INTEGER":
		return "INTEGER"
	case "FLOAT":
		return "REAL"
	case "BOOLEAN":
		return "BOOLEAN"
	case "DATETIME":
		return "TIMESTAMP"
	}
	return "TEXT"
}
