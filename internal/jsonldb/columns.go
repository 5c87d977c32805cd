// Handles the schema header and column type inference.

package jsonldb

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var errSchemaVersionRequired = errors.New("schema version is required")

// currentVersion is the current version of the JSONL table format.
const currentVersion = "1.0"

// ColumnType represents the type of a table column.
type ColumnType string

const (
	// ColumnTypeText stores text values.
	ColumnTypeText ColumnType = "text"
	// ColumnTypeNumber stores numeric values (integer or float).
	ColumnTypeNumber ColumnType = "number"
	// ColumnTypeBool stores boolean values.
	ColumnTypeBool ColumnType = "bool"
	// ColumnTypeDate stores RFC3339 timestamps.
	ColumnTypeDate ColumnType = "date"
	// ColumnTypeJSONB stores nested objects and arrays, and columns whose
	// values disagree on their type.
	ColumnTypeJSONB ColumnType = "jsonb"
)

// Column describes one record field of a table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// schemaHeader is the first row of a JSONL data file.
type schemaHeader struct {
	Version string   `json:"version"`
	Columns []Column `json:"columns"`
}

// Validate checks that the schema header is well-formed.
func (h *schemaHeader) Validate() error {
	if h.Version == "" {
		return errSchemaVersionRequired
	}
	for i, col := range h.Columns {
		if col.Name == "" {
			return fmt.Errorf("column %d: name is required", i)
		}
		if col.Type == "" {
			return fmt.Errorf("column %d: type is required", i)
		}
	}
	return nil
}

// inferColumns returns the columns of rows sorted by name. Nil values don't
// contribute to the type; a column with only nil values is text.
func inferColumns(rows []any) []Column {
	types := map[string]ColumnType{}
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range m {
			prev, seen := types[k]
			if v == nil {
				if !seen {
					types[k] = ""
				}
				continue
			}
			t := inferTypeFromValue(v)
			switch {
			case !seen || prev == "":
				types[k] = t
			case prev != t:
				types[k] = ColumnTypeJSONB
			}
		}
	}
	cols := make([]Column, 0, len(types))
	for k, t := range types {
		if t == "" {
			t = ColumnTypeText
		}
		cols = append(cols, Column{Name: k, Type: t})
	}
	slices.SortFunc(cols, func(a, b Column) int { return strings.Compare(a.Name, b.Name) })
	return cols
}

// inferTypeFromValue maps a decoded value to a column type.
func inferTypeFromValue(v any) ColumnType {
	switch v.(type) {
	case nil, string:
		return ColumnTypeText
	case bool:
		return ColumnTypeBool
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return ColumnTypeNumber
	case time.Time, *time.Time:
		return ColumnTypeDate
	default:
		return ColumnTypeJSONB
	}
}
