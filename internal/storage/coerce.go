package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
)

// NullSentinel is the literal the IMDb dumps use for SQL NULL. It is
// distinct from the empty string, which is kept as an empty string.
const NullSentinel = `\N`

// CoerceError reports a raw value that cannot be converted to a column's
// declared type. Coerce errors are fatal at row scope: callers re-raise
// them with the source file and row number attached.
type CoerceError struct {
	Column   string
	RawValue string
	Reason   string
}

func (e *CoerceError) Error() string {
	return fmt.Sprintf("value for column %q %s: %q", e.Column, e.Reason, e.RawValue)
}

// Coercer converts raw TSV string values into typed values driven by the
// column descriptors. It counts the recovered null-sentinel violations so
// callers (and tests) can observe them.
type Coercer struct {
	Logger *slog.Logger

	// NullWarningCount is the number of times the null sentinel appeared in
	// a non-nullable column and a typed zero value was substituted.
	NullWarningCount int
}

// RowValues converts one raw row into typed values ordered like
// table.DataColumns(). Nullable columns holding the null sentinel become
// nil; non-nullable ones get the type's zero value plus a warning.
func (c *Coercer) RowValues(table *Table, raw map[string]string) ([]any, error) {
	columns := table.DataColumns()
	values := make([]any, len(columns))
	for i, column := range columns {
		value, err := c.coerce(table, &column, raw)
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	return values, nil
}

func (c *Coercer) coerce(table *Table, column *Column, raw map[string]string) (any, error) {
	rawValue, ok := raw[column.Name]
	if !ok {
		return nil, &CoerceError{Column: column.Name, Reason: "is missing from row", RawValue: ""}
	}
	if rawValue == NullSentinel {
		if column.Nullable {
			return nil, nil
		}
		value := column.Type.zeroValue()
		c.NullWarningCount++
		c.logger().Warn("column should not be null, substituting zero value",
			"table", table.Name, "column", column.Name, "type", column.Type.String(), "value", value)
		return value, nil
	}
	switch column.Type {
	case TypeBool:
		switch rawValue {
		case "1":
			return true, nil
		case "0":
			return false, nil
		default:
			return nil, &CoerceError{Column: column.Name, Reason: "must be a boolean", RawValue: rawValue}
		}
	case TypeInt:
		value, err := strconv.Atoi(rawValue)
		if err != nil {
			return nil, &CoerceError{Column: column.Name, Reason: "must be an integer", RawValue: rawValue}
		}
		return value, nil
	case TypeFloat:
		value, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return nil, &CoerceError{Column: column.Name, Reason: "must be a float", RawValue: rawValue}
		}
		return value, nil
	case TypeString:
		if column.EnforceLength && column.Length > 0 && len(rawValue) > column.Length {
			return nil, &CoerceError{
				Column:   column.Name,
				Reason:   fmt.Sprintf("must be at most %d characters but has %d", column.Length, len(rawValue)),
				RawValue: rawValue,
			}
		}
		if column.JSONArray {
			var entries []string
			if err := json.Unmarshal([]byte(rawValue), &entries); err != nil {
				return nil, &CoerceError{Column: column.Name, Reason: "must be a JSON array of strings", RawValue: rawValue}
			}
		}
		return rawValue, nil
	default:
		return nil, &CoerceError{Column: column.Name, Reason: "has unknown logical type", RawValue: rawValue}
	}
}

func (t ColumnType) zeroValue() any {
	switch t {
	case TypeBool:
		return false
	case TypeInt:
		return 0
	case TypeFloat:
		return 0.0
	default:
		return ""
	}
}

func (c *Coercer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
