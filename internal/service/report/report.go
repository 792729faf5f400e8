// Package report holds upstream report calls and column-addressed report tables.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Call is one upstream report request and its raw outcome. Response holds the
// body even when the upstream returned an error status.
type Call struct {
	ReportType string
	Request    any
	Response   []byte
	StatusCode int
	Cost       int
}

// ColumnHeader describes one report column.
type ColumnHeader struct {
	Name       string `json:"name"`
	ColumnType string `json:"columnType"`
	DataType   string `json:"dataType"`
}

// Table is a tabular report addressed by column name, never by position.
type Table struct {
	ColumnHeaders []ColumnHeader `json:"columnHeaders"`
	Rows          [][]any        `json:"rows"`

	index map[string]int
}

// ParseTable decodes a {columnHeaders, rows} body.
func ParseTable(body []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode report table: %w", err)
	}
	if len(t.ColumnHeaders) == 0 {
		return nil, fmt.Errorf("decode report table: no column headers")
	}
	t.buildIndex()
	return &t, nil
}

func (t *Table) buildIndex() {
	t.index = make(map[string]int, len(t.ColumnHeaders))
	for i, h := range t.ColumnHeaders {
		t.index[h.Name] = i
	}
}

// Has reports whether the table carries the named column.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Require returns an error naming the first missing column.
func (t *Table) Require(columns ...string) error {
	for _, c := range columns {
		if !t.Has(c) {
			return fmt.Errorf("report is missing column %q", c)
		}
	}
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

func (t *Table) cell(row int, column string) (any, bool) {
	i, ok := t.index[column]
	if !ok || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return nil, false
	}
	return t.Rows[row][i], true
}

// String returns the named cell as a string.
func (t *Table) String(row int, column string) string {
	v, ok := t.cell(row, column)
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Float returns the named cell as a float and whether it was present and numeric.
func (t *Table) Float(row int, column string) (float64, bool) {
	v, ok := t.cell(row, column)
	if !ok || v == nil {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int64 returns the named cell rounded to an integer.
func (t *Table) Int64(row int, column string) (int64, bool) {
	f, ok := t.Float(row, column)
	if !ok {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// Date returns the named cell parsed as YYYY-MM-DD.
func (t *Table) Date(row int, column string) (time.Time, error) {
	s := t.String(row, column)
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("row %d column %q: %w", row, column, err)
	}
	return d, nil
}

// Int64Ptr is Int64 returning nil when the cell is absent.
func (t *Table) Int64Ptr(row int, column string) *int64 {
	if v, ok := t.Int64(row, column); ok {
		return &v
	}
	return nil
}

// FloatPtr is Float returning nil when the cell is absent.
func (t *Table) FloatPtr(row int, column string) *float64 {
	if v, ok := t.Float(row, column); ok {
		return &v
	}
	return nil
}
