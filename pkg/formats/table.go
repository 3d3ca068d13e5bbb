// Package formats holds the in-memory table the report works on and its
// CSV and parquet encodings.
package formats

import (
	"fmt"
	"strings"
)

// Format names a file format of stored tables.
type Format string

const (
	// CSV is comma (or configured separator) delimited text with a header row
	CSV Format = "csv"
	// Parquet is Apache Parquet, snappy compressed
	Parquet Format = "parquet"
)

// ParseFormat validates a configured format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case CSV, Parquet:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q, expected csv or parquet", name)
	}
}

// ContentType returns the MIME type used when storing the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case Parquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// ColumnType is the type of a table column.
type ColumnType int

const (
	// String columns hold string values
	String ColumnType = iota
	// Float64 columns hold float64 values
	Float64
)

func (t ColumnType) String() string {
	if t == Float64 {
		return "float64"
	}
	return "string"
}

// Column describes one column of a Table.
type Column struct {
	Name string
	Type ColumnType
}

// Table is a small column-typed row store. A cell is a string or a float64
// depending on its column type, or nil for a missing value.
type Table struct {
	Columns []Column
	Rows    [][]interface{}
}

// NewTable returns an empty table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{Columns: columns}
}

// StringColumns builds String columns from names.
func StringColumns(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: String}
	}
	return cols
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Append adds a row after checking its width and cell types.
func (t *Table) Append(row ...interface{}) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), len(t.Columns))
	}
	for i, v := range row {
		if v == nil {
			continue
		}
		switch t.Columns[i].Type {
		case String:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("column %s expects string, got %T", t.Columns[i].Name, v)
			}
		case Float64:
			if _, ok := v.(float64); !ok {
				return fmt.Errorf("column %s expects float64, got %T", t.Columns[i].Name, v)
			}
		}
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Concat appends the rows of other, which must have the same column names.
func (t *Table) Concat(other *Table) error {
	if other == nil || len(other.Columns) == 0 {
		return nil
	}
	if len(t.Columns) == 0 {
		t.Columns = append([]Column(nil), other.Columns...)
	}
	if strings.Join(t.Names(), "\x00") != strings.Join(other.Names(), "\x00") {
		return fmt.Errorf("cannot concatenate tables with columns %v and %v", t.Names(), other.Names())
	}
	t.Rows = append(t.Rows, other.Rows...)
	return nil
}

// Select returns a table holding only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	idx := make([]int, len(names))
	cols := make([]Column, len(names))
	for i, n := range names {
		j := t.Index(n)
		if j < 0 {
			return nil, fmt.Errorf("column %q not found in %v", n, t.Names())
		}
		idx[i] = j
		cols[i] = t.Columns[j]
	}

	out := &Table{Columns: cols, Rows: make([][]interface{}, 0, len(t.Rows))}
	for _, row := range t.Rows {
		r := make([]interface{}, len(idx))
		for i, j := range idx {
			r[i] = row[j]
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// Encode writes the table in format f.
func (t *Table) Encode(f Format, opts ...Option) ([]byte, error) {
	switch f {
	case CSV:
		return EncodeCSV(t, opts...)
	case Parquet:
		return EncodeParquet(t)
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
}
