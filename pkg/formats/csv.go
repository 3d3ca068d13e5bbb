package formats

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

type options struct {
	separator rune
}

// Option configures the CSV codec.
type Option func(*options)

// WithSeparator sets the CSV field delimiter (default ',').
func WithSeparator(sep rune) Option {
	return func(o *options) {
		if sep != 0 {
			o.separator = sep
		}
	}
}

func newOptions(opts []Option) options {
	o := options{separator: ','}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DecodeCSV reads a CSV document with a header row. Every column is a String
// column and empty cells become nil.
func DecodeCSV(r io.Reader, opts ...Option) (*Table, error) {
	o := newOptions(opts)

	reader := csv.NewReader(r)
	reader.Comma = o.separator
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	t := NewTable(StringColumns(header...)...)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(t.Rows)+2, err)
		}

		row := make([]interface{}, len(record))
		for i, v := range record {
			if v != "" {
				row[i] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// EncodeCSV writes the table with a header row. Floats use the shortest
// representation that round-trips; nil cells are written empty.
func EncodeCSV(t *Table, opts ...Option) ([]byte, error) {
	o := newOptions(opts)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = o.separator

	if err := w.Write(t.Names()); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			record[i] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
