package formats

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// EncodeParquet writes the table as a single-row-group parquet file.
func EncodeParquet(t *Table) ([]byte, error) {
	schema := arrowSchema(t)
	pool := memory.NewGoAllocator()

	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	for _, row := range t.Rows {
		for i, v := range row {
			if err := appendValue(builder.Field(i), v); err != nil {
				return nil, fmt.Errorf("column %s: %w", t.Columns[i].Name, err)
			}
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(pool))

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(schema, &buf, props, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := fw.Write(record); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a parquet file written by EncodeParquet. Columns of
// other physical types are rendered as strings.
func DecodeParquet(ctx context.Context, data []byte) (*Table, error) {
	pool := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(pool),
		pqarrow.ArrowReadProperties{}, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to read Parquet table: %w", err)
	}
	defer tbl.Release()

	out := &Table{Columns: make([]Column, tbl.NumCols())}
	for i, f := range tbl.Schema().Fields() {
		out.Columns[i] = Column{Name: f.Name, Type: String}
		if f.Type.ID() == arrow.FLOAT64 {
			out.Columns[i].Type = Float64
		}
	}

	out.Rows = make([][]interface{}, tbl.NumRows())
	for r := range out.Rows {
		out.Rows[r] = make([]interface{}, tbl.NumCols())
	}

	for c := 0; c < int(tbl.NumCols()); c++ {
		r := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			for j := 0; j < chunk.Len(); j++ {
				if !chunk.IsNull(j) {
					out.Rows[r][c] = cellValue(chunk, j)
				}
				r++
			}
		}
	}
	return out, nil
}

func arrowSchema(t *Table) *arrow.Schema {
	fields := make([]arrow.Field, len(t.Columns))
	for i, c := range t.Columns {
		var dt arrow.DataType = arrow.BinaryTypes.String
		if c.Type == Float64 {
			dt = arrow.PrimitiveTypes.Float64
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func appendValue(builder array.Builder, value interface{}) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.Float64Builder:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", value)
		}
		b.Append(v)
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		b.Append(v)
	default:
		return fmt.Errorf("unsupported builder type: %T", builder)
	}
	return nil
}

func cellValue(arr arrow.Array, i int) interface{} {
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	default:
		return a.ValueStr(i)
	}
}
