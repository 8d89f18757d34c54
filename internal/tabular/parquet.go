package tabular

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ParquetReader reads parquet files into the tabular model.
type ParquetReader struct{}

// NewParquetReader creates a ParquetReader.
func NewParquetReader() *ParquetReader {
	return &ParquetReader{}
}

// OpenMeta reads file-level metadata without loading row data.
func (r *ParquetReader) OpenMeta(path string) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("read parquet metadata: %w", err)
	}

	return &Meta{
		Path:      path,
		SizeBytes: st.Size(),
		Rows:      pf.NumRows(),
		RowGroups: len(pf.RowGroups()),
		Schema:    schemaFields(pf.Schema()),
	}, nil
}

// Read loads up to limit rows (all rows when limit <= 0).
func (r *ParquetReader) Read(path string, limit int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("read parquet metadata: %w", err)
	}

	tbl := &Table{Schema: schemaFields(pf.Schema())}
	ncols := len(tbl.Schema)

	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				cells := make([]any, ncols)
				for _, v := range row {
					if col := v.Column(); col >= 0 && col < ncols {
						cells[col] = goValue(v)
					}
				}
				tbl.Rows = append(tbl.Rows, cells)
				if limit > 0 && len(tbl.Rows) >= limit {
					rows.Close()
					return tbl, nil
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			if n == 0 {
				break
			}
		}
		rows.Close()
	}

	return tbl, nil
}

// Verify ParquetReader implements Reader at compile time.
var _ Reader = (*ParquetReader)(nil)

// WriteParquet writes a table to a parquet file. Column order follows the
// alphabetical ordering imposed by the dynamic schema, so readers should not
// assume the written file preserves the table's column order.
func WriteParquet(path string, tbl *Table) error {
	group := parquet.Group{}
	for _, f := range tbl.Schema {
		node := leafNode(f.Type)
		if f.Nullable {
			node = parquet.Optional(node)
		}
		group[f.Name] = node
	}
	schema := parquet.NewSchema("table", group)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[map[string]any](f, schema)
	records := make([]map[string]any, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		rec := make(map[string]any, len(tbl.Schema))
		for i, field := range tbl.Schema {
			if i < len(row) && row[i] != nil {
				rec[field.Name] = row[i]
			}
		}
		records = append(records, rec)
	}

	if _, err := writer.Write(records); err != nil {
		writer.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// schemaFields converts a parquet schema into the tabular field list.
func schemaFields(schema *parquet.Schema) []Field {
	parquetFields := schema.Fields()
	fields := make([]Field, len(parquetFields))
	for i, f := range parquetFields {
		fields[i] = Field{
			Name:     f.Name(),
			Type:     f.Type().String(),
			Nullable: f.Optional(),
		}
	}
	return fields
}

// goValue converts a parquet value into one of the tabular cell types.
func goValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// leafNode maps a field type string to a parquet node. Unrecognized types
// fall back to string.
func leafNode(typ string) parquet.Node {
	switch strings.ToUpper(typ) {
	case "BOOLEAN", "BOOL":
		return parquet.Leaf(parquet.BooleanType)
	case "INT32":
		return parquet.Int(32)
	case "INT64", "INT", "INTEGER", "BIGINT":
		return parquet.Int(64)
	case "FLOAT":
		return parquet.Leaf(parquet.FloatType)
	case "DOUBLE", "REAL", "FLOAT64":
		return parquet.Leaf(parquet.DoubleType)
	default:
		return parquet.String()
	}
}
