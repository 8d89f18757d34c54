// Package tabular provides an in-memory table model and a columnar file
// reader abstraction. The rest of the system depends only on the Reader
// interface; the parquet implementation is the single concrete backend.
package tabular

import (
	"fmt"
	"sort"
	"time"
)

// Field describes a single column of a table.
type Field struct {
	// Name is the column name.
	Name string `json:"name"`
	// Type is the storage type rendered as a string.
	Type string `json:"type"`
	// Nullable indicates whether the column admits nulls.
	Nullable bool `json:"nullable"`
}

// Table is a row-major, schema-ordered table. Cell values are nil, bool,
// int64, float64, string, or time.Time.
type Table struct {
	// Schema is the ordered column list.
	Schema []Field
	// Rows holds one slice per row, aligned with Schema.
	Rows [][]any
}

// Columns returns the column names in schema order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.Schema))
	for i, f := range t.Schema {
		names[i] = f.Name
	}
	return names
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// ColumnIndex returns the index of the named column, or -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, f := range t.Schema {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Column returns all values of the named column, or nil if absent.
func (t *Table) Column(name string) []any {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	values := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values
}

// DropColumns returns a copy of the table without the named columns.
// Names that are not present are ignored.
func (t *Table) DropColumns(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	keep := make([]int, 0, len(t.Schema))
	for i, f := range t.Schema {
		if !drop[f.Name] {
			keep = append(keep, i)
		}
	}

	return t.project(keep)
}

// SortColumns returns a copy of the table with columns ordered
// lexicographically by name. Row contents follow the column order.
func (t *Table) SortColumns() *Table {
	order := make([]int, len(t.Schema))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return t.Schema[order[a]].Name < t.Schema[order[b]].Name
	})
	return t.project(order)
}

// SortRowsBy returns a copy of the table with rows sorted ascending by the
// given key columns (stable). Returns an error if a key column is absent.
func (t *Table) SortRowsBy(keys []string) (*Table, error) {
	indices := make([]int, len(keys))
	for i, k := range keys {
		idx := t.ColumnIndex(k)
		if idx < 0 {
			return nil, fmt.Errorf("row key column not found: %s", k)
		}
		indices[i] = idx
	}

	out := &Table{
		Schema: append([]Field(nil), t.Schema...),
		Rows:   append([][]any(nil), t.Rows...),
	}
	sort.SliceStable(out.Rows, func(a, b int) bool {
		for _, idx := range indices {
			if c := CompareValues(out.Rows[a][idx], out.Rows[b][idx]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

// project builds a new table containing the columns at the given source
// indices, in the given order.
func (t *Table) project(indices []int) *Table {
	schema := make([]Field, len(indices))
	for i, idx := range indices {
		schema[i] = t.Schema[idx]
	}

	rows := make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		projected := make([]any, len(indices))
		for i, idx := range indices {
			projected[i] = row[idx]
		}
		rows[r] = projected
	}

	return &Table{Schema: schema, Rows: rows}
}

// CompareValues orders two cell values. Nil sorts first; values of
// different dynamic types are ordered by a type rank so the sort is total.
func CompareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}

	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case time.Time:
		bv := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	default:
		sa, sb := fmt.Sprint(a), fmt.Sprint(b)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	}
}

func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 1
	case int64:
		return 2
	case float64:
		return 3
	case string:
		return 4
	case time.Time:
		return 5
	default:
		return 6
	}
}
