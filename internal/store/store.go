// Package store provides read access to the tabular datamart backing a
// governed build, plus canonical parquet export for hashing and reporting.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/runforge/runforge/internal/tabular"
)

// Store is the reporter's view of a datamart.
type Store interface {
	// ListTables returns user table names in name order.
	ListTables() ([]string, error)
	// RowCount returns the number of rows in a table.
	RowCount(table string) (int64, error)
	// TableSchema returns the table's columns in declaration order.
	TableSchema(table string) ([]tabular.Field, error)
	// QueryFloat runs a query expected to return a single numeric scalar.
	QueryFloat(query string) (float64, error)
	// ExportTable writes the table to dir as parquet, rows ordered by the
	// first column so the export is canonical. Returns the file path.
	ExportTable(table, dir string) (string, error)
	// Close releases the underlying connection.
	Close() error
}

// SQLiteStore implements Store over a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens a SQLite datamart.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open datamart: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping datamart: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListTables lists user tables, excluding SQLite internals.
func (s *SQLiteStore) ListTables() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// RowCount counts rows in a table.
func (s *SQLiteStore) RowCount(table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return count, nil
}

// TableSchema reads column definitions via PRAGMA table_info.
func (s *SQLiteStore) TableSchema(table string) ([]tabular.Field, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table))
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("read schema of %s: %w", table, err)
	}
	defer rows.Close()

	var fields []tabular.Field
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		fields = append(fields, tabular.Field{
			Name:     name,
			Type:     strings.ToUpper(colType),
			Nullable: notNull == 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return fields, nil
}

// QueryFloat evaluates a scalar query. NULL results come back as 0.
func (s *SQLiteStore) QueryFloat(query string) (float64, error) {
	var value sql.NullFloat64
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return 0, fmt.Errorf("scalar query: %w", err)
	}
	return value.Float64, nil
}

// ExportTable writes the full table to dir as parquet, ordered by the
// first declared column so repeated exports of unchanged data hash
// identically.
func (s *SQLiteStore) ExportTable(table, dir string) (string, error) {
	schema, err := s.TableSchema(table)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s",
		quoteIdent(table), quoteIdent(schema[0].Name))
	rows, err := s.db.Query(query)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	tbl := &tabular.Table{Schema: schema}
	for rows.Next() {
		cells := make([]any, len(schema))
		ptrs := make([]any, len(schema))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan %s row: %w", table, err)
		}
		for i, cell := range cells {
			if b, ok := cell.([]byte); ok {
				cells[i] = string(b)
			}
		}
		tbl.Rows = append(tbl.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, table+".parquet")
	if err := tabular.WriteParquet(path, tbl); err != nil {
		return "", fmt.Errorf("write export for %s: %w", table, err)
	}
	return path, nil
}

// quoteIdent quotes a SQL identifier so table names from configuration
// cannot break out of identifier position.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
