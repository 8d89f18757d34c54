// Package hashing computes deterministic content hashes for columnar tables
// and raw files. Table hashes are stable under column reordering and, when a
// row key is supplied, under physical row reordering, so they can be used as
// reproducible artifact identities.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/runforge/runforge/internal/tabular"
)

// Algorithm is the digest algorithm used for all content hashes.
const Algorithm = "sha256"

var (
	// ErrNotFound indicates the input file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrKeyNotFound indicates a requested row key is not a column.
	ErrKeyNotFound = errors.New("row key column not found")
)

// Options control table normalization before hashing.
type Options struct {
	// DropColumns lists volatile columns excluded before hashing.
	// Columns not present in the table are ignored.
	DropColumns []string
	// RowKey, when non-empty, sorts rows ascending by these columns so the
	// hash is independent of physical row order. When empty, row order is
	// part of the identity.
	RowKey []string
}

// Result describes a computed table hash.
type Result struct {
	// Algorithm is the digest algorithm name.
	Algorithm string `json:"algorithm"`
	// Hash is the hex digest.
	Hash string `json:"hash"`
	// RowCount is the number of rows hashed.
	RowCount int `json:"row_count"`
	// Schema is the sorted column list after dropping volatile columns.
	Schema []string `json:"schema"`
}

// encodedTable is the canonical serialization fed to the digest. Field and
// row order are preserved by msgpack, which makes the encoding deterministic
// for a normalized table.
type encodedTable struct {
	Schema []tabular.Field `msgpack:"schema"`
	Rows   [][]any         `msgpack:"rows"`
}

// TableHash normalizes the table (drop volatile columns, sort columns
// lexicographically, optionally sort rows by key) and hashes its canonical
// binary encoding.
func TableHash(tbl *tabular.Table, opts Options) (*Result, error) {
	normalized := tbl.DropColumns(opts.DropColumns...).SortColumns()

	if len(opts.RowKey) > 0 {
		sorted, err := normalized.SortRowsBy(opts.RowKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
		}
		normalized = sorted
	}

	data, err := msgpack.Marshal(&encodedTable{
		Schema: normalized.Schema,
		Rows:   normalized.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("encode table: %w", err)
	}

	sum := sha256.Sum256(data)
	return &Result{
		Algorithm: Algorithm,
		Hash:      hex.EncodeToString(sum[:]),
		RowCount:  normalized.NumRows(),
		Schema:    normalized.Columns(),
	}, nil
}

// HashFile reads a columnar file and computes its table hash.
func HashFile(reader tabular.Reader, path string, opts Options) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	tbl, err := reader.Read(path, 0)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return TableHash(tbl, opts)
}

// FileSHA256 computes the digest of a file's raw bytes, read in fixed-size
// chunks. Used for generic artifacts where content structure is irrelevant.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
