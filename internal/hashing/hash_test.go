package hashing

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/runforge/runforge/internal/tabular"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func makeTable(rows [][]any) *tabular.Table {
	return &tabular.Table{
		Schema: []tabular.Field{
			{Name: "id", Type: "INT64"},
			{Name: "qty", Type: "INT64"},
			{Name: "name", Type: "BYTE_ARRAY", Nullable: true},
		},
		Rows: rows,
	}
}

func TestTableHash_Deterministic(t *testing.T) {
	tbl := makeTable([][]any{
		{int64(1), int64(10), "a"},
		{int64(2), int64(20), "b"},
	})

	first, err := TableHash(tbl, Options{})
	if err != nil {
		t.Fatalf("TableHash() error = %v", err)
	}
	second, err := TableHash(tbl, Options{})
	if err != nil {
		t.Fatalf("TableHash() error = %v", err)
	}

	if first.Hash != second.Hash {
		t.Errorf("hash not deterministic: %s != %s", first.Hash, second.Hash)
	}
	if !hexDigest.MatchString(first.Hash) {
		t.Errorf("hash %q is not a 64-char hex digest", first.Hash)
	}
	if first.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", first.RowCount)
	}
}

func TestTableHash_ColumnOrderInvariant(t *testing.T) {
	a := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "id", Type: "INT64"},
			{Name: "qty", Type: "INT64"},
		},
		Rows: [][]any{{int64(1), int64(10)}},
	}
	b := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "qty", Type: "INT64"},
			{Name: "id", Type: "INT64"},
		},
		Rows: [][]any{{int64(10), int64(1)}},
	}

	ha, _ := TableHash(a, Options{})
	hb, _ := TableHash(b, Options{})
	if ha.Hash != hb.Hash {
		t.Errorf("hash depends on column storage order: %s != %s", ha.Hash, hb.Hash)
	}
}

func TestTableHash_RowOrder(t *testing.T) {
	forward := makeTable([][]any{
		{int64(1), int64(10), "a"},
		{int64(2), int64(20), "b"},
	})
	reversed := makeTable([][]any{
		{int64(2), int64(20), "b"},
		{int64(1), int64(10), "a"},
	})

	// Without a row key, physical order is part of the identity.
	hf, _ := TableHash(forward, Options{})
	hr, _ := TableHash(reversed, Options{})
	if hf.Hash == hr.Hash {
		t.Error("hash should change when rows are reordered without a row key")
	}

	// With a row key, physical order is normalized away.
	kf, _ := TableHash(forward, Options{RowKey: []string{"id"}})
	kr, _ := TableHash(reversed, Options{RowKey: []string{"id"}})
	if kf.Hash != kr.Hash {
		t.Errorf("row-keyed hash differs across row orderings: %s != %s", kf.Hash, kr.Hash)
	}
}

func TestTableHash_CellChangeChangesHash(t *testing.T) {
	base := makeTable([][]any{{int64(1), int64(10), "a"}})
	changed := makeTable([][]any{{int64(1), int64(11), "a"}})

	hb, _ := TableHash(base, Options{})
	hc, _ := TableHash(changed, Options{})
	if hb.Hash == hc.Hash {
		t.Error("hash unchanged after cell value change")
	}
}

func TestTableHash_DropColumns(t *testing.T) {
	withVolatile := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "id", Type: "INT64"},
			{Name: "loaded_at", Type: "BYTE_ARRAY"},
		},
		Rows: [][]any{{int64(1), "2026-01-01"}},
	}
	without := &tabular.Table{
		Schema: []tabular.Field{{Name: "id", Type: "INT64"}},
		Rows:   [][]any{{int64(1)}},
	}

	ha, _ := TableHash(withVolatile, Options{DropColumns: []string{"loaded_at"}})
	hb, _ := TableHash(without, Options{})
	if ha.Hash != hb.Hash {
		t.Errorf("dropped column still contributes to hash: %s != %s", ha.Hash, hb.Hash)
	}
	if len(ha.Schema) != 1 || ha.Schema[0] != "id" {
		t.Errorf("Schema = %v, want [id]", ha.Schema)
	}
}

func TestTableHash_MissingRowKey(t *testing.T) {
	tbl := makeTable(nil)
	_, err := TableHash(tbl, Options{RowKey: []string{"nope"}})
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("error = %v, want ErrKeyNotFound", err)
	}
}

func TestHashFile_MissingFile(t *testing.T) {
	_, err := HashFile(tabular.NewParquetReader(), "/no/such/file.parquet", Options{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestHashFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.parquet")
	tbl := makeTable([][]any{
		{int64(2), int64(20), "b"},
		{int64(1), int64(10), "a"},
	})
	if err := tabular.WriteParquet(path, tbl); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}

	res, err := HashFile(tabular.NewParquetReader(), path, Options{RowKey: []string{"id"}})
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if !hexDigest.MatchString(res.Hash) {
		t.Errorf("hash %q is not a 64-char hex digest", res.Hash)
	}

	again, err := HashFile(tabular.NewParquetReader(), path, Options{RowKey: []string{"id"}})
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if res.Hash != again.Hash {
		t.Error("HashFile not deterministic across reads")
	}
}

func TestFileSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := FileSHA256(path)
	if err != nil {
		t.Fatalf("FileSHA256() error = %v", err)
	}
	if !hexDigest.MatchString(first) {
		t.Errorf("hash %q is not a 64-char hex digest", first)
	}

	second, err := FileSHA256(path)
	if err != nil {
		t.Fatalf("FileSHA256() error = %v", err)
	}
	if first != second {
		t.Error("FileSHA256 not deterministic")
	}

	if _, err := FileSHA256(filepath.Join(dir, "missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSidecar_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.parquet")

	res := &Result{
		Algorithm: Algorithm,
		Hash:      "abc123",
		RowCount:  7,
		Schema:    []string{"a", "b"},
	}
	if err := WriteSidecar(dataPath, res); err != nil {
		t.Fatalf("WriteSidecar() error = %v", err)
	}

	sidecar, ok := ReadSidecar(dataPath)
	if !ok {
		t.Fatal("ReadSidecar() ok = false, want true")
	}
	if sidecar.Hash != "abc123" || sidecar.RowCount != 7 {
		t.Errorf("sidecar = %+v", sidecar)
	}
	if sidecar.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestReadSidecar_MissingOrMalformed(t *testing.T) {
	dir := t.TempDir()

	if _, ok := ReadSidecar(filepath.Join(dir, "missing.parquet")); ok {
		t.Error("ok = true for missing sidecar")
	}

	dataPath := filepath.Join(dir, "bad.parquet")
	if err := os.WriteFile(SidecarPath(dataPath), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := ReadSidecar(dataPath); ok {
		t.Error("ok = true for malformed sidecar")
	}
}
