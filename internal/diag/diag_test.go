package diag

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/runforge/runforge/internal/tabular"
)

func writeArtifact(t *testing.T, name string, rows [][]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	tbl := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "id", Type: "INT64"},
			{Name: "value", Type: "DOUBLE", Nullable: true},
		},
		Rows: rows,
	}
	if err := tabular.WriteParquet(path, tbl); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_InvalidLevel(t *testing.T) {
	e := NewEngine(tabular.NewParquetReader())
	for _, level := range []int{-1, 10, 42} {
		if _, err := e.Run(level, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Run(%d) error = %v, want ErrInvalidInput", level, err)
		}
	}
}

func TestRun_LevelGating(t *testing.T) {
	e := NewEngine(tabular.NewParquetReader())
	artifact := writeArtifact(t, "data.parquet", [][]any{{int64(1), 1.5}})

	tests := []struct {
		level      int
		wantChecks int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 3},
		{9, 3},
	}
	for _, tt := range tests {
		res, err := e.Run(tt.level, []string{artifact})
		if err != nil {
			t.Fatalf("Run(%d) error = %v", tt.level, err)
		}
		if len(res.Checks) != tt.wantChecks {
			t.Errorf("Run(%d) checks = %d, want %d", tt.level, len(res.Checks), tt.wantChecks)
		}
		if res.ArtifactsAnalyzed != 1 {
			t.Errorf("Run(%d) ArtifactsAnalyzed = %d, want 1", tt.level, res.ArtifactsAnalyzed)
		}
		if res.Focus == "" || res.Guarantees == "" {
			t.Errorf("Run(%d) missing focus/guarantees", tt.level)
		}
	}
}

func TestRun_StructureFindsEmptyArtifact(t *testing.T) {
	e := NewEngine(tabular.NewParquetReader())
	empty := writeArtifact(t, "empty.parquet", nil)

	res, err := e.Run(1, []string{empty})
	if err != nil {
		t.Fatal(err)
	}
	if res.Checks[0].Passed {
		t.Error("structure check passed for empty artifact")
	}
	if !strings.Contains(res.Checks[0].Details, "empty") {
		t.Errorf("Details = %q", res.Checks[0].Details)
	}
}

func TestRun_MathIntegrityFindsNonFinite(t *testing.T) {
	e := NewEngine(tabular.NewParquetReader())
	bad := writeArtifact(t, "bad.parquet", [][]any{
		{int64(1), 1.0},
		{int64(2), math.NaN()},
	})

	res, err := e.Run(3, []string{bad})
	if err != nil {
		t.Fatal(err)
	}
	math3 := res.Checks[2]
	if math3.Name != "math_integrity" {
		t.Fatalf("third check = %s", math3.Name)
	}
	if math3.Passed {
		t.Error("math integrity passed with NaN present")
	}
	if !strings.Contains(math3.Details, "value") {
		t.Errorf("Details = %q, want offending column name", math3.Details)
	}
}

func TestRun_UnreadableArtifact(t *testing.T) {
	e := NewEngine(tabular.NewParquetReader())
	res, err := e.Run(1, []string{"/no/such/artifact.parquet"})
	if err != nil {
		t.Fatalf("Run() error = %v, unreadable artifacts must not abort", err)
	}
	if res.Checks[0].Passed {
		t.Error("structure check passed for unreadable artifact")
	}
}

func TestDescribe(t *testing.T) {
	l, err := Describe(9)
	if err != nil {
		t.Fatal(err)
	}
	if l.Focus != "Audit-ready" {
		t.Errorf("Focus = %q", l.Focus)
	}
	if _, err := Describe(10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Describe(10) error = %v", err)
	}
}
