package manifest

import (
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runforge/runforge/internal/tabular"
)

func writeSample(t *testing.T, dir string, rows [][]any) string {
	t.Helper()
	path := filepath.Join(dir, "sample.parquet")
	tbl := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "record_id", Type: "INT64"},
			{Name: "category", Type: "BYTE_ARRAY", Nullable: true},
			{Name: "location_type", Type: "BYTE_ARRAY", Nullable: true},
			{Name: "quantity", Type: "DOUBLE", Nullable: true},
		},
		Rows: rows,
	}
	if err := tabular.WriteParquet(path, tbl); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}
	return path
}

func cleanRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), "primary", "site", float64(10 * (i + 1))}
	}
	return rows
}

func TestBuild_Success(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir, cleanRows(5))

	b := NewBuilder(tabular.NewParquetReader(), DefaultRuleSet())
	m := b.Build(path, true)

	if m.IsError() {
		t.Fatalf("Build() returned error manifest: %s", m.Err)
	}
	if m.Rows != 5 {
		t.Errorf("Rows = %d, want 5", m.Rows)
	}
	if len(m.Columns) != 4 {
		t.Errorf("Columns = %v", m.Columns)
	}
	if len(m.ContentHash) != 64 {
		t.Errorf("ContentHash = %q, want 64-char digest", m.ContentHash)
	}
	if m.BusinessValidation == nil || !m.BusinessValidation.Passed {
		t.Errorf("BusinessValidation = %+v, want passed", m.BusinessValidation)
	}
	if m.BusinessKPIs == nil || m.BusinessKPIs.TotalRecords != 5 {
		t.Errorf("BusinessKPIs = %+v", m.BusinessKPIs)
	}
	if m.BusinessKPIs.QuantityTotal != 150 {
		t.Errorf("QuantityTotal = %g, want 150", m.BusinessKPIs.QuantityTotal)
	}
}

func TestBuild_MissingFile(t *testing.T) {
	b := NewBuilder(tabular.NewParquetReader(), DefaultRuleSet())
	m := b.Build("/no/such/file.parquet", false)

	if !m.IsError() {
		t.Fatal("Build() on missing file should produce error manifest")
	}
	if m.ErrType != "NotFound" {
		t.Errorf("ErrType = %q, want NotFound", m.ErrType)
	}
	if m.ContentHash != "" {
		t.Errorf("ContentHash = %q, want empty on error manifest", m.ContentHash)
	}
}

func TestValidateRules_CategoryViolation(t *testing.T) {
	rows := cleanRows(10)
	// Drop category focus below 95%.
	rows[0][1] = "other"
	rows[1][1] = "other"

	tbl := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "record_id", Type: "INT64"},
			{Name: "category", Type: "BYTE_ARRAY"},
			{Name: "location_type", Type: "BYTE_ARRAY"},
			{Name: "quantity", Type: "DOUBLE"},
		},
		Rows: rows,
	}

	v := ValidateRules(tbl, DefaultRuleSet())
	if v.Passed {
		t.Error("Passed = true, want violation for category focus")
	}
	if len(v.Violations) != 1 || !strings.Contains(v.Violations[0], "category") {
		t.Errorf("Violations = %v", v.Violations)
	}
}

func TestValidateRules_LocationWarning(t *testing.T) {
	rows := cleanRows(10)
	// Drop location share below 90% without breaching category.
	rows[0][2] = "depot"
	rows[1][2] = "depot"

	tbl := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "record_id", Type: "INT64"},
			{Name: "category", Type: "BYTE_ARRAY"},
			{Name: "location_type", Type: "BYTE_ARRAY"},
			{Name: "quantity", Type: "DOUBLE"},
		},
		Rows: rows,
	}

	v := ValidateRules(tbl, DefaultRuleSet())
	if !v.Passed {
		t.Errorf("Passed = false, warnings must not fail validation: %v", v.Violations)
	}
	if len(v.Warnings) != 1 || !strings.Contains(v.Warnings[0], "location_type") {
		t.Errorf("Warnings = %v", v.Warnings)
	}
}

func TestValidateRules_KeyNulls(t *testing.T) {
	rows := cleanRows(4)
	rows[2][0] = nil

	tbl := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "record_id", Type: "INT64", Nullable: true},
			{Name: "category", Type: "BYTE_ARRAY"},
			{Name: "location_type", Type: "BYTE_ARRAY"},
			{Name: "quantity", Type: "DOUBLE"},
		},
		Rows: rows,
	}

	v := ValidateRules(tbl, DefaultRuleSet())
	if v.Passed {
		t.Error("Passed = true, want violation for null key")
	}
	found := false
	for _, viol := range v.Violations {
		if strings.Contains(viol, "record_id") {
			found = true
		}
	}
	if !found {
		t.Errorf("Violations = %v, want record_id null-rate violation", v.Violations)
	}
}

func TestValidateRules_QuantityRangeWarning(t *testing.T) {
	rows := cleanRows(3)
	rows[1][3] = float64(-5)

	tbl := &tabular.Table{
		Schema: []tabular.Field{
			{Name: "record_id", Type: "INT64"},
			{Name: "category", Type: "BYTE_ARRAY"},
			{Name: "location_type", Type: "BYTE_ARRAY"},
			{Name: "quantity", Type: "DOUBLE"},
		},
		Rows: rows,
	}

	v := ValidateRules(tbl, DefaultRuleSet())
	if !v.Passed {
		t.Errorf("Passed = false, quantity range is warning-only: %v", v.Violations)
	}
	if len(v.Warnings) != 1 || !strings.Contains(v.Warnings[0], "quantity") {
		t.Errorf("Warnings = %v", v.Warnings)
	}
}

func TestDetectDrift(t *testing.T) {
	now := time.Now().UTC()
	current := &Manifest{
		File:      "v2.parquet",
		Columns:   []string{"a", "b", "c"},
		Rows:      100,
		SizeBytes: 2048,
		CreatedAt: now,
	}
	historical := []*Manifest{
		{
			File:      "v1.parquet",
			Columns:   []string{"a", "b", "d"},
			Rows:      90,
			SizeBytes: 1024,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	report := DetectDrift(current, historical)
	if !report.DriftDetected {
		t.Fatal("DriftDetected = false, want true")
	}
	if len(report.AddedColumns) != 1 || report.AddedColumns[0] != "c" {
		t.Errorf("AddedColumns = %v, want [c]", report.AddedColumns)
	}
	if len(report.RemovedColumns) != 1 || report.RemovedColumns[0] != "d" {
		t.Errorf("RemovedColumns = %v, want [d]", report.RemovedColumns)
	}
	if report.Comparisons[0].RowCountChange != 10 {
		t.Errorf("RowCountChange = %d, want 10", report.Comparisons[0].RowCountChange)
	}
}

func TestDetectDrift_NoHistory(t *testing.T) {
	report := DetectDrift(&Manifest{Columns: []string{"a"}}, nil)
	if report.DriftDetected {
		t.Error("DriftDetected = true with no history")
	}
	if report.Message == "" {
		t.Error("Message empty, want explanation for missing history")
	}
}

func TestCompare(t *testing.T) {
	a := &Manifest{File: "a.parquet", Rows: 0, SizeBytes: 100, RowGroups: 1, Columns: []string{"x"}, ContentHash: "h1"}
	b := &Manifest{File: "b.parquet", Rows: 50, SizeBytes: 200, RowGroups: 1, Columns: []string{"x", "y"}, ContentHash: "h2"}

	cmp := Compare(a, b)
	if !math.IsInf(cmp.Rows.PercentChange, 1) {
		t.Errorf("Rows.PercentChange = %g, want +Inf for zero baseline", cmp.Rows.PercentChange)
	}
	if cmp.SizeBytes.PercentChange != 100 {
		t.Errorf("SizeBytes.PercentChange = %g, want 100", cmp.SizeBytes.PercentChange)
	}
	if len(cmp.AddedColumns) != 1 || cmp.AddedColumns[0] != "y" {
		t.Errorf("AddedColumns = %v", cmp.AddedColumns)
	}
	if cmp.ContentIdentical {
		t.Error("ContentIdentical = true for differing hashes")
	}

	same := Compare(a, a)
	if !same.ContentIdentical {
		t.Error("ContentIdentical = false for identical manifests")
	}
}

func TestWriteLoadHistorical(t *testing.T) {
	dir := t.TempDir()

	older := &Manifest{File: "data.parquet", Rows: 1, CreatedAt: time.Now().UTC().Add(-time.Hour)}
	if _, err := Write(older, dir); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	newer := &Manifest{File: "other.parquet", Rows: 2, CreatedAt: time.Now().UTC()}
	if _, err := Write(newer, dir); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	loaded := LoadHistorical(dir)
	if len(loaded) != 2 {
		t.Fatalf("LoadHistorical() returned %d manifests, want 2", len(loaded))
	}
	if loaded[0].File != "other.parquet" {
		t.Errorf("most recent first: got %s", loaded[0].File)
	}
}

func TestReport_Markdown(t *testing.T) {
	m := &Manifest{
		File:      "data.parquet",
		Rows:      10,
		RowGroups: 1,
		Columns:   []string{"a"},
		Schema:    []tabular.Field{{Name: "a", Type: "INT64"}},
		CreatedAt: time.Now().UTC(),
		BusinessValidation: &Validation{
			Passed:     false,
			Violations: []string{"bad focus"},
		},
	}

	out := Report(m, &DriftReport{DriftDetected: true, AddedColumns: []string{"b"}})
	for _, want := range []string{"# Data Manifest", "## Schema", "**FAILED**", "Drift detected", "Added columns: b"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestReport_ErrorManifest(t *testing.T) {
	m := &Manifest{File: "gone.parquet", Err: "no such file", ErrType: "NotFound", CreatedAt: time.Now().UTC()}
	out := Report(m, nil)
	if !strings.Contains(out, "MANIFEST FAILED") {
		t.Errorf("error report missing failure banner:\n%s", out)
	}
}
