// Package report aggregates already-computed build inputs into a single
// in-memory model and renders it as markdown and JSON. The reporter
// computes nothing new at render time; both outputs derive from one
// aggregation pass.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/runforge/runforge/internal/hashing"
	"github.com/runforge/runforge/internal/orchestrator"
	"github.com/runforge/runforge/internal/store"
	"github.com/runforge/runforge/internal/tabular"
	"github.com/runforge/runforge/pkg/models"
)

// RunMetadata identifies the run the report describes.
type RunMetadata struct {
	RunID           string             `json:"run_id"`
	Env             models.Environment `json:"env"`
	Ruleset         string             `json:"ruleset"`
	GeneratedAt     time.Time          `json:"generated_at"`
	DurationSeconds float64            `json:"duration_seconds"`
	GitSHA          string             `json:"git_sha"`
	DVCRev          string             `json:"dvc_rev"`
}

// Configuration records the pipeline configuration in effect.
type Configuration struct {
	Stages       map[string]bool `json:"stages"`
	DatamartPath string          `json:"datamart_path"`
}

// TableInfo is one row of the table inventory.
type TableInfo struct {
	Name    string          `json:"name"`
	Rows    int64           `json:"rows"`
	Columns int             `json:"columns"`
	Schema  []tabular.Field `json:"schema,omitempty"`
}

// TableHash is the content hash of one table's canonical export.
type TableHash struct {
	Table     string `json:"table"`
	Algorithm string `json:"algorithm,omitempty"`
	Hash      string `json:"hash,omitempty"`
	RowCount  int    `json:"row_count"`
	Err       string `json:"error,omitempty"`
}

// QualityMetrics holds per-table data-quality measures. DistinctRowRatio
// is distinct_rows / total_rows, defined as 0 for an empty table.
type QualityMetrics struct {
	Table            string  `json:"table"`
	NullRate         float64 `json:"null_rate"`
	DistinctRowRatio float64 `json:"distinct_row_ratio"`
	Err              string  `json:"error,omitempty"`
}

// ColumnStats is the numeric summary of one column.
type ColumnStats struct {
	Table  string  `json:"table"`
	Column string  `json:"column"`
	Count  float64 `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Err    string  `json:"error,omitempty"`
}

// StepResult records one pipeline step's outcome.
type StepResult struct {
	Name            string        `json:"name"`
	Status          models.Status `json:"status"`
	DurationSeconds float64       `json:"duration_seconds"`
	Message         string        `json:"message,omitempty"`
}

// AnalysisResult is one entry of an optional secondary analysis set.
type AnalysisResult struct {
	Name    string        `json:"name"`
	Status  models.Status `json:"status"`
	Details string        `json:"details,omitempty"`
}

// Lineage is the static source/output description plus the stage map.
type Lineage struct {
	Source string          `json:"source"`
	Output string          `json:"output"`
	Stages map[string]bool `json:"stages"`
}

// RollUp gathers warnings and errors from every section.
type RollUp struct {
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// BuildReport is the single model both renderers consume.
type BuildReport struct {
	Metadata          RunMetadata                      `json:"metadata"`
	Configuration     Configuration                    `json:"configuration"`
	Tables            []TableInfo                      `json:"tables"`
	Hashes            []TableHash                      `json:"table_hashes"`
	Validation        map[string]*orchestrator.Outcome `json:"validation_results,omitempty"`
	ValidationSummary *orchestrator.Summary            `json:"validation_summary,omitempty"`
	Secondary         []AnalysisResult                 `json:"secondary_analysis,omitempty"`
	Quality           []QualityMetrics                 `json:"data_quality"`
	Stats             []ColumnStats                    `json:"statistics"`
	Steps             []StepResult                     `json:"step_log"`
	RollUp            RollUp                           `json:"rollup"`
	Lineage           Lineage                          `json:"lineage"`
	Status            models.Status                    `json:"status"`
}

// Inputs are the already-computed pieces the reporter aggregates.
type Inputs struct {
	Metadata          RunMetadata
	Stages            map[string]bool
	DatamartPath      string
	Steps             []StepResult
	Validation        map[string]*orchestrator.Outcome
	ValidationSummary *orchestrator.Summary
	Secondary         []AnalysisResult
	// HashDropColumns lists volatile columns excluded from table hashes.
	HashDropColumns []string
}

// Reporter aggregates store-derived sections into a BuildReport.
type Reporter struct {
	store     store.Store
	reader    tabular.Reader
	exportDir string
}

// NewReporter creates a reporter exporting canonical table snapshots into
// exportDir.
func NewReporter(st store.Store, reader tabular.Reader, exportDir string) *Reporter {
	return &Reporter{store: st, reader: reader, exportDir: exportDir}
}

// Generate runs the single aggregation pass. Per-table and per-column
// failures are isolated into the roll-up; only a completely unreachable
// store is reported as a build-level error. Status is SUCCESS iff the
// roll-up's error list is empty.
func (r *Reporter) Generate(in Inputs) *BuildReport {
	report := &BuildReport{
		Metadata: in.Metadata,
		Configuration: Configuration{
			Stages:       in.Stages,
			DatamartPath: in.DatamartPath,
		},
		Validation:        in.Validation,
		ValidationSummary: in.ValidationSummary,
		Secondary:         in.Secondary,
		Steps:             in.Steps,
		RollUp:            RollUp{Warnings: []string{}, Errors: []string{}},
		Lineage: Lineage{
			Source: in.DatamartPath,
			Output: r.exportDir,
			Stages: in.Stages,
		},
	}

	tables, err := r.store.ListTables()
	if err != nil {
		report.RollUp.Errors = append(report.RollUp.Errors, fmt.Sprintf("list tables: %v", err))
	}

	for _, table := range tables {
		r.addInventory(report, table)
		r.addHash(report, table, in.HashDropColumns)
		r.addQuality(report, table)
		r.addStats(report, table)
	}

	r.rollUpResults(report)
	report.Metadata.GeneratedAt = report.Metadata.GeneratedAt.UTC()
	if report.Metadata.GeneratedAt.IsZero() {
		report.Metadata.GeneratedAt = time.Now().UTC()
	}

	report.Status = models.StatusSuccess
	if len(report.RollUp.Errors) > 0 {
		report.Status = models.StatusError
	}
	return report
}

func (r *Reporter) addInventory(report *BuildReport, table string) {
	rows, err := r.store.RowCount(table)
	if err != nil {
		report.RollUp.Errors = append(report.RollUp.Errors, fmt.Sprintf("inventory %s: %v", table, err))
		return
	}
	schema, err := r.store.TableSchema(table)
	if err != nil {
		report.RollUp.Errors = append(report.RollUp.Errors, fmt.Sprintf("inventory %s: %v", table, err))
		return
	}
	report.Tables = append(report.Tables, TableInfo{
		Name:    table,
		Rows:    rows,
		Columns: len(schema),
		Schema:  schema,
	})
}

func (r *Reporter) addHash(report *BuildReport, table string, dropColumns []string) {
	path, err := r.store.ExportTable(table, r.exportDir)
	if err != nil {
		report.Hashes = append(report.Hashes, TableHash{Table: table, Err: err.Error()})
		report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("hash %s: %v", table, err))
		return
	}

	res, err := hashing.HashFile(r.reader, path, hashing.Options{DropColumns: dropColumns})
	if err != nil {
		report.Hashes = append(report.Hashes, TableHash{Table: table, Err: err.Error()})
		report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("hash %s: %v", table, err))
		return
	}
	report.Hashes = append(report.Hashes, TableHash{
		Table:     table,
		Algorithm: res.Algorithm,
		Hash:      res.Hash,
		RowCount:  res.RowCount,
	})
}

func (r *Reporter) addQuality(report *BuildReport, table string) {
	q := QualityMetrics{Table: table}
	defer func() { report.Quality = append(report.Quality, q) }()

	total, err := r.store.RowCount(table)
	if err != nil {
		q.Err = err.Error()
		report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("quality %s: %v", table, err))
		return
	}
	if total == 0 {
		// Ratio is defined as 0 for an empty table.
		return
	}

	schema, err := r.store.TableSchema(table)
	if err != nil {
		q.Err = err.Error()
		report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("quality %s: %v", table, err))
		return
	}

	nulls := 0.0
	for _, field := range schema {
		n, err := r.store.QueryFloat(fmt.Sprintf(
			`SELECT COUNT(*) - COUNT(%s) FROM %s`, quote(field.Name), quote(table)))
		if err != nil {
			q.Err = err.Error()
			report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("quality %s.%s: %v", table, field.Name, err))
			return
		}
		nulls += n
	}
	q.NullRate = nulls / (float64(total) * float64(len(schema)))

	distinct, err := r.store.QueryFloat(fmt.Sprintf(
		`SELECT COUNT(*) FROM (SELECT DISTINCT * FROM %s)`, quote(table)))
	if err != nil {
		q.Err = err.Error()
		report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("quality %s: %v", table, err))
		return
	}
	q.DistinctRowRatio = distinct / float64(total)
}

func (r *Reporter) addStats(report *BuildReport, table string) {
	schema, err := r.store.TableSchema(table)
	if err != nil {
		report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("statistics %s: %v", table, err))
		return
	}

	for _, field := range schema {
		if !numericType(field.Type) {
			continue
		}
		stats, err := r.columnStats(table, field.Name)
		if err != nil {
			report.Stats = append(report.Stats, ColumnStats{Table: table, Column: field.Name, Err: err.Error()})
			report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("statistics %s.%s: %v", table, field.Name, err))
			continue
		}
		report.Stats = append(report.Stats, stats)
	}
}

// columnStats computes count/min/max/mean and a population stddev derived
// from AVG(x*x) - AVG(x)^2, since SQLite has no native STDDEV.
func (r *Reporter) columnStats(table, column string) (ColumnStats, error) {
	stats := ColumnStats{Table: table, Column: column}
	qc, qt := quote(column), quote(table)

	queries := []struct {
		dest  *float64
		query string
	}{
		{&stats.Count, fmt.Sprintf("SELECT COUNT(%s) FROM %s", qc, qt)},
		{&stats.Min, fmt.Sprintf("SELECT MIN(%s) FROM %s", qc, qt)},
		{&stats.Max, fmt.Sprintf("SELECT MAX(%s) FROM %s", qc, qt)},
		{&stats.Mean, fmt.Sprintf("SELECT AVG(%s) FROM %s", qc, qt)},
	}
	for _, q := range queries {
		value, err := r.store.QueryFloat(q.query)
		if err != nil {
			return stats, err
		}
		*q.dest = value
	}

	meanSq, err := r.store.QueryFloat(fmt.Sprintf(
		"SELECT AVG(%s * %s) FROM %s", qc, qc, qt))
	if err != nil {
		return stats, err
	}
	variance := meanSq - stats.Mean*stats.Mean
	if variance > 0 {
		stats.StdDev = math.Sqrt(variance)
	}
	return stats, nil
}

// rollUpResults gathers warnings and errors from steps, validation
// outcomes, and the secondary analysis set.
func (r *Reporter) rollUpResults(report *BuildReport) {
	for _, step := range report.Steps {
		switch step.Status {
		case models.StatusError:
			report.RollUp.Errors = append(report.RollUp.Errors, fmt.Sprintf("step %s: %s", step.Name, step.Message))
		case models.StatusWarning:
			report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("step %s: %s", step.Name, step.Message))
		}
	}

	ids := make([]string, 0, len(report.Validation))
	for id := range report.Validation {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		outcome := report.Validation[id]
		switch outcome.Status {
		case models.StatusError:
			msg := outcome.Err
			if msg == "" {
				msg = fmt.Sprintf("exit code %d", outcome.ExitCode)
			}
			report.RollUp.Errors = append(report.RollUp.Errors, fmt.Sprintf("validation %s: %s", id, msg))
		case models.StatusWarning:
			report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("validation %s", id))
		}
	}

	for _, analysis := range report.Secondary {
		switch analysis.Status {
		case models.StatusError:
			report.RollUp.Errors = append(report.RollUp.Errors, fmt.Sprintf("analysis %s: %s", analysis.Name, analysis.Details))
		case models.StatusWarning:
			report.RollUp.Warnings = append(report.RollUp.Warnings, fmt.Sprintf("analysis %s: %s", analysis.Name, analysis.Details))
		}
	}
}

// numericType reports whether a declared column type is numeric.
func numericType(typ string) bool {
	upper := strings.ToUpper(typ)
	for _, prefix := range []string{"INT", "BIGINT", "REAL", "DOUBLE", "FLOAT", "NUMERIC", "DECIMAL"} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
