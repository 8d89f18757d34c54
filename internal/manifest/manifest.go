// Package manifest builds point-in-time structural and statistical snapshots
// of columnar files, detects schema drift against prior snapshots, and
// compares snapshots pairwise.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/runforge/runforge/internal/hashing"
	"github.com/runforge/runforge/internal/tabular"
)

// Suffix is appended to a data file's name to form its manifest path.
const Suffix = ".manifest.json"

// defaultSampleLimit caps the number of rows read for business analysis.
const defaultSampleLimit = 10000

// PerformanceMetrics captures the cost of building a manifest.
type PerformanceMetrics struct {
	// CreationTimeSeconds is wall-clock time spent building the manifest.
	CreationTimeSeconds float64 `json:"creation_time_seconds"`
	// MemoryIncreaseMB is the heap delta observed while building.
	MemoryIncreaseMB float64 `json:"memory_increase_mb"`
	// ThroughputMBPerSec is file size over creation time.
	ThroughputMBPerSec float64 `json:"throughput_mb_per_sec"`
}

// Validation holds the outcome of the configurable business rule set.
type Validation struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
}

// KPIs holds sample-derived business indicators.
type KPIs struct {
	// TotalRecords is the number of sampled rows.
	TotalRecords int `json:"total_records"`
	// UniqueKeyCounts maps each key column to its distinct value count.
	UniqueKeyCounts map[string]int `json:"unique_key_counts,omitempty"`
	// CategoryDistribution counts rows per category value.
	CategoryDistribution map[string]int `json:"category_distribution,omitempty"`
	// QuantityTotal is the sum of the quantity column over the sample.
	QuantityTotal float64 `json:"quantity_total"`
	// QuantityMean is the mean of the quantity column over the sample.
	QuantityMean float64 `json:"quantity_mean"`
}

// Manifest is an immutable snapshot of a columnar file. When the mandatory
// steps fail, Err and ErrType are set and the structural fields are empty
// (the error-manifest variant).
type Manifest struct {
	File        string          `json:"file"`
	SizeBytes   int64           `json:"size_bytes"`
	Rows        int64           `json:"rows"`
	RowGroups   int             `json:"row_groups"`
	Columns     []string        `json:"columns,omitempty"`
	Schema      []tabular.Field `json:"schema,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`

	FileModified time.Time `json:"file_mtime"`
	FileCreated  time.Time `json:"file_ctime"`
	CreatedAt    time.Time `json:"manifest_created_at"`

	Performance PerformanceMetrics `json:"performance_metrics"`

	BusinessValidation    *Validation        `json:"business_validation,omitempty"`
	BusinessKPIs          *KPIs              `json:"business_kpis,omitempty"`
	NullRates             map[string]float64 `json:"null_rates,omitempty"`
	BusinessAnalysisError string             `json:"business_analysis_error,omitempty"`

	Err     string `json:"error,omitempty"`
	ErrType string `json:"error_type,omitempty"`
}

// IsError reports whether this is the error-manifest variant.
func (m *Manifest) IsError() bool {
	return m.Err != ""
}

// Builder constructs manifests using a columnar reader and a business
// rule set.
type Builder struct {
	reader      tabular.Reader
	rules       RuleSet
	sampleLimit int
}

// NewBuilder creates a Builder with the default sample limit.
func NewBuilder(reader tabular.Reader, rules RuleSet) *Builder {
	return &Builder{
		reader:      reader,
		rules:       rules,
		sampleLimit: defaultSampleLimit,
	}
}

// SetSampleLimit overrides the business-analysis sample cap.
func (b *Builder) SetSampleLimit(n int) {
	if n > 0 {
		b.sampleLimit = n
	}
}

// Build creates a manifest for the file. Mandatory-step failures (stat,
// metadata read, hashing) yield an error manifest; business-analysis
// failures are recorded non-fatally on an otherwise valid manifest.
func (b *Builder) Build(path string, includeBusiness bool) *Manifest {
	start := time.Now()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	m := &Manifest{
		File:      path,
		CreatedAt: time.Now().UTC(),
	}

	finish := func() {
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		elapsed := time.Since(start).Seconds()
		m.Performance.CreationTimeSeconds = elapsed
		m.Performance.MemoryIncreaseMB = (float64(after.HeapAlloc) - float64(before.HeapAlloc)) / (1024 * 1024)
		if elapsed > 0 {
			m.Performance.ThroughputMBPerSec = float64(m.SizeBytes) / (1024 * 1024) / elapsed
		}
	}

	st, err := os.Stat(path)
	if err != nil {
		m.Err = err.Error()
		m.ErrType = errType(err)
		finish()
		return m
	}
	m.SizeBytes = st.Size()
	m.FileModified = st.ModTime().UTC()
	// Creation time is not portably available; modification time is the
	// best stand-in on every platform we target.
	m.FileCreated = st.ModTime().UTC()

	meta, err := b.reader.OpenMeta(path)
	if err != nil {
		m.Err = err.Error()
		m.ErrType = errType(err)
		finish()
		return m
	}
	m.Rows = meta.Rows
	m.RowGroups = meta.RowGroups
	m.Schema = meta.Schema
	m.Columns = make([]string, len(meta.Schema))
	for i, f := range meta.Schema {
		m.Columns[i] = f.Name
	}

	hash, err := hashing.FileSHA256(path)
	if err != nil {
		m.Err = err.Error()
		m.ErrType = errType(err)
		finish()
		return m
	}
	m.ContentHash = hash

	if includeBusiness {
		b.analyze(m, path)
	}

	finish()
	return m
}

// analyze runs the business rule set over a bounded sample. Failures are
// recorded on the manifest and never abort the build.
func (b *Builder) analyze(m *Manifest, path string) {
	limit := b.sampleLimit
	if m.Rows > 0 && m.Rows < int64(limit) {
		limit = int(m.Rows)
	}

	if m.Rows == 0 {
		m.BusinessValidation = &Validation{
			Passed:   true,
			Warnings: []string{"empty dataset - no validation performed"},
		}
		return
	}

	sample, err := b.reader.Read(path, limit)
	if err != nil {
		m.BusinessAnalysisError = err.Error()
		return
	}

	m.BusinessValidation = ValidateRules(sample, b.rules)
	m.BusinessKPIs = ComputeKPIs(sample, b.rules)
	m.NullRates = nullRates(sample)
}

// nullRates computes the per-column null rate over a sample, keeping only
// columns that contain at least one null.
func nullRates(tbl *tabular.Table) map[string]float64 {
	if tbl.NumRows() == 0 {
		return nil
	}

	counts := make([]int, len(tbl.Schema))
	for _, row := range tbl.Rows {
		for i, v := range row {
			if v == nil {
				counts[i]++
			}
		}
	}

	rates := make(map[string]float64)
	for i, f := range tbl.Schema {
		if counts[i] > 0 {
			rates[f.Name] = float64(counts[i]) / float64(tbl.NumRows())
		}
	}
	if len(rates) == 0 {
		return nil
	}
	return rates
}

// errType classifies an error for the error-manifest variant.
func errType(err error) string {
	if os.IsNotExist(err) {
		return "NotFound"
	}
	return "ReadError"
}

// Write persists a manifest into the given directory, named after the
// data file. Returns the manifest path.
func Write(m *Manifest, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(m.File)+Suffix)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// LoadHistorical loads all manifests in a directory, sorted most recent
// first by creation time. Unreadable files are skipped.
func LoadHistorical(dir string) []*Manifest {
	entries, err := filepath.Glob(filepath.Join(dir, "*"+Suffix))
	if err != nil {
		return nil
	}

	var manifests []*Manifest
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		manifests = append(manifests, &m)
	}

	sort.SliceStable(manifests, func(a, b int) bool {
		return manifests[a].CreatedAt.After(manifests[b].CreatedAt)
	})
	return manifests
}
