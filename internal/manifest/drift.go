package manifest

import (
	"math"
	"sort"
	"time"
)

// DriftComparison describes structural differences between the current
// manifest and one historical manifest.
type DriftComparison struct {
	HistoricalFile      string    `json:"historical_file"`
	HistoricalCreatedAt time.Time `json:"historical_created_at"`
	AddedColumns        []string  `json:"added_columns,omitempty"`
	RemovedColumns      []string  `json:"removed_columns,omitempty"`
	RowCountChange      int64     `json:"row_count_change"`
	SizeChangeBytes     int64     `json:"size_change_bytes"`
}

// DriftReport aggregates schema drift against all historical manifests.
type DriftReport struct {
	DriftDetected  bool              `json:"drift_detected"`
	AddedColumns   []string          `json:"added_columns,omitempty"`
	RemovedColumns []string          `json:"removed_columns,omitempty"`
	Comparisons    []DriftComparison `json:"comparisons,omitempty"`
	Message        string            `json:"message,omitempty"`
}

// DetectDrift compares a current manifest against historical ones. Drift
// means any column added or removed relative to any historical snapshot;
// row count and size changes are reported but are not drift on their own.
func DetectDrift(current *Manifest, historical []*Manifest) *DriftReport {
	report := &DriftReport{}

	if len(historical) == 0 {
		report.Message = "no historical manifests to compare against"
		return report
	}

	added := make(map[string]struct{})
	removed := make(map[string]struct{})

	for _, old := range historical {
		if old.IsError() {
			continue
		}

		cmpAdded, cmpRemoved := diffColumns(old.Columns, current.Columns)
		for _, c := range cmpAdded {
			added[c] = struct{}{}
		}
		for _, c := range cmpRemoved {
			removed[c] = struct{}{}
		}

		report.Comparisons = append(report.Comparisons, DriftComparison{
			HistoricalFile:      old.File,
			HistoricalCreatedAt: old.CreatedAt,
			AddedColumns:        cmpAdded,
			RemovedColumns:      cmpRemoved,
			RowCountChange:      current.Rows - old.Rows,
			SizeChangeBytes:     current.SizeBytes - old.SizeBytes,
		})
	}

	if len(report.Comparisons) == 0 {
		report.Message = "no usable historical manifests to compare against"
		return report
	}

	report.AddedColumns = sortedKeys(added)
	report.RemovedColumns = sortedKeys(removed)
	report.DriftDetected = len(report.AddedColumns) > 0 || len(report.RemovedColumns) > 0
	return report
}

// MetricDelta is a signed change between two scalar metrics. PercentChange
// is +Inf when the baseline is zero and the other side is not.
type MetricDelta struct {
	A             int64   `json:"a"`
	B             int64   `json:"b"`
	Change        int64   `json:"change"`
	PercentChange float64 `json:"percent_change"`
}

func delta(a, b int64) MetricDelta {
	d := MetricDelta{A: a, B: b, Change: b - a}
	switch {
	case a != 0:
		d.PercentChange = float64(b-a) / float64(a) * 100
	case b != 0:
		d.PercentChange = math.Inf(1)
	}
	return d
}

// Comparison is a pairwise diff of two manifests.
type Comparison struct {
	FileA      string    `json:"file_a"`
	FileB      string    `json:"file_b"`
	ComparedAt time.Time `json:"compared_at"`

	Rows      MetricDelta `json:"rows"`
	SizeBytes MetricDelta `json:"size_bytes"`
	RowGroups MetricDelta `json:"row_groups"`

	// AddedColumns are in B but not A; RemovedColumns the reverse.
	AddedColumns   []string `json:"added_columns,omitempty"`
	RemovedColumns []string `json:"removed_columns,omitempty"`

	// ContentIdentical is true when both content hashes are present and
	// equal.
	ContentIdentical bool `json:"content_identical"`
}

// Compare diffs two manifests' scalar metrics, schemas, and content
// identity.
func Compare(a, b *Manifest) *Comparison {
	added, removed := diffColumns(a.Columns, b.Columns)
	return &Comparison{
		FileA:            a.File,
		FileB:            b.File,
		ComparedAt:       time.Now().UTC(),
		Rows:             delta(a.Rows, b.Rows),
		SizeBytes:        delta(a.SizeBytes, b.SizeBytes),
		RowGroups:        delta(int64(a.RowGroups), int64(b.RowGroups)),
		AddedColumns:     added,
		RemovedColumns:   removed,
		ContentIdentical: a.ContentHash != "" && a.ContentHash == b.ContentHash,
	}
}

// diffColumns returns columns present only in next (added) and only in
// prev (removed), both sorted.
func diffColumns(prev, next []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, c := range prev {
		prevSet[c] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, c := range next {
		nextSet[c] = struct{}{}
	}

	for c := range nextSet {
		if _, ok := prevSet[c]; !ok {
			added = append(added, c)
		}
	}
	for c := range prevSet {
		if _, ok := nextSet[c]; !ok {
			removed = append(removed, c)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
