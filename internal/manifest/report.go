package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// Report renders a manifest, and optionally its drift report, as markdown
// suitable for dropping into a build log or review thread.
func Report(m *Manifest, drift *DriftReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Data Manifest: %s\n\n", m.File)
	fmt.Fprintf(&b, "Generated: %s\n\n", m.CreatedAt.Format("2006-01-02 15:04:05 UTC"))

	if m.IsError() {
		fmt.Fprintf(&b, "**MANIFEST FAILED** (%s): %s\n", m.ErrType, m.Err)
		return b.String()
	}

	b.WriteString("## Structure\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Rows | %d |\n", m.Rows)
	fmt.Fprintf(&b, "| Row groups | %d |\n", m.RowGroups)
	fmt.Fprintf(&b, "| Columns | %d |\n", len(m.Columns))
	fmt.Fprintf(&b, "| Size | %.2f MB |\n", float64(m.SizeBytes)/(1024*1024))
	fmt.Fprintf(&b, "| Content hash | `%s` |\n\n", m.ContentHash)

	if len(m.Schema) > 0 {
		b.WriteString("## Schema\n\n")
		b.WriteString("| Column | Type | Nullable |\n|---|---|---|\n")
		for _, f := range m.Schema {
			fmt.Fprintf(&b, "| %s | %s | %t |\n", f.Name, f.Type, f.Nullable)
		}
		b.WriteString("\n")
	}

	if m.BusinessValidation != nil {
		b.WriteString("## Business Validation\n\n")
		if m.BusinessValidation.Passed {
			b.WriteString("Status: PASSED\n\n")
		} else {
			b.WriteString("Status: **FAILED**\n\n")
		}
		for _, v := range m.BusinessValidation.Violations {
			fmt.Fprintf(&b, "- VIOLATION: %s\n", v)
		}
		for _, w := range m.BusinessValidation.Warnings {
			fmt.Fprintf(&b, "- warning: %s\n", w)
		}
		if len(m.BusinessValidation.Violations)+len(m.BusinessValidation.Warnings) > 0 {
			b.WriteString("\n")
		}
	}
	if m.BusinessAnalysisError != "" {
		fmt.Fprintf(&b, "Business analysis failed: %s\n\n", m.BusinessAnalysisError)
	}

	if len(m.NullRates) > 0 {
		b.WriteString("## Null Rates\n\n")
		cols := make([]string, 0, len(m.NullRates))
		for c := range m.NullRates {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			fmt.Fprintf(&b, "- %s: %.2f%%\n", c, m.NullRates[c]*100)
		}
		b.WriteString("\n")
	}

	if drift != nil {
		b.WriteString("## Schema Drift\n\n")
		switch {
		case drift.Message != "":
			fmt.Fprintf(&b, "%s\n", drift.Message)
		case !drift.DriftDetected:
			fmt.Fprintf(&b, "No drift across %d historical manifests.\n", len(drift.Comparisons))
		default:
			b.WriteString("**Drift detected.**\n\n")
			if len(drift.AddedColumns) > 0 {
				fmt.Fprintf(&b, "- Added columns: %s\n", strings.Join(drift.AddedColumns, ", "))
			}
			if len(drift.RemovedColumns) > 0 {
				fmt.Fprintf(&b, "- Removed columns: %s\n", strings.Join(drift.RemovedColumns, ", "))
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\nBuilt in %.2fs (%.2f MB/s)\n",
		m.Performance.CreationTimeSeconds, m.Performance.ThroughputMBPerSec)
	return b.String()
}
