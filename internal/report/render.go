package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WriteJSON persists the report model verbatim.
func WriteJSON(report *BuildReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal build report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write build report: %w", err)
	}
	return nil
}

// WriteMarkdown renders the report as a human-readable document. Section
// order is fixed: metadata, configuration, table inventory, table hashes,
// validation results, secondary analysis, data quality, statistics, step
// log, warnings, errors, lineage.
func WriteMarkdown(report *BuildReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Markdown(report)), 0644); err != nil {
		return fmt.Errorf("write build report: %w", err)
	}
	return nil
}

// Markdown renders the report document from the aggregated model.
func Markdown(r *BuildReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Build Report: %s\n\n", r.Metadata.RunID)
	fmt.Fprintf(&b, "**Status: %s**\n\n", strings.ToUpper(string(r.Status)))

	b.WriteString("## Run Metadata\n\n")
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Run ID | %s |\n", r.Metadata.RunID)
	fmt.Fprintf(&b, "| Environment | %s |\n", r.Metadata.Env)
	fmt.Fprintf(&b, "| Ruleset | %s |\n", r.Metadata.Ruleset)
	fmt.Fprintf(&b, "| Generated | %s |\n", r.Metadata.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "| Duration | %.2fs |\n", r.Metadata.DurationSeconds)
	fmt.Fprintf(&b, "| Git SHA | %s |\n", r.Metadata.GitSHA)
	fmt.Fprintf(&b, "| DVC rev | %s |\n\n", r.Metadata.DVCRev)

	b.WriteString("## Configuration\n\n")
	fmt.Fprintf(&b, "Datamart: `%s`\n\n", r.Configuration.DatamartPath)
	for _, stage := range sortedStages(r.Configuration.Stages) {
		mark := "disabled"
		if r.Configuration.Stages[stage] {
			mark = "enabled"
		}
		fmt.Fprintf(&b, "- %s: %s\n", stage, mark)
	}
	b.WriteString("\n")

	b.WriteString("## Table Inventory\n\n")
	if len(r.Tables) == 0 {
		b.WriteString("No tables.\n\n")
	} else {
		b.WriteString("| Table | Rows | Columns |\n|---|---|---|\n")
		for _, tbl := range r.Tables {
			fmt.Fprintf(&b, "| %s | %d | %d |\n", tbl.Name, tbl.Rows, tbl.Columns)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Table Hashes\n\n")
	for _, h := range r.Hashes {
		if h.Err != "" {
			fmt.Fprintf(&b, "- %s: hash failed (%s)\n", h.Table, h.Err)
			continue
		}
		fmt.Fprintf(&b, "- %s: `%s` (%s, %d rows)\n", h.Table, h.Hash, h.Algorithm, h.RowCount)
	}
	b.WriteString("\n")

	b.WriteString("## Validation Results\n\n")
	if len(r.Validation) == 0 {
		b.WriteString("No validations ran.\n\n")
	} else {
		ids := make([]string, 0, len(r.Validation))
		for id := range r.Validation {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out := r.Validation[id]
			fmt.Fprintf(&b, "- %s: %s (%.2fs)", id, out.Status, out.DurationSeconds)
			if out.Note != "" {
				fmt.Fprintf(&b, " — %s", out.Note)
			}
			b.WriteString("\n")
		}
		if r.ValidationSummary != nil {
			fmt.Fprintf(&b, "\n%d/%d passed (%.1f%%)\n",
				r.ValidationSummary.SuccessCount, r.ValidationSummary.TotalCount, r.ValidationSummary.SuccessRate)
		}
		b.WriteString("\n")
	}

	if len(r.Secondary) > 0 {
		b.WriteString("## Secondary Analysis\n\n")
		for _, a := range r.Secondary {
			fmt.Fprintf(&b, "- %s: %s", a.Name, a.Status)
			if a.Details != "" {
				fmt.Fprintf(&b, " — %s", a.Details)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Data Quality\n\n")
	if len(r.Quality) > 0 {
		b.WriteString("| Table | Null rate | Distinct-row ratio |\n|---|---|---|\n")
		for _, q := range r.Quality {
			if q.Err != "" {
				fmt.Fprintf(&b, "| %s | error: %s | |\n", q.Table, q.Err)
				continue
			}
			fmt.Fprintf(&b, "| %s | %.4f | %.4f |\n", q.Table, q.NullRate, q.DistinctRowRatio)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Statistics\n\n")
	if len(r.Stats) > 0 {
		b.WriteString("| Table | Column | Count | Min | Max | Mean | StdDev |\n|---|---|---|---|---|---|---|\n")
		for _, s := range r.Stats {
			if s.Err != "" {
				fmt.Fprintf(&b, "| %s | %s | error: %s | | | | |\n", s.Table, s.Column, s.Err)
				continue
			}
			fmt.Fprintf(&b, "| %s | %s | %.0f | %.2f | %.2f | %.2f | %.2f |\n",
				s.Table, s.Column, s.Count, s.Min, s.Max, s.Mean, s.StdDev)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Step Log\n\n")
	for _, step := range r.Steps {
		fmt.Fprintf(&b, "- %s: %s (%.2fs)", step.Name, step.Status, step.DurationSeconds)
		if step.Message != "" {
			fmt.Fprintf(&b, " — %s", step.Message)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("## Warnings\n\n")
	if len(r.RollUp.Warnings) == 0 {
		b.WriteString("None.\n")
	}
	for _, w := range r.RollUp.Warnings {
		fmt.Fprintf(&b, "- %s\n", w)
	}
	b.WriteString("\n## Errors\n\n")
	if len(r.RollUp.Errors) == 0 {
		b.WriteString("None.\n")
	}
	for _, e := range r.RollUp.Errors {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	b.WriteString("\n")

	b.WriteString("## Lineage\n\n")
	fmt.Fprintf(&b, "Source: `%s`\n\n", r.Lineage.Source)
	fmt.Fprintf(&b, "Output: `%s`\n\n", r.Lineage.Output)
	for _, stage := range sortedStages(r.Lineage.Stages) {
		fmt.Fprintf(&b, "- %s: %t\n", stage, r.Lineage.Stages[stage])
	}

	return b.String()
}

func sortedStages(stages map[string]bool) []string {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
