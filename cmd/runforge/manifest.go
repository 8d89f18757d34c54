package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/runforge/runforge/internal/manifest"
	"github.com/runforge/runforge/internal/tabular"
)

var (
	manifestBusiness bool
	manifestDrift    bool
	manifestCompare  string
	manifestOutDir   string
	manifestMarkdown bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest <file>",
	Short: "Build a manifest for a columnar file",
	Long: `Builds a structural and statistical snapshot of a columnar file:
size, rows, schema, content hash, and optionally business-rule validation
over a bounded sample. With --drift, compares against historical manifests
in the output directory. With --compare, diffs against a second file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		builder := manifest.NewBuilder(tabular.NewParquetReader(), cfg.Rules.RuleSet())

		m := builder.Build(args[0], manifestBusiness)

		if manifestCompare != "" {
			other := builder.Build(manifestCompare, false)
			cmp := manifest.Compare(m, other)
			return printJSON(cmp)
		}

		var drift *manifest.DriftReport
		if manifestDrift {
			historical := manifest.LoadHistorical(manifestOutDir)
			drift = manifest.DetectDrift(m, historical)
		}

		path, err := manifest.Write(m, manifestOutDir)
		if err != nil {
			return err
		}

		if manifestMarkdown {
			fmt.Print(manifest.Report(m, drift))
		} else {
			if err := printJSON(m); err != nil {
				return err
			}
			if drift != nil {
				if err := printJSON(drift); err != nil {
					return err
				}
			}
		}

		if m.IsError() {
			color.Red("manifest failed: %s", m.Err)
			os.Exit(1)
		}
		color.Green("manifest written: %s", path)
		return nil
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	manifestCmd.Flags().BoolVar(&manifestBusiness, "business", false, "Run business-rule analysis on a sample")
	manifestCmd.Flags().BoolVar(&manifestDrift, "drift", false, "Detect schema drift against historical manifests")
	manifestCmd.Flags().StringVar(&manifestCompare, "compare", "", "Compare against a second columnar file")
	manifestCmd.Flags().StringVar(&manifestOutDir, "out", "manifests", "Directory for persisted manifests")
	manifestCmd.Flags().BoolVar(&manifestMarkdown, "markdown", false, "Render the manifest as markdown")
}
