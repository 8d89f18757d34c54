package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/runforge/runforge/internal/report"
	"github.com/runforge/runforge/internal/runctx"
	"github.com/runforge/runforge/internal/store"
	"github.com/runforge/runforge/internal/tabular"
	"github.com/runforge/runforge/pkg/models"
)

var (
	reportEnv    string
	reportOutDir string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a build report for a datamart",
	Long: `Generates a standalone build report from a datamart: table
inventory, content hashes of canonical exports, data quality metrics, and
numeric column statistics, rendered as both markdown and JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		if reportEnv == "" {
			reportEnv = cfg.Defaults.Env
		}
		env := models.Environment(reportEnv)
		if !env.Valid() {
			return fmt.Errorf("invalid environment %q (valid: %v)", reportEnv, models.Environments())
		}
		datamart, err := datamartFor(cfg, reportEnv)
		if err != nil {
			return err
		}

		st, err := store.Open(datamart)
		if err != nil {
			return err
		}
		defer st.Close()

		outDir := reportOutDir
		if outDir == "" {
			outDir = cfg.Report.OutputDir
		}

		reporter := report.NewReporter(st, tabular.NewParquetReader(), cfg.Report.ExportDir)
		built := reporter.Generate(report.Inputs{
			Metadata: report.RunMetadata{
				Env:         env,
				Ruleset:     cfg.Defaults.Ruleset,
				GeneratedAt: time.Now().UTC(),
				GitSHA:      os.Getenv(runctx.EnvGitSHA),
				DVCRev:      os.Getenv(runctx.EnvDVCRev),
			},
			Stages:          cfg.Report.Stages,
			DatamartPath:    datamart,
			HashDropColumns: cfg.Report.HashDropColumns,
		})

		mdPath := filepath.Join(outDir, "build_report.md")
		jsonPath := filepath.Join(outDir, "build_report.json")
		if err := report.WriteMarkdown(built, mdPath); err != nil {
			return err
		}
		if err := report.WriteJSON(built, jsonPath); err != nil {
			return err
		}

		fmt.Printf("report written: %s, %s\n", mdPath, jsonPath)
		if built.Status == models.StatusError {
			color.Red("report status: %s (%d errors)", built.Status, len(built.RollUp.Errors))
			os.Exit(1)
		}
		color.Green("report status: %s", built.Status)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportEnv, "env", "", "Target environment")
	reportCmd.Flags().StringVar(&reportOutDir, "out", "", "Report output directory")
}
