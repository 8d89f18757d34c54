package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/runforge/runforge/internal/diag"
	"github.com/runforge/runforge/internal/enforce"
	"github.com/runforge/runforge/internal/orchestrator"
	"github.com/runforge/runforge/internal/report"
	"github.com/runforge/runforge/internal/runctx"
	"github.com/runforge/runforge/internal/store"
	"github.com/runforge/runforge/internal/tabular"
	"github.com/runforge/runforge/pkg/models"
)

var (
	runEnvFlag  string
	runDiagFlag int
	runRuleset  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a governed build run end to end",
	Long: `Opens a governed run context, exports datamart tables as hashed
columnar artifacts, orchestrates validation programs as governed children,
runs the configured diagnostics, generates the build report, and finalizes
the run evidence. Interrupts cancel in-flight validations cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		if runEnvFlag == "" {
			runEnvFlag = cfg.Defaults.Env
		}
		if !cmd.Flags().Changed("diag") {
			runDiagFlag = cfg.Defaults.DiagLevel
		}
		if runRuleset == "" {
			runRuleset = cfg.Defaults.Ruleset
		}

		env := models.Environment(runEnvFlag)
		if !env.Valid() {
			return fmt.Errorf("invalid environment %q (valid: %v)", runEnvFlag, models.Environments())
		}
		datamart, err := datamartFor(cfg, runEnvFlag)
		if err != nil {
			return err
		}

		rc, err := runctx.New(runctx.Options{
			DiagLevel:   runDiagFlag,
			Ruleset:     runRuleset,
			Env:         env,
			EvidenceDir: cfg.Defaults.EvidenceDir,
		})
		if err != nil {
			return err
		}
		color.Cyan("run %s", rc.RunID())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		guard := enforce.NewGuard(cfg.Enforcement.AllowedPaths, nil)
		if len(cfg.Enforcement.WatchDirs) > 0 {
			monitor := enforce.NewMonitor(cfg.Enforcement.WatchDirs, guard, nil)
			if err := monitor.Install(); err != nil {
				color.Yellow("write monitor unavailable: %v", err)
			} else {
				defer monitor.Close()
			}
		}

		st, err := store.Open(datamart)
		if err != nil {
			return fmt.Errorf("open datamart: %w", err)
		}
		defer st.Close()

		var steps []report.StepResult
		step := func(name string, fn func() (string, error)) {
			start := time.Now()
			msg, err := fn()
			result := report.StepResult{
				Name:            name,
				Status:          models.StatusSuccess,
				DurationSeconds: time.Since(start).Seconds(),
				Message:         msg,
			}
			if err != nil {
				result.Status = models.StatusError
				result.Message = err.Error()
				color.Red("step %s: %v", name, err)
			}
			steps = append(steps, result)
			rc.LogOperation("step_"+name, map[string]any{
				"status":   string(result.Status),
				"duration": result.DurationSeconds,
			})
		}

		stages := cfg.Report.Stages
		reader := tabular.NewParquetReader()

		var artifacts []string
		if stages["export"] {
			step("export", func() (string, error) {
				tables, err := st.ListTables()
				if err != nil {
					return "", err
				}
				for _, table := range tables {
					path, err := st.ExportTable(table, cfg.Report.ExportDir)
					if err != nil {
						return "", fmt.Errorf("export %s: %w", table, err)
					}
					if _, err := rc.RegisterArtifact(path, "columnar_export", map[string]any{"table": table}); err != nil {
						return "", err
					}
					artifacts = append(artifacts, path)
				}
				return fmt.Sprintf("%d tables exported", len(tables)), nil
			})
		}

		var validation map[string]*orchestrator.Outcome
		var validationSummary *orchestrator.Summary
		if stages["validate"] {
			step("validate", func() (string, error) {
				policies, err := orchestrator.LoadPolicies(cfg.Validation.PolicyFile)
				if err != nil {
					return "", err
				}
				orch := orchestrator.New(orchestrator.Options{
					Dir:          cfg.Validation.Dir,
					Env:          env,
					DatamartPath: datamart,
					Policies:     policies,
					Workers:      cfg.Validation.Workers,
					Timeout:      cfg.Validation.Timeout,
					SlowTimeout:  cfg.Validation.SlowTimeout,
					SlowPatterns: cfg.Validation.SlowPatterns,
					ExtraEnv:     rc.EnvContract(),
				})
				validation, err = orch.RunAll(ctx)
				if err != nil {
					return "", err
				}
				validationSummary = orch.Summary()

				resultsPath := filepath.Join(rc.EvidenceDir(), "validation_results.json")
				if err := orch.SaveResults(resultsPath); err != nil {
					return "", err
				}
				msg := fmt.Sprintf("%d/%d passed", validationSummary.SuccessCount, validationSummary.TotalCount)
				if orch.HasErrors() {
					return msg, fmt.Errorf("validation failed: %v", orch.FailedIDs())
				}
				return msg, nil
			})
		}

		var secondary []report.AnalysisResult
		if runDiagFlag > 0 {
			step("diagnostics", func() (string, error) {
				engine := diag.NewEngine(reader)
				res, err := engine.Run(runDiagFlag, artifacts)
				if err != nil {
					return "", err
				}
				for _, check := range res.Checks {
					status := models.StatusSuccess
					if !check.Passed {
						status = models.StatusWarning
					}
					secondary = append(secondary, report.AnalysisResult{
						Name:    check.Name,
						Status:  status,
						Details: check.Details,
					})
				}
				return fmt.Sprintf("level %d, %d checks", res.Level, len(res.Checks)), nil
			})
		}

		if stages["report"] {
			step("report", func() (string, error) {
				reporter := report.NewReporter(st, reader, cfg.Report.ExportDir)
				built := reporter.Generate(report.Inputs{
					Metadata: report.RunMetadata{
						RunID:       rc.RunID(),
						Env:         env,
						Ruleset:     runRuleset,
						GeneratedAt: time.Now().UTC(),
						GitSHA:      os.Getenv(runctx.EnvGitSHA),
						DVCRev:      os.Getenv(runctx.EnvDVCRev),
					},
					Stages:            stages,
					DatamartPath:      datamart,
					Steps:             steps,
					Validation:        validation,
					ValidationSummary: validationSummary,
					Secondary:         secondary,
					HashDropColumns:   cfg.Report.HashDropColumns,
				})

				mdPath := filepath.Join(cfg.Report.OutputDir, "build_report.md")
				jsonPath := filepath.Join(cfg.Report.OutputDir, "build_report.json")
				if err := report.WriteMarkdown(built, mdPath); err != nil {
					return "", err
				}
				if err := report.WriteJSON(built, jsonPath); err != nil {
					return "", err
				}
				if _, err := rc.RegisterArtifact(jsonPath, "build_report", nil); err != nil {
					return "", err
				}
				return fmt.Sprintf("status %s", built.Status), nil
			})
		}

		summary, err := rc.Finalize()
		if err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}

		failed := false
		for _, s := range steps {
			if s.Status == models.StatusError {
				failed = true
			}
		}
		fmt.Printf("\nrun %s finished in %.1fs\n", summary.RunID, summary.DurationSeconds)
		fmt.Printf("evidence: %s\n", rc.EvidenceDir())
		if failed {
			color.Red("run completed with errors")
			os.Exit(1)
		}
		color.Green("run completed")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runEnvFlag, "env", "", "Target environment")
	runCmd.Flags().IntVar(&runDiagFlag, "diag", 0, "Diagnostic level (0-9)")
	runCmd.Flags().StringVar(&runRuleset, "ruleset", "", "Ruleset version identifier")
}
