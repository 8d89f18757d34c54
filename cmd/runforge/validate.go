package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/runforge/runforge/internal/orchestrator"
	"github.com/runforge/runforge/pkg/models"
)

var (
	validateEnv  string
	validateDir  string
	validateOnly []string
	validateSave string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run validation programs against a datamart",
	Long: `Discovers validation programs and runs them as governed child
processes under the configured per-program policies. Use --only to run a
subset by id; ids that match nothing are reported as warnings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		if validateEnv == "" {
			validateEnv = cfg.Defaults.Env
		}
		env := models.Environment(validateEnv)
		if !env.Valid() {
			return fmt.Errorf("invalid environment %q (valid: %v)", validateEnv, models.Environments())
		}
		datamart, err := datamartFor(cfg, validateEnv)
		if err != nil {
			return err
		}

		dir := validateDir
		if dir == "" {
			dir = cfg.Validation.Dir
		}
		policies, err := orchestrator.LoadPolicies(cfg.Validation.PolicyFile)
		if err != nil {
			return err
		}

		orch := orchestrator.New(orchestrator.Options{
			Dir:          dir,
			Env:          env,
			DatamartPath: datamart,
			Policies:     policies,
			Workers:      cfg.Validation.Workers,
			Timeout:      cfg.Validation.Timeout,
			SlowTimeout:  cfg.Validation.SlowTimeout,
			SlowPatterns: cfg.Validation.SlowPatterns,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var results map[string]*orchestrator.Outcome
		if len(validateOnly) > 0 {
			results, err = orch.RunSelected(ctx, validateOnly)
		} else {
			results, err = orch.RunAll(ctx)
		}
		if err != nil {
			return err
		}

		printOutcomes(results)
		summary := orch.Summary()
		fmt.Printf("\n%d/%d passed (%.1f%%), %d warnings, %d errors\n",
			summary.SuccessCount, summary.TotalCount, summary.SuccessRate,
			summary.WarningCount, summary.ErrorCount)

		if validateSave != "" {
			if err := orch.SaveResults(validateSave); err != nil {
				return err
			}
			fmt.Printf("results saved: %s\n", validateSave)
		}

		if orch.HasErrors() {
			color.Red("failed: %v", orch.FailedIDs())
			os.Exit(1)
		}
		return nil
	},
}

func printOutcomes(results map[string]*orchestrator.Outcome) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		res := results[id]
		label := fmt.Sprintf("%-30s %s (%.2fs)", id, res.Status, res.DurationSeconds)
		switch res.Status {
		case models.StatusSuccess:
			color.Green(label)
		case models.StatusWarning:
			color.Yellow(label)
		default:
			color.Red(label)
		}
		if res.Note != "" {
			fmt.Printf("  %s\n", res.Note)
		}
	}
}

func init() {
	validateCmd.Flags().StringVar(&validateEnv, "env", "", "Target environment")
	validateCmd.Flags().StringVar(&validateDir, "dir", "", "Validation program directory")
	validateCmd.Flags().StringSliceVar(&validateOnly, "only", nil, "Run only these program ids")
	validateCmd.Flags().StringVar(&validateSave, "save", filepath.Join("logs", "validation_results.json"), "Path for the JSON result file")
}
