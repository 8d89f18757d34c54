package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runforge/runforge/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "runforge",
	Short: "Run governance and validation orchestration",
	Long: `Runforge governs data build runs: it opens a verified run context,
hashes and manifests columnar artifacts, orchestrates validation programs
as governed child processes, and emits an auditable build report.

Core capabilities:
- Deterministic content hashes for columnar files
- Structural manifests with business-rule validation and drift detection
- Governed run contexts with artifact and audit evidence
- Policy-driven validation orchestration with bounded concurrency
- Aggregated build reports in markdown and JSON`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// mustLoadConfig loads configuration or exits with a diagnostic.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// datamartFor resolves the datamart path for an environment name.
func datamartFor(cfg *config.Config, env string) (string, error) {
	envCfg, ok := cfg.EnvironmentFor(env)
	if !ok {
		return "", fmt.Errorf("environment %q is not configured", env)
	}
	return envCfg.DatamartPath, nil
}
