package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Shows the configuration after applying the full precedence chain:
environment variables over project .runforge.yaml over user config over
built-in defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()

		if configJSON {
			return printJSON(cfg)
		}

		color.Cyan("Defaults")
		fmt.Printf("  env:          %s\n", cfg.Defaults.Env)
		fmt.Printf("  diag_level:   %d\n", cfg.Defaults.DiagLevel)
		fmt.Printf("  ruleset:      %s\n", cfg.Defaults.Ruleset)
		fmt.Printf("  evidence_dir: %s\n", cfg.Defaults.EvidenceDir)

		color.Cyan("Environments")
		names := make([]string, 0, len(cfg.Environments))
		for name := range cfg.Environments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			env := cfg.Environments[name]
			mode := "read-write"
			if env.ReadOnly {
				mode = "read-only"
			}
			fmt.Printf("  %-8s %s (%s)\n", name, env.DatamartPath, mode)
		}

		color.Cyan("Validation")
		fmt.Printf("  dir:          %s\n", cfg.Validation.Dir)
		fmt.Printf("  workers:      %d\n", cfg.Validation.Workers)
		fmt.Printf("  timeout:      %s\n", cfg.Validation.Timeout)
		fmt.Printf("  slow_timeout: %s\n", cfg.Validation.SlowTimeout)
		fmt.Printf("  policy_file:  %s\n", cfg.Validation.PolicyFile)

		color.Cyan("Report")
		fmt.Printf("  output_dir: %s\n", cfg.Report.OutputDir)
		fmt.Printf("  export_dir: %s\n", cfg.Report.ExportDir)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configJSON, "json", false, "Print the configuration as JSON")
}
