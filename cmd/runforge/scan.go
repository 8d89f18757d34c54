package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/runforge/runforge/internal/enforce"
)

var scanStrict bool

var scanCmd = &cobra.Command{
	Use:   "scan <path>...",
	Short: "Scan scripts for governance hygiene problems",
	Long: `Scans scripts for throwaway patterns (debug prints, wildcard
imports, dynamic evaluation), missing license headers, missing tests, and
missing pipeline stages. Directories are scanned recursively.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := collectScripts(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no scripts found under %v", args)
		}

		problems := 0
		for _, file := range files {
			findings := enforce.CheckThrowawayPatterns(file)
			clean := len(findings) == 0

			var hygiene []string
			if !enforce.HasLicenseHeader(file) {
				hygiene = append(hygiene, "no license header")
			}
			if !enforce.HasTest(file) {
				hygiene = append(hygiene, "no test")
			}
			if !enforce.HasPipelineStage(file) {
				hygiene = append(hygiene, "no pipeline stage")
			}

			if clean && len(hygiene) == 0 {
				color.Green("%s: ok", file)
				continue
			}

			problems++
			color.Yellow("%s:", file)
			for _, f := range findings {
				fmt.Printf("  line %d: %s\n", f.Line, f.Description)
			}
			for _, h := range hygiene {
				fmt.Printf("  %s\n", h)
			}
		}

		fmt.Printf("\n%d/%d scripts flagged\n", problems, len(files))
		if scanStrict && problems > 0 {
			os.Exit(1)
		}
		return nil
	},
}

// collectScripts expands the given paths into script files. Directories
// contribute their .py and .sh files recursively.
func collectScripts(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := filepath.Ext(p)
			if ext == ".py" || ext == ".sh" {
				if !strings.HasPrefix(filepath.Base(p), "test_") {
					files = append(files, p)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}
	return files, nil
}

func init() {
	scanCmd.Flags().BoolVar(&scanStrict, "strict", false, "Exit non-zero if any script is flagged")
}
