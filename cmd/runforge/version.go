package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runforge/runforge/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the runforge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("runforge version %s\n", version.Get())
	},
}
