// Package cmd implements the worker's command-line surface. The only
// subcommand is start: there is nothing else for this process to do.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "weaver",
	Short:   "Background crawl-and-embed worker for a retrieval-augmented document graph",
	Version: "1.0.0",
}

// Execute runs the root command, exiting non-zero on any error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
}
