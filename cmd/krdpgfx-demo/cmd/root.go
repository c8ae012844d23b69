// Package cmd implements the krdpgfx-demo CLI: a harness that drives
// the core graphics pipeline against a synthetic capture source and a
// logging loopback transport, for manual exercise and debugging.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "krdpgfx-demo",
	Short: "Exercises the krdpgfx core against a synthetic capture source",
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults built in if omitted)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(injectPacketStormCmd)
	rootCmd.AddCommand(replayCmd)
}

// Execute runs the CLI, exiting the process with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
