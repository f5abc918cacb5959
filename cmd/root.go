// Package cmd contains the loom command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Loom - conversational assistant backend",
	Long: `Loom is the backend for a conversational assistant. It runs model
turns with tool calling, collects citation sources, and persists chat
history to PostgreSQL.

Run "loom serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
