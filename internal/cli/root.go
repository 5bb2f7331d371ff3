// Package cli wires the cobra command tree for the gocep binary.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gocep",
	Short: "Thought forest engine for the Cognitive Emergence Protocol",
	Long: "gocep stores T-units (discrete modeled thoughts), reconstructs their\n" +
		"derivation forest, lays it out for rendering, and ranks memory recall\n" +
		"candidates by semantic and affective closeness.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "gocep.yaml", "path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(seedCmd)
}
