package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowforge",
		Short: "FlowForge - Declarative site platform reconciliation",
		Long: `FlowForge reconciles declared site platform resources (sites, collections,
items, redirects, robots.txt, webhooks, assets) against the remote API.

Features:
  - Typed manifests via CUE
  - Light procedural scripting via Starlark
  - Drift detection against the remote system
  - In-place updates where supported, replace where not
  - Policy enforcement (OPA/Rego) for destructive operations
  - SQLite-backed state, pass history, and upload handoffs`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStateCommand())

	return rootCmd
}
