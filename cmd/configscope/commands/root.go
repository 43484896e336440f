package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	telemetryPath string
	dbPath        string
	verbose       bool
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "configscope",
		Short: "Evaluate layered configuration scopes",
		Long: `configscope evaluates configuration functions written in Starlark.

A config function is a def whose body is run as a sequence of assignments.
Every top-level name it binds becomes a configuration key. Functions and
literal files form a chain; each entry sees the previous entries' values
as presets, while fixed values always win and fallback values are read-only.

Results can be checked against a CUE schema and Rego policies, and every
run can be recorded in a SQLite history database.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&telemetryPath, "telemetry", "", "telemetry config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "run history database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
