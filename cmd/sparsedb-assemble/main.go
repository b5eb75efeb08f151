// Package main provides the entry point for the sparsedb-assemble CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perftools/sparsedb-core/cmd/sparsedb-assemble/commands"
	"github.com/perftools/sparsedb-core/internal/formatsdoc"
	"github.com/perftools/sparsedb-core/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "sparsedb-assemble",
		Short: "Sparse-database assembly core — local simulation and format reference",
		Long: `sparsedb-assemble drives the post-mortem sparse-database assembly core
(profile.db, cct.db, trace.db) through a local, single-process simulation
of a multi-rank profiling run, for demonstration and manual testing.

Commands:
  run      Simulate a local multi-rank run and assemble the three output files
  formats  Print the on-disk format reference for profile.db/cct.db/trace.db
  version  Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(formatsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "Print the on-disk format reference for profile.db/cct.db/trace.db",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprint(os.Stdout, formatsdoc.Text())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "sparsedb-assemble %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
