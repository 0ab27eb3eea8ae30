package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by the release build.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tracegraph",
		Short: "Traceability integrity engine for systems engineering models",
		Long: `tracegraph keeps a typed graph of requirements, blocks, ports, tests and
the links between them. It records every meaningful requirement change,
flags downstream links as suspect when a requirement moves, and checks the
model for structural and semantic integrity issues.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (error, warn, info, debug, trace)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newConfigCmd(),
		newProjectCmd(),
		newNodeCmd(),
		newEdgeCmd(),
		newValidateCmd(),
		newHistoryCmd(),
		newSuspectsCmd(),
		newResolveCmd(),
		newSweepCmd(),
		newBaselineCmd(),
		newCommentCmd(),
		newReviewCmd(),
		newBackupCmd(),
		newMCPServerCmd(),
	)

	return rootCmd
}
