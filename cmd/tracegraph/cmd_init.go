package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/store"
)

const manifestTemplate = `# tracegraph manifest
version: "1.0"
created: %s

# The traceability database lives next to this file.
# Run 'tracegraph project create <name>' to start a model
# Run 'tracegraph validate <project-id>' to check it
`

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a traceability database in the project root",
		Long: `Create the .tracegraph/ directory and its SQLite database.

Examples:
  tracegraph init                 # Initialize in the current directory
  tracegraph init --root ./model  # Initialize somewhere else
  tracegraph init --global        # Create ~/.tracegraph for the user config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			global, _ := cmd.Flags().GetBool("global")
			out := cmd.OutOrStdout()

			if global {
				if err := store.EnsureGlobalDir(); err != nil {
					return fmt.Errorf("failed to initialize global directory: %w", err)
				}
				dir, err := store.GlobalPath()
				if err != nil {
					return fmt.Errorf("failed to get global path: %w", err)
				}
				if jsonOutput(cmd) {
					return writeJSON(out, map[string]interface{}{"status": "initialized", "path": dir})
				}
				fmt.Fprintf(out, "Initialized %s\n", dir)
				return nil
			}

			dir := store.LocalPath(root)
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("failed to create %s directory: %w", store.DirName, err)
			}

			manifestPath := filepath.Join(dir, "manifest.yaml")
			if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
				content := fmt.Sprintf(manifestTemplate, time.Now().Format(time.RFC3339))
				if err := os.WriteFile(manifestPath, []byte(content), 0600); err != nil {
					return fmt.Errorf("failed to create manifest.yaml: %w", err)
				}
			}

			// Opening the store creates the schema.
			s, err := store.NewSQLiteGraphStore(root)
			if err != nil {
				return fmt.Errorf("failed to create database: %w", err)
			}
			dbPath := s.Path()
			if err := s.Close(); err != nil {
				return fmt.Errorf("failed to close database: %w", err)
			}

			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"status":   "initialized",
					"path":     dir,
					"database": dbPath,
				})
			}
			fmt.Fprintf(out, "Initialized %s\n", dir)
			fmt.Fprintf(out, "  database: %s\n", dbPath)
			return nil
		},
	}

	cmd.Flags().Bool("global", false, "Initialize the user-level ~/.tracegraph directory")
	return cmd
}
