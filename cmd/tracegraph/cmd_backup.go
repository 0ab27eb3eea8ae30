package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/backup"
	"github.com/nvandessel/tracegraph/internal/pathutil"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up and restore a project's model",
		Long: `Write a project's nodes and edges to a compressed backup file, list
backups, and restore them.

Backups live in ~/.tracegraph/backups/<project-id>/ by default. Paths given
with --output or to restore must stay inside ~/.tracegraph or the project's
.tracegraph directory.

Examples:
  tracegraph backup create P                    # Back up, keep the 10 newest
  tracegraph backup create P --max-age 30d      # Also keep anything from the last 30 days
  tracegraph backup list P
  tracegraph backup restore FILE --project P    # Merge into P
  tracegraph backup restore FILE --project P --mode overwrite`,
	}
	cmd.AddCommand(
		newBackupCreateCmd(),
		newBackupListCmd(),
		newBackupRestoreCmd(),
	)
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <project-id>",
		Short: "Back up a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAge, _ := cmd.Flags().GetString("max-age")
			maxSize, _ := cmd.Flags().GetString("max-size")
			projectID := args[0]

			policy, err := backup.PolicyFromFlags(keep, maxAge, maxSize)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			allowed, err := pathutil.DataDirs(a.root)
			if err != nil {
				return err
			}
			if output == "" {
				dir, err := backup.DefaultDir(projectID)
				if err != nil {
					return err
				}
				output = backup.GeneratePath(dir)
			}

			info, err := backup.Backup(cmd.Context(), a.engine, projectID, output, allowed...)
			if err != nil {
				return describeErr("project", projectID, err)
			}

			var deleted []string
			if policy != nil {
				if deleted, err = backup.ApplyRetention(filepath.Dir(output), policy); err != nil {
					return fmt.Errorf("retention failed: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"backup":  info,
					"deleted": deleted,
				})
			}
			fmt.Fprintf(out, "Backed up %d node(s), %d edge(s) to %s\n", info.NodeCount, info.EdgeCount, info.Path)
			if len(deleted) > 0 {
				fmt.Fprintf(out, "Removed %d old backup(s)\n", len(deleted))
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Backup file (default ~/.tracegraph/backups/<project-id>/...)")
	cmd.Flags().Int("keep", 10, "Keep this many newest backups (0 disables count retention)")
	cmd.Flags().String("max-age", "", "Also keep backups newer than this, e.g. 30d, 2w, 720h")
	cmd.Flags().String("max-size", "", "Also keep newest backups up to this total size, e.g. 100MB")
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's backups in the default directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := backup.DefaultDir(args[0])
			if err != nil {
				return err
			}
			backups, err := backup.ListBackups(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"directory": dir,
					"backups":   backups,
					"count":     len(backups),
				})
			}
			if len(backups) == 0 {
				fmt.Fprintf(out, "No backups in %s\n", dir)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tNODES\tEDGES\tSIZE\tCREATED")
			for _, b := range backups {
				nodes, edges := fmt.Sprint(b.NodeCount), fmt.Sprint(b.EdgeCount)
				if !b.Readable {
					nodes, edges = "?", "?"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", filepath.Base(b.Path), nodes, edges, b.Size, b.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore a backup into a project",
		Long: `Restore a backup's nodes and edges into an existing project.

In merge mode (default) nodes and edges whose IDs already exist are left
alone. In overwrite mode every node and edge from the backup is written.
Restored requirements are recorded in history as changes by backup-restore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, _ := cmd.Flags().GetString("project")
			modeText, _ := cmd.Flags().GetString("mode")
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			mode, err := backup.ParseRestoreMode(modeText)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			allowed, err := pathutil.DataDirs(a.root)
			if err != nil {
				return err
			}
			res, err := backup.Restore(cmd.Context(), a.engine, args[0], projectID, mode, allowed...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "Restored %d node(s), %d edge(s)", res.NodesRestored, res.EdgesRestored)
			if res.NodesSkipped+res.EdgesSkipped > 0 {
				fmt.Fprintf(out, "; skipped %d existing node(s), %d existing edge(s)", res.NodesSkipped, res.EdgesSkipped)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringP("project", "p", "", "Project to restore into")
	cmd.Flags().String("mode", "merge", "Restore mode: merge or overwrite")
	return cmd
}
