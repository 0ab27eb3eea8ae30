package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/store"
)

func newEdgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Write and delete traceability links",
	}
	cmd.AddCommand(
		newEdgePutCmd(),
		newEdgeDeleteCmd(),
	)
	return cmd
}

func newEdgePutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <kind> <source-id> <target-id>",
		Short: "Create or update an edge",
		Long: `Create or update a typed edge between two nodes.

Endpoints are not required to exist; 'tracegraph validate' reports
dangling ones.

Examples:
  tracegraph edge put derives REQ_A REQ_B --project P
  tracegraph edge put satisfies BLOCK REQ --project P --label "primary"`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			projectID, _ := cmd.Flags().GetString("project")
			label, _ := cmd.Flags().GetString("label")

			kind, err := models.ParseEdgeKind(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			edge := models.Edge{ID: id}
			if id != "" {
				existing, err := a.engine.Store().GetEdge(cmd.Context(), id)
				switch {
				case err == nil:
					edge = *existing
				case !errors.Is(err, store.ErrNotFound):
					return err
				}
			}
			if edge.ProjectID == "" {
				if projectID == "" {
					return fmt.Errorf("--project is required for a new edge")
				}
				edge.ProjectID = projectID
			}
			edge.Kind = kind
			edge.SourceID = args[1]
			edge.TargetID = args[2]
			if cmd.Flags().Changed("label") {
				edge.Label = label
			}

			saved, err := a.engine.UpsertEdge(cmd.Context(), edge)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), saved)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved edge %s: %s -%s-> %s\n", saved.ID, saved.SourceID, saved.Kind, saved.TargetID)
			return nil
		},
	}
	cmd.Flags().String("id", "", "Edge ID (generated when empty)")
	cmd.Flags().StringP("project", "p", "", "Project ID")
	cmd.Flags().String("label", "", "Edge label")
	return cmd
}

func newEdgeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <edge-id>",
		Short: "Delete an edge and its suspect links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.DeleteEdge(cmd.Context(), args[0]); err != nil {
				return describeErr("edge", args[0], err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "id": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted edge %s\n", args[0])
			return nil
		},
	}
}
