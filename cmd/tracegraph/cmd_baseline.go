package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/baseline"
)

func newBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Freeze and compare named copies of a project's model",
		Long: `Baselines are frozen, compressed copies of a project's nodes and edges.

Examples:
  tracegraph baseline create P "PDR" -d "Preliminary design review"
  tracegraph baseline list P
  tracegraph baseline diff B1            # B1 against the live model
  tracegraph baseline diff B1 B2         # two baselines`,
	}
	cmd.AddCommand(
		newBaselineCreateCmd(),
		newBaselineListCmd(),
		newBaselineShowCmd(),
		newBaselineDeleteCmd(),
		newBaselineDiffCmd(),
	)
	return cmd
}

func newBaselineCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <project-id> <name>",
		Short: "Freeze the project's current model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			by, _ := cmd.Flags().GetString("by")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.baselines.Create(cmd.Context(), args[0], args[1], description, by)
			if err != nil {
				return describeErr("project", args[0], err)
			}

			if jsonOutput(cmd) {
				b.Snapshot = nil
				return writeJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created baseline %s (%s): %d node(s), %d edge(s)\n",
				b.Name, b.ID, len(b.Snapshot.Nodes), len(b.Snapshot.Edges))
			return nil
		},
	}
	cmd.Flags().StringP("description", "d", "", "Baseline description")
	cmd.Flags().String("by", "", "Creator (default \"User\")")
	return cmd
}

func newBaselineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's baselines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.baselines.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{"baselines": list, "count": len(list)})
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No baselines")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED BY\tCREATED")
			for _, b := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Name, b.CreatedBy, b.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func newBaselineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <baseline-id>",
		Short: "Show a baseline and its frozen model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.baselines.Get(cmd.Context(), args[0])
			if err != nil {
				return describeErr("baseline", args[0], err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, b)
			}
			fmt.Fprintf(out, "%s (%s)\n", b.Name, b.ID)
			if b.Description != "" {
				fmt.Fprintf(out, "  %s\n", b.Description)
			}
			fmt.Fprintf(out, "  created by %s at %s\n", b.CreatedBy, b.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "  %d node(s), %d edge(s)\n", len(b.Snapshot.Nodes), len(b.Snapshot.Edges))
			for _, n := range b.Snapshot.Nodes {
				fmt.Fprintf(out, "    %-16s %s (%s)\n", n.Kind, n.Name, n.ID)
			}
			return nil
		},
	}
}

func newBaselineDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <baseline-id>",
		Short: "Delete a baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.baselines.Delete(cmd.Context(), args[0]); err != nil {
				return describeErr("baseline", args[0], err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "id": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted baseline %s\n", args[0])
			return nil
		},
	}
}

func newBaselineDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <from-baseline-id> [to-baseline-id]",
		Short: "Compare a baseline with another baseline or the live model",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromID, toID := args[0], ""
			if len(args) == 2 {
				toID = args[1]
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.baselines.Compare(cmd.Context(), fromID, toID)
			if err != nil {
				return describeErr("baseline", fromID+" "+toID, err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, d)
			}
			printDiff(out, d)
			return nil
		},
	}
}

func printDiff(w io.Writer, d *baseline.Diff) {
	if d.Empty() {
		fmt.Fprintln(w, "No differences")
		return
	}
	sections := []struct {
		mark string
		what string
		ids  []string
	}{
		{"+", "node", d.AddedNodes},
		{"-", "node", d.RemovedNodes},
		{"~", "node", d.ChangedNodes},
		{"+", "edge", d.AddedEdges},
		{"-", "edge", d.RemovedEdges},
		{"~", "edge", d.ChangedEdges},
	}
	for _, s := range sections {
		for _, id := range s.ids {
			fmt.Fprintf(w, "%s %s %s\n", s.mark, s.what, id)
		}
	}
}
