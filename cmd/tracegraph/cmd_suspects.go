package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/suspect"
)

func newSuspectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suspects <project-id>",
		Short: "List a project's open suspect links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := args[0]

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.engine.GetProject(cmd.Context(), projectID); err != nil {
				return describeErr("project", projectID, err)
			}
			links, err := a.engine.ListOpenSuspects(cmd.Context(), projectID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"project_id": projectID,
					"suspects":   links,
					"count":      len(links),
				})
			}
			if len(links) == 0 {
				fmt.Fprintln(out, "No open suspect links")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEDGE\tSOURCE\tTARGET\tFLAGGED\tREASON")
			for _, l := range links {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					l.ID, l.EdgeID, l.SourceID, l.TargetID,
					l.FlaggedAt.Format("2006-01-02 15:04"), l.FlaggedReason)
			}
			return tw.Flush()
		},
	}
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <suspect-id>",
		Short: "Mark a suspect link as reviewed",
		Long: `Mark a suspect link as reviewed. Resolving an already resolved link
succeeds and keeps the original resolver and time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, _ := cmd.Flags().GetString("by")
			id := args[0]

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.ResolveSuspect(cmd.Context(), id, by); err != nil {
				return describeErr("suspect link", id, err)
			}
			link, err := a.engine.Store().GetSuspect(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, link)
			}
			resolver := suspect.DefaultResolver
			if link.ResolvedBy != nil {
				resolver = *link.ResolvedBy
			}
			fmt.Fprintf(out, "Resolved %s (by %s)\n", id, resolver)
			return nil
		},
	}
	cmd.Flags().String("by", "", "Reviewer identity (default \"User\")")
	return cmd
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep <project-id>",
		Short: "Re-flag every derivation link leaving a requirement",
		Long: `Re-run suspect propagation for every requirement in a project.

Use this after a bulk import or when propagation was disabled, so that
downstream links are flagged for review. Links that already have an open
suspect are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			projectID := args[0]

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Sweep(cmd.Context(), projectID, reason)
			if err != nil {
				return describeErr("project", projectID, err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "Swept %d requirement(s): %d link(s) flagged", res.Requirements, res.Flagged)
			if res.Failed > 0 {
				fmt.Fprintf(out, ", %d failed", res.Failed)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().String("reason", "", "Reason recorded on new links (default \"revalidation sweep\")")
	return cmd
}
