package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/models"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run review sessions over a set of nodes",
		Long: `A review session puts nodes up for a verdict. The first verdict moves the
session from open to in_progress; closing it as approved, rejected or closed
freezes it.

Examples:
  tracegraph review create P "PDR" --node REQ_A --node REQ_B
  tracegraph review verdict ITEM approved --note "ok"
  tracegraph review show R
  tracegraph review close R --status approved`,
	}
	cmd.AddCommand(
		newReviewCreateCmd(),
		newReviewListCmd(),
		newReviewShowCmd(),
		newReviewVerdictCmd(),
		newReviewCloseCmd(),
	)
	return cmd
}

func newReviewCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <project-id> <title>",
		Short: "Open a review session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, _ := cmd.Flags().GetStringSlice("node")
			description, _ := cmd.Flags().GetString("description")
			by, _ := cmd.Flags().GetString("by")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rs, err := a.engine.CreateReview(cmd.Context(), args[0], args[1], description, by, nodes)
			if err != nil {
				return describeErr("project or node", args[0], err)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), rs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created review %s (%s) with %d item(s)\n", rs.Title, rs.ID, len(rs.Items))
			return nil
		},
	}
	cmd.Flags().StringSlice("node", nil, "Node to review (repeatable)")
	cmd.Flags().StringP("description", "d", "", "Session description")
	cmd.Flags().String("by", "", "Creator (default \"User\")")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func newReviewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's review sessions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.engine.ListReviews(cmd.Context(), args[0])
			if err != nil {
				return describeErr("project", args[0], err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"project_id": args[0],
					"reviews":    sessions,
					"count":      len(sessions),
				})
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No review sessions")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tITEMS\tCREATED\tBY")
			for _, rs := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					rs.ID, rs.Title, rs.Status, len(rs.Items), rs.CreatedAt.Format("2006-01-02 15:04"), rs.CreatedBy)
			}
			return tw.Flush()
		},
	}
}

func newReviewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <review-id>",
		Short: "Show a review session and its verdicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rs, err := a.engine.GetReview(cmd.Context(), args[0])
			if err != nil {
				return describeErr("review session", args[0], err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), rs)
			}
			return printReview(cmd.OutOrStdout(), rs)
		},
	}
}

func printReview(w io.Writer, rs *models.ReviewSession) error {
	fmt.Fprintf(w, "%s (%s)\n", rs.Title, rs.ID)
	fmt.Fprintf(w, "Status:  %s\n", rs.Status)
	fmt.Fprintf(w, "Created: %s by %s\n", rs.CreatedAt.Format("2006-01-02 15:04"), rs.CreatedBy)
	if rs.Description != "" {
		fmt.Fprintf(w, "\n%s\n", rs.Description)
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tNODE\tVERDICT\tBY\tNOTE")
	for _, it := range rs.Items {
		verdict := string(it.Verdict)
		if verdict == "" {
			verdict = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.NodeID, verdict, it.VerdictBy, it.VerdictNote)
	}
	return tw.Flush()
}

func newReviewVerdictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verdict <item-id> <approved|rejected|needs_changes>",
		Short: "Record a verdict on a review item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, _ := cmd.Flags().GetString("by")
			note, _ := cmd.Flags().GetString("note")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.SetVerdict(cmd.Context(), args[0], args[1], by, note); err != nil {
				return describeErr("review item", args[0], err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"item_id": args[0],
					"verdict": args[1],
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s on %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().String("by", "", "Reviewer (default \"User\")")
	cmd.Flags().String("note", "", "Verdict note")
	return cmd
}

func newReviewCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <review-id>",
		Short: "Close a review session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.CloseReview(cmd.Context(), args[0], status); err != nil {
				return describeErr("review session", args[0], err)
			}
			rs, err := a.engine.GetReview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), rs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed review %s as %s\n", rs.ID, rs.Status)
			return nil
		},
	}
	cmd.Flags().String("status", "closed", "Final status: approved, rejected or closed")
	return cmd
}
