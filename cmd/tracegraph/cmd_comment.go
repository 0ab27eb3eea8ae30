package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCommentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Discuss a node in comment threads",
		Long: `Comments are review notes attached to a node. A reply names its parent
comment with --parent and must sit on the same node.

Examples:
  tracegraph comment add REQ_A -m "Is 5% tolerance right?"
  tracegraph comment add REQ_A --parent C1 -m "Yes, per datasheet"
  tracegraph comment list REQ_A
  tracegraph comment counts P         # open comments per node
  tracegraph comment resolve C1`,
	}
	cmd.AddCommand(
		newCommentAddCmd(),
		newCommentListCmd(),
		newCommentCountsCmd(),
		newCommentResolveCmd(),
		newCommentDeleteCmd(),
	)
	return cmd
}

func newCommentAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <node-id>",
		Short: "Comment on a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetString("message")
			parent, _ := cmd.Flags().GetString("parent")
			author, _ := cmd.Flags().GetString("author")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.engine.AddComment(cmd.Context(), args[0], parent, author, body)
			if err != nil {
				return describeErr("node or parent comment", args[0], err)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), c)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added comment %s on %s\n", c.ID, c.NodeID)
			return nil
		},
	}
	cmd.Flags().StringP("message", "m", "", "Comment text (required)")
	cmd.Flags().String("parent", "", "Comment being replied to")
	cmd.Flags().String("author", "", "Author (default \"User\")")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newCommentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <node-id>",
		Short: "List a node's comments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			comments, err := a.engine.ListComments(cmd.Context(), args[0])
			if err != nil {
				return describeErr("node", args[0], err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"node_id":  args[0],
					"comments": comments,
					"count":    len(comments),
				})
			}
			if len(comments) == 0 {
				fmt.Fprintln(out, "No comments")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPARENT\tAUTHOR\tCREATED\tSTATE\tBODY")
			for _, c := range comments {
				state := "open"
				if !c.Open() {
					state = "resolved"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.ParentID, c.Author, c.CreatedAt.Format("2006-01-02 15:04"), state, c.Body)
			}
			return tw.Flush()
		},
	}
}

func newCommentCountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts <project-id>",
		Short: "Count open comments per node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.engine.CommentCounts(cmd.Context(), args[0])
			if err != nil {
				return describeErr("project", args[0], err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"project_id": args[0],
					"counts":     counts,
				})
			}
			if len(counts) == 0 {
				fmt.Fprintln(out, "No open comments")
				return nil
			}
			ids := make([]string, 0, len(counts))
			for id := range counts {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE\tOPEN")
			for _, id := range ids {
				fmt.Fprintf(tw, "%s\t%d\n", id, counts[id])
			}
			return tw.Flush()
		},
	}
}

func newCommentResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <comment-id>",
		Short: "Mark a comment resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, _ := cmd.Flags().GetString("by")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.ResolveComment(cmd.Context(), args[0], by); err != nil {
				return describeErr("comment", args[0], err)
			}
			c, err := a.engine.GetComment(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), c)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved comment %s\n", c.ID)
			return nil
		},
	}
	cmd.Flags().String("by", "", "Resolver (default \"User\")")
	return cmd
}

func newCommentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <comment-id>",
		Short: "Delete a comment and its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.DeleteComment(cmd.Context(), args[0]); err != nil {
				return describeErr("comment", args[0], err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted comment %s\n", args[0])
			return nil
		},
	}
}
