package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <node-id>",
		Short: "Show a requirement's change history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			nodeID := args[0]

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.engine.ListHistory(cmd.Context(), nodeID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]interface{}{
					"node_id": nodeID,
					"entries": entries,
					"count":   len(entries),
				})
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "No history for %s\n", nodeID)
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s (%s)  changed: %s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Actor,
					e.Source,
					strings.Join(history.ChangedFields(e.Prev, e.Next), ", "),
				)
				if e.Prev.Text != e.Next.Text {
					fmt.Fprintf(out, "    - %s\n    + %s\n", e.Prev.Text, e.Next.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "l", 0, "Maximum entries (default from history.default_limit, max 200)")
	return cmd
}
