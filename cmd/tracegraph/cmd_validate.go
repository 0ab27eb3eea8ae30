package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/validation"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <project-id>",
		Short: "Check a project's model for integrity issues",
		Long: `Check a project's model for structural and semantic integrity issues.

This command checks for:
  - Unnamed nodes and requirements without text or verification method
  - Edges whose source or target no longer exists
  - Relationship kinds used between the wrong node kinds
  - Port connections whose types disagree

Examples:
  tracegraph validate P                # Human-readable report
  tracegraph validate P --strict       # Exit non-zero on any error
  tracegraph validate P --integrity    # Also check stored history records`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strict, _ := cmd.Flags().GetBool("strict")
			integrity, _ := cmd.Flags().GetBool("integrity")
			projectID := args[0]

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			issues, err := a.engine.Validate(cmd.Context(), projectID)
			if err != nil {
				return describeErr("project", projectID, err)
			}
			summary := validation.Summarize(issues)

			var checked int
			var historyErr error
			if integrity {
				checked, historyErr = a.store.CheckHistory(cmd.Context())
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				result := map[string]interface{}{
					"project_id": projectID,
					"valid":      summary.Errors == 0,
					"summary":    summary,
					"issues":     issues,
				}
				if integrity {
					result["history_checked"] = checked
					if historyErr != nil {
						result["history_error"] = historyErr.Error()
					}
				}
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				if len(issues) == 0 {
					fmt.Fprintln(out, "✓ Model is valid - no issues found")
				} else {
					fmt.Fprintf(out, "Found %d issue(s): %d error(s), %d warning(s), %d info\n\n",
						summary.Total(), summary.Errors, summary.Warnings, summary.Infos)
					for _, is := range issues {
						ref := is.NodeID
						if is.EdgeID != "" {
							ref = is.EdgeID
						}
						fmt.Fprintf(out, "  [%s] %s %s: %s\n", is.Severity, is.Code, ref, is.Message)
					}
				}
				if integrity {
					if historyErr != nil {
						fmt.Fprintf(out, "\n✗ History check failed after %d entries: %v\n", checked, historyErr)
					} else {
						fmt.Fprintf(out, "\n✓ %d history entries decoded\n", checked)
					}
				}
			}

			if historyErr != nil {
				return fmt.Errorf("history integrity check failed: %w", historyErr)
			}
			if strict && summary.Errors > 0 {
				return fmt.Errorf("validation failed with %d error(s)", summary.Errors)
			}
			return nil
		},
	}

	cmd.Flags().Bool("strict", false, "Exit with an error when any error-severity issue is found")
	cmd.Flags().Bool("integrity", false, "Also decode every stored history snapshot")
	return cmd
}
