package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/mcp"
	"github.com/nvandessel/tracegraph/internal/pathutil"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the traceability tools over MCP on stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout so an AI assistant
can read the model, edit nodes and edges, list history, and review
suspect links. Tool calls are audited to .tracegraph/audit.jsonl.

A store.path override must stay inside ~/.tracegraph or the project's
.tracegraph directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Path != "" {
				dirs, err := pathutil.DataDirs(root)
				if err != nil {
					return err
				}
				if err := pathutil.ValidatePath(cfg.Store.Path, dirs); err != nil {
					return fmt.Errorf("store.path rejected: %w", err)
				}
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:          "tracegraph",
				Version:       version,
				Root:          root,
				Engine:        a.engine,
				Logger:        a.logger,
				RatePerMinute: a.cfg.MCP.RatePerMinute,
				Burst:         a.cfg.MCP.Burst,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return srv.Run(cmd.Context())
		},
	}
}
