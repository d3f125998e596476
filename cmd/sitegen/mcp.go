package main

import (
	"os"

	"sitegen/internal/mcpserver"
	"sitegen/internal/storage"
	"sitegen/pkg/logger"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP server exposing the workspace as tools",
	Long: `Starts an MCP server on stdin/stdout.

The server offers generate_site, refine_site, cancel_generation,
workspace_status and export_site, plus the current document as the
sitegen://document resource. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, os.Stderr)
		if err != nil {
			return err
		}

		store, err := storage.New(cfg.Export)
		if err != nil {
			return err
		}
		defer store.Close()

		sv := newSupervisor(cfg)
		defer sv.CancelActive()

		logger.Infof("MCP server starting, backend %s", cfg.Backend.BaseURL)
		return mcpserver.NewServer(sv, store, cfg.Export.Filename, version).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
