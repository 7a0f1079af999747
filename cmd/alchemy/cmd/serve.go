package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dataalchemy/alchemy/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve alchemy tools over MCP on stdio",
		Long: `Serve the workspace over the Model Context Protocol on stdio.
Exposes a hybrid search tool over any task's records and a task listing
tool, so MCP clients can query ingested corpora directly.

Stdout carries only JSON-RPC; all logging goes to the rotating file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use the deterministic hash embedder (no embedding API)")

	return cmd
}

func runServe(cmd *cobra.Command, offline bool) error {
	// Stdout must carry only protocol frames; logs go to file only.
	cleanup := setupFileLogging()
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := taskRegistry(cfg)
	if _, err := reg.Scan(); err != nil {
		return err
	}

	embedder, err := buildEmbedder(cfg, offline)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	server, err := mcp.NewServer(cfg.WorkDir, cfg.DBPath, reg, embedder, vectorBackend(cfg), slog.Default())
	if err != nil {
		return err
	}
	return server.Serve(cmd.Context())
}
