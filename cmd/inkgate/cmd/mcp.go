package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/inbound/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the read-only tools over MCP stdio",
	Long: `Run an MCP server on stdin/stdout exposing validate_action,
route_candidates, policy_status and quota_status, so an authoring model can
check a draft against the agent policy before proposing it.

The tools read policy and quota state as of startup; nothing is dispatched
and no quota is recorded.

Example MCP client entry:
  {"command": "inkgate", "args": ["mcp"]}`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return mcpserver.NewServer(c.status(), Version, logger).RunStdio(ctx)
}
