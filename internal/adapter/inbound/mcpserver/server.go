// Package mcpserver exposes the agent's policy checks as MCP tools so other
// agents can ask whether an action would be allowed before attempting it.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/inkgate/internal/service"
)

// Server is the MCP tool server.
type Server struct {
	status *service.StatusService
	server *mcp.Server
	logger *slog.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(status *service.StatusService, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		status: status,
		server: mcp.NewServer(&mcp.Implementation{Name: "inkgate", Version: version}, nil),
		logger: logger,
	}
	s.registerTools()
	return s
}

// Run serves on transport until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server starting")
	err := s.server.Run(ctx, transport)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// RunStdio serves on stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}
