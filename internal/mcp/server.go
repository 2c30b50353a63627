// Package mcp exposes the lattice engine over the Model Context
// Protocol. Tools cover workspace lifecycle, indexing, search and user
// context updates; the workspace config and indexing status are also
// published as resources. Transport is stdio.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/engine"
	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/pkg/version"
)

const serverName = "lattice"

// Server wraps the SDK server around the engine.
type Server struct {
	mcp      *mcp.Server
	engine   *engine.Engine
	sessions *session.Manager
	cfg      *config.Config
	logger   *slog.Logger
}

// Options configures NewServer. Engine is required; Sessions enables
// the context.update tool when present.
type Options struct {
	Engine   *engine.Engine
	Sessions *session.Manager
	Config   *config.Config
	Logger   *slog.Logger
}

// NewServer builds the MCP server and registers all tools and
// resources.
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:   opts.Engine,
		sessions: opts.Sessions,
		cfg:      cfg,
		logger:   logger.With("component", "mcp"),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves MCP over stdio until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening", "transport", "stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// MCPServer returns the underlying SDK server, for embedding in other
// transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}
