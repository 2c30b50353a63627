package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	workspaceResourceURI = "lattice://workspace"
	statusResourceURI    = "lattice://status"
)

// registerResources publishes the workspace config and the indexing
// status as readable resources.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "workspace",
			URI:         workspaceResourceURI,
			Description: "The loaded workspace config: projects, relationships and search settings.",
			MIMEType:    "application/json",
		},
		s.handleWorkspaceResource,
	)
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         statusResourceURI,
			Description: "Per-project indexing status.",
			MIMEType:    "application/json",
		},
		s.handleStatusResource,
	)
}

func (s *Server) handleWorkspaceResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	ws := s.engine.Workspace()
	if ws == nil {
		return nil, badRequest("no workspace loaded")
	}
	return jsonResource(workspaceResourceURI, ws)
}

func (s *Server) handleStatusResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	out, err := s.handleStatus(ctx, statusInput{})
	if err != nil {
		return nil, err
	}
	return jsonResource(statusResourceURI, out.Projects)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, mapErr(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(raw),
			},
		},
	}, nil
}
