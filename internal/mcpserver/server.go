// Package mcpserver exposes a workspace as MCP tools and resources.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"sitegen/internal/model"
	"sitegen/internal/storage"
	"sitegen/internal/workspace"
	"sitegen/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const documentURI = "sitegen://document"

// Server wraps a Supervisor and exposes it as an MCP server.
type Server struct {
	sv          *workspace.Supervisor
	store       storage.Storage
	defaultName string
	mcpServer   *server.MCPServer
}

// NewServer registers the workspace tools. store may be nil, in which case
// export_site is not offered.
func NewServer(sv *workspace.Supervisor, store storage.Storage, defaultName, version string) *Server {
	s := &Server{
		sv:          sv,
		store:       store,
		defaultName: defaultName,
		mcpServer:   server.NewMCPServer("sitegen", version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio serves on Stdin/Stdout until the client goes away.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("generate_site",
		mcp.WithDescription("Generate a complete single-file website from a description. Replaces the current document when it completes."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("What the site is about")),
		mcp.WithString("style", mcp.Description("modern, minimalist, corporate, creative or dark (default modern)")),
		mcp.WithString("language", mcp.Description("Content language tag (default en-US)")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the generation to finish (default true)")),
	), s.handleGenerate)

	s.mcpServer.AddTool(mcp.NewTool("refine_site",
		mcp.WithDescription("Apply edit instructions to the current document."),
		mcp.WithString("instructions", mcp.Required(), mcp.Description("What to change")),
	), s.handleRefine)

	s.mcpServer.AddTool(mcp.NewTool("cancel_generation",
		mcp.WithDescription("Cancel the generation in progress, keeping the current document."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.sv.CancelActive() {
			return mcp.NewToolResultText("generation cancelled"), nil
		}
		return mcp.NewToolResultText("nothing to cancel"), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("workspace_status",
		mcp.WithDescription("Report the workspace state, including the current document and live preview."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(s.sv.Snapshot())
	})

	if s.store != nil {
		s.mcpServer.AddTool(mcp.NewTool("export_site",
			mcp.WithDescription("Save the current document to the export store."),
			mcp.WithString("name", mcp.Description("Export file name (default "+s.defaultName+")")),
		), s.handleExport)
	}
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := model.BuildRequest{
		Prompt:   request.GetString("prompt", ""),
		Style:    model.Style(request.GetString("style", "")),
		Language: request.GetString("language", ""),
	}

	// The attempt belongs to the workspace, not to this call.
	handle, err := s.sv.StartGeneration(context.WithoutCancel(ctx), req)
	if err != nil {
		return toolError(err), nil
	}
	if !request.GetBool("wait", true) {
		return mcp.NewToolResultText(fmt.Sprintf("generation %d started", handle.Seq())), nil
	}

	state, err := handle.Wait(ctx)
	if !state.Terminal() {
		return mcp.NewToolResultText(fmt.Sprintf("generation %d still %s", handle.Seq(), state)), nil
	}
	if state != workspace.StateCompleted {
		return toolError(err), nil
	}
	doc := s.sv.Document()
	return mcp.NewToolResultText(fmt.Sprintf("generation %d completed: %d bytes, read %s for the markup",
		handle.Seq(), doc.SizeBytes, documentURI)), nil
}

func (s *Server) handleRefine(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.sv.StartRefine(context.WithoutCancel(ctx), request.GetString("instructions", ""))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("document refined: %d bytes", doc.SizeBytes)), nil
}

func (s *Server) handleExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := s.sv.Document()
	if doc.Empty() {
		return toolError(workspace.ErrNoDocument), nil
	}
	rec, err := s.store.Save(ctx, request.GetString("name", s.defaultName), doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	return jsonResult(rec)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(documentURI, "Current site document",
		mcp.WithMIMEType("text/html"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		doc := s.sv.Document()
		if doc.Empty() {
			return nil, workspace.ErrNoDocument
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      documentURI,
				MIMEType: "text/html",
				Text:     doc.HTML,
			},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	logger.Debugf("MCP tool failed (%s): %v", workspace.ErrorKind(err), err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", workspace.ErrorKind(err), err))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
