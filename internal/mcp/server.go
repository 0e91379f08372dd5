package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/traitdex/traitdex/internal/daemon"
	"github.com/traitdex/traitdex/internal/rpc"
)

//go:embed instructions.md
var instructions string

type Server struct {
	mcpServer *server.MCPServer
	client    *daemon.Client
}

func NewServer(socketPath string) (*Server, error) {
	client, err := daemon.ConnectOrSpawn(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}

	s := &Server{client: client}

	mcpServer := server.NewMCPServer(
		"traitdex",
		"0.1.0",
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("add_crates",
			mcp.WithDescription("Fetch rustdoc JSON from docs.rs and index a crate's trait implementors. Synchronous, returns when complete. Version defaults to \"latest\"."),
			addCratesSchema,
		),
		s.handleAddCrates,
	)

	mcpServer.AddTool(
		mcp.NewTool("search_crates",
			mcp.WithDescription("Search crates.io for Rust crates by name or keyword. Results indicate which crates are already indexed locally."),
			mcp.WithString("query",
				mcp.Description("Search query (crate name or keyword)"),
				mcp.Required(),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 20)"),
			),
		),
		s.handleSearchCrates,
	)

	mcpServer.AddTool(
		mcp.NewTool("list_implementors",
			mcp.WithDescription("List every indexed type implementing a trait, across all indexed crates. Accepts a full trait path like \"core::convert::From\" or a display name like \"Clone\"."),
			mcp.WithString("trait",
				mcp.Description("Trait path or name"),
				mcp.Required(),
			),
		),
		s.handleListImplementors,
	)

	mcpServer.AddTool(
		mcp.NewTool("export_table",
			mcp.WithDescription("Write the aggregate crate → implementor-snippets table as a JSON artifact on disk. Path defaults to the configured export target."),
			mcp.WithString("path",
				mcp.Description("Destination file path (optional if configured)"),
			),
			mcp.WithBoolean("pretty",
				mcp.Description("Indent the JSON output"),
			),
		),
		s.handleExportTable,
	)
}

func addCratesSchema(t *mcp.Tool) {
	t.InputSchema.Required = append(t.InputSchema.Required, "crates")
	t.InputSchema.Properties["crates"] = map[string]any{
		"type":        "array",
		"description": "List of crates to index",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Crate name (e.g., \"serde\")",
				},
				"version": map[string]any{
					"type":        "string",
					"description": "Version (default: \"latest\")",
				},
			},
			"required": []string{"name"},
		},
	}
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"rsimpl://{crate}/{version}",
			"Crate trait implementors",
			mcp.WithTemplateDescription("The ordered implementor snippets for one indexed crate. Version is informational; the latest indexed version is returned."),
			mcp.WithTemplateMIMEType("text/html"),
		),
		s.handleReadResource,
	)
}

func (s *Server) handleAddCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	cratesRaw, ok := args["crates"]
	if !ok {
		return mcp.NewToolResultError("missing required parameter: crates"), nil
	}

	cratesJSON, err := json.Marshal(cratesRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates parameter: %v", err)), nil
	}

	var specs []rpc.CrateSpec
	if err := json.Unmarshal(cratesJSON, &specs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates format: %v", err)), nil
	}

	resp, err := s.client.AddCrates(ctx, specs, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add crates: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleSearchCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	var searchReq rpc.SearchCratesRequest
	searchReq.Query = query
	if limit, ok := args["limit"].(float64); ok {
		searchReq.Limit = int(limit)
	}

	resp, err := s.client.SearchCrates(ctx, searchReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleListImplementors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	traitPath, _ := args["trait"].(string)
	if traitPath == "" {
		return mcp.NewToolResultError("missing required parameter: trait"), nil
	}

	resp, err := s.client.Implementors(ctx, rpc.TraitRequest{Trait: traitPath})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Implementors, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleExportTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var exportReq rpc.ExportRequest
	exportReq.Path, _ = args["path"].(string)
	exportReq.Pretty, _ = args["pretty"].(bool)

	resp, err := s.client.Export(ctx, exportReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("wrote %d crates to %s", resp.Crates, resp.Path)), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	trimmed := strings.TrimPrefix(uri, "rsimpl://")
	parts := strings.SplitN(trimmed, "/", 2)
	crate := parts[0]
	if crate == "" {
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}

	resp, err := s.client.Table(ctx, rpc.TableRequest{Crates: []string{crate}})
	if err != nil {
		return nil, fmt.Errorf("getting table: %w", err)
	}

	snippets, ok := resp.Table[crate]
	if !ok {
		return nil, fmt.Errorf("crate %s is not indexed", crate)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/html",
			Text:     strings.Join(snippets, "\n"),
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(_ context.Context) error {
	return nil
}
