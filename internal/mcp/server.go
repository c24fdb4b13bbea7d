// Package mcp exposes the shelf tool registry to MCP clients, so assistants
// and pipeline agents can browse and publish tools through the same registry
// the HTTP gateway serves.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/eldlib/shelfreg/internal/registry"
)

// NewServer creates an MCPServer with the registry operations registered.
func NewServer(reg *registry.Registry) *server.MCPServer {
	srv := server.NewMCPServer(
		"shelfreg",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	registerListTools(srv, reg)
	registerGetTool(srv, reg)
	registerPushTool(srv, reg)
	registerDeleteTool(srv, reg)

	return srv
}

func textResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

// --- list_tools ---

func registerListTools(srv *server.MCPServer, reg *registry.Registry) {
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := mcp.NewToolWithRawSchema("list_tools",
		"List all shelf tool definitions (name, label, version, author)", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tools, err := reg.ListAll(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list_tools: %v", err)), nil
		}
		return textResult(map[string]any{"tools": tools, "count": len(tools)})
	})
}

// --- get_tool ---

func registerGetTool(srv *server.MCPServer, reg *registry.Registry) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]string{"type": "string", "description": "Tool name"},
		},
		"required": []string{"name"},
	})
	tool := mcp.NewToolWithRawSchema("get_tool",
		"Fetch the full definition of a shelf tool by name", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := stringArg(req.GetArguments(), "name")
		t, err := reg.Fetch(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get_tool %s: %v", name, err)), nil
		}
		return textResult(t)
	})
}

// --- push_tool ---

func registerPushTool(srv *server.MCPServer, reg *registry.Registry) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":   map[string]string{"type": "string", "description": "Tool name (alphanumerics, underscore, hyphen)"},
			"label":  map[string]string{"type": "string", "description": "Shelf display label"},
			"script": map[string]string{"type": "string", "description": "Script body the host application runs"},
			"author": map[string]string{"type": "string", "description": "Author identifier"},
		},
		"required": []string{"name", "script"},
	})
	tool := mcp.NewToolWithRawSchema("push_tool",
		"Create or update a shelf tool definition. Identical content is a version-preserving no-op.", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		result, err := reg.Push(ctx, registry.PushInput{
			Name:   stringArg(args, "name"),
			Label:  stringArg(args, "label"),
			Script: stringArg(args, "script"),
			Author: stringArg(args, "author"),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("push_tool: %v", err)), nil
		}
		return textResult(result)
	})
}

// --- delete_tool ---

func registerDeleteTool(srv *server.MCPServer, reg *registry.Registry) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]string{"type": "string", "description": "Tool name"},
		},
		"required": []string{"name"},
	})
	tool := mcp.NewToolWithRawSchema("delete_tool",
		"Remove a shelf tool from the active namespace (history is kept)", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := stringArg(req.GetArguments(), "name")
		if err := reg.Remove(ctx, name); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete_tool %s: %v", name, err)), nil
		}
		return textResult(map[string]string{"status": "deleted", "name": name})
	})
}
