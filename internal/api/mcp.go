package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/folio/internal/gateway"
	"github.com/kalambet/folio/internal/normalize"
	"github.com/kalambet/folio/internal/preference"
	"github.com/kalambet/folio/internal/templates"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Resolver *preference.Resolver
	Gateway  gateway.Gateway
}

// NewMCPServer creates an MCP server with all folio tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"folio",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("folio resolves which portfolio template a profile is shown with and exposes normalized profile data."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("resolve_template",
			mcp.WithDescription("Resolve the template identifier used to display a profile."),
			mcp.WithString("subject", mcp.Description("Username whose profile is displayed (optional)")),
			mcp.WithString("template", mcp.Description("Explicit override; adopted and cached when present")),
		),
		mcpResolveTemplate(deps),
	)

	s.AddTool(
		mcp.NewTool("normalize_profile",
			mcp.WithDescription("Fetch a profile and return it in the normalized template schema as JSON."),
			mcp.WithString("username", mcp.Description("Profile username"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Category hint, e.g. cardiologist; defaults to the resolved template's category")),
		),
		mcpNormalizeProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("list_templates",
			mcp.WithDescription("List every registered template identifier with its layout and category."),
		),
		mcpListTemplates(),
	)

	s.AddResource(
		mcp.NewResource(
			"folio://templates",
			"Template Registry",
			mcp.WithResourceDescription("Registered template identifiers as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTemplates(),
	)

	return s
}

func mcpResolveTemplate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := deps.Resolver.Resolve(ctx, preference.Request{
			Override: req.GetString("template", ""),
			Subject:  req.GetString("subject", ""),
		})
		return mcpText(id), nil
	}
}

func mcpNormalizeProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}

		rec, err := deps.Gateway.GetProfileByUsername(ctx, username)
		if errors.Is(err, gateway.ErrNotFound) {
			return mcpError(fmt.Sprintf("profile %q not found", username)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("fetching profile: %v", err)), nil
		}

		category := req.GetString("category", "")
		if category == "" {
			id := deps.Resolver.Resolve(ctx, preference.Request{Subject: username})
			category = templates.Dispatch(id).Category
		}

		b, err := json.Marshal(normalize.Normalize(rec, category))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTemplates() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(ListTemplates())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal templates: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceTemplates() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(ListTemplates())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal templates: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
