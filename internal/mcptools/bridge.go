// Package mcptools bridges MCP-exposed tools into the Tool Registry
// described in spec.md §4.5, grounded on the teacher's internal/mcp
// package (its Manager already connects to every configured MCP server,
// lists tools, and calls them; nothing here reimplements that — it only
// adapts MCPTool entries into toolexec.Definition so the Agent's Thinker
// sees them alongside in-process tools).
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syntrixbase/pegasus/internal/mcp"
	"github.com/syntrixbase/pegasus/internal/toolexec"
)

// ToolNamePrefix namespaces bridged tools so they can't collide with
// in-process tool names registered directly against toolexec.Registry.
const ToolNamePrefix = "mcp__"

// ToolSource is the subset of *mcp.Manager the bridge needs. Declaring it
// here (rather than depending on the concrete type) lets tests exercise the
// bridge against a fake server set without a live MCP connection.
type ToolSource interface {
	AllTools() map[string][]*mcp.MCPTool
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// Bridge registers every tool currently known to an mcp.Manager into a
// toolexec.Registry. It only adds or replaces registrations; tools of a
// server that has disconnected stay registered.
type Bridge struct {
	manager ToolSource
	tools   *toolexec.Registry
	logger  *slog.Logger
}

// New constructs a Bridge over an already-started mcp.Manager.
func New(manager ToolSource, tools *toolexec.Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{manager: manager, tools: tools, logger: logger.With("component", "mcptools")}
}

// Sync re-reads the manager's current tool set and (re-)registers every
// tool with the Tool Registry. Call it once after the manager connects, and
// again after a Connect to pick up the new server's tools. It does not
// unregister tools that are no longer listed.
func (b *Bridge) Sync() {
	for serverID, tools := range b.manager.AllTools() {
		for _, tool := range tools {
			b.tools.Register(b.definitionFor(serverID, tool))
		}
	}
}

// qualifiedName gives a bridged tool a registry-unique name: the MCP tool
// name alone is only unique within its own server.
func qualifiedName(serverID, toolName string) string {
	return ToolNamePrefix + serverID + "__" + toolName
}

func (b *Bridge) definitionFor(serverID string, tool *mcp.MCPTool) toolexec.Definition {
	toolName := tool.Name
	return toolexec.Definition{
		Name:        qualifiedName(serverID, toolName),
		Description: describeTool(serverID, tool),
		Parameters:  tool.InputSchema,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var arguments map[string]any
			if len(args) > 0 {
				if err := json.Unmarshal(args, &arguments); err != nil {
					return nil, fmt.Errorf("mcptools: decode arguments: %w", err)
				}
			}
			result, err := b.manager.CallTool(ctx, serverID, toolName, arguments)
			if err != nil {
				return nil, err
			}
			if result.IsError {
				return nil, fmt.Errorf("mcp tool %s: %s", toolName, contentText(result))
			}
			return contentText(result), nil
		},
	}
}

func describeTool(serverID string, tool *mcp.MCPTool) string {
	if tool.Description == "" {
		return fmt.Sprintf("(via MCP server %s)", serverID)
	}
	return fmt.Sprintf("%s (via MCP server %s)", tool.Description, serverID)
}

func contentText(result *mcp.ToolCallResult) string {
	var parts []string
	for _, c := range result.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
