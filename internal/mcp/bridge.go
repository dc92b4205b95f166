package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

// ToolCaller is the slice of Client the bridge needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error)
}

// BridgedTool exposes one MCP tool as an agent tool named
// <server>/<tool>. Calls flow through the normal dispatch pipeline,
// so schema validation and permission rules apply as for built-ins.
type BridgedTool struct {
	caller   ToolCaller
	serverID string
	tool     *Tool
}

// NewBridgedTool wraps an MCP tool for the agent registry.
func NewBridgedTool(caller ToolCaller, serverID string, tool *Tool) *BridgedTool {
	return &BridgedTool{caller: caller, serverID: serverID, tool: tool}
}

func (b *BridgedTool) Name() string {
	return b.serverID + "/" + b.tool.Name
}

func (b *BridgedTool) Description() string {
	desc := strings.TrimSpace(b.tool.Description)
	if desc == "" {
		return fmt.Sprintf("MCP tool %s from server %s", b.tool.Name, b.serverID)
	}
	return desc
}

func (b *BridgedTool) Category() models.ToolCategory {
	return models.CategoryOther
}

func (b *BridgedTool) Schema() json.RawMessage {
	if len(b.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b.tool.InputSchema
}

func (b *BridgedTool) Execute(ctx context.Context, params json.RawMessage, _ *agent.ExecutionContext) (*models.ToolResult, error) {
	result, err := b.caller.CallTool(ctx, b.tool.Name, params)
	if err != nil {
		return nil, err
	}
	content, isError := flattenToolResult(result)
	return &models.ToolResult{Content: content, IsError: isError}, nil
}

// flattenToolResult renders an MCP result as a single string. Pure
// text content concatenates; anything richer serialises as JSON.
func flattenToolResult(result *ToolCallResult) (string, bool) {
	if result == nil {
		return "", false
	}
	if len(result.Content) == 0 {
		return "", result.IsError
	}

	allText := true
	var combined strings.Builder
	for _, item := range result.Content {
		if item.Type != "text" {
			allText = false
			break
		}
		if item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(item.Text)
	}
	if allText && combined.Len() > 0 {
		return combined.String(), result.IsError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", result.IsError
	}
	return string(payload), result.IsError
}

// Bridge registers MCP servers' tools into the agent tool registry.
type Bridge struct {
	registry *agent.ToolRegistry
	logger   *slog.Logger
}

// NewBridge creates a bridge targeting the given registry.
func NewBridge(registry *agent.ToolRegistry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{registry: registry, logger: logger.With("component", "mcp_bridge")}
}

// ServerConn is the client surface the bridge registers from.
type ServerConn interface {
	ToolCaller
	ListTools(ctx context.Context) ([]*Tool, error)
}

// RegisterServer lists the connection's tools and registers each one.
// Returns the number of tools registered.
func (b *Bridge) RegisterServer(ctx context.Context, serverID string, conn ServerConn) (int, error) {
	tools, err := conn.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tools for %s: %w", serverID, err)
	}

	registered := 0
	for _, tool := range tools {
		bridged := NewBridgedTool(conn, serverID, tool)
		if err := b.registry.Register(bridged, agent.WithSource("mcp:"+serverID)); err != nil {
			b.logger.Warn("skipping MCP tool", "server", serverID, "tool", tool.Name, "error", err)
			continue
		}
		registered++
	}
	b.logger.Info("registered MCP tools", "server", serverID, "count", registered)
	return registered, nil
}

// UnregisterServer removes every tool the server contributed.
func (b *Bridge) UnregisterServer(serverID string) int {
	return b.registry.UnregisterSource("mcp:" + serverID)
}
