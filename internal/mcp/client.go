package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

const protocolVersion = "2024-11-05"

// State is the client connection lifecycle.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateInitialised   State = "initialised"
	StateDisconnecting State = "disconnecting"
)

// RequestHandler processes a server-initiated request and returns the
// result to send back, or an error that becomes a JSON-RPC error.
type RequestHandler func(ctx context.Context, req *Request) (any, error)

// Client speaks MCP to a single server. A connection error fails all
// inflight requests and marks the session dead; the next call
// reconnects through a fresh transport.
type Client struct {
	config    *ServerConfig
	logger    *slog.Logger
	transport Transport

	// newTransport is swappable for tests.
	newTransport func(*ServerConfig) Transport

	mu           sync.RWMutex
	state        State
	serverInfo   ServerInfo
	capabilities Capabilities
	tools        []*Tool
	handler      RequestHandler
}

// NewClient creates a client for cfg. The connection opens on Connect
// or lazily on first use.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:       cfg,
		logger:       logger.With("mcp_server", cfg.ID),
		newTransport: NewTransport,
		state:        StateDisconnected,
	}
}

// SetRequestHandler registers the dispatcher for server-initiated
// requests. Without one they are answered with method-not-found.
func (c *Client) SetRequestHandler(h RequestHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ServerInfo returns the identity recorded at initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Capabilities returns the server capabilities from initialize.
func (c *Client) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

// Connect opens the transport and runs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateInitialised && c.transport != nil && c.transport.Connected() {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	transport := c.newTransport(c.config)
	c.transport = transport
	c.mu.Unlock()

	if err := transport.Connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"roots": map[string]any{"listChanged": true},
		},
		"clientInfo": map[string]any{
			"name":    "tacit",
			"version": "1.0.0",
		},
	})
	if err != nil {
		transport.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		transport.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.capabilities = initResult.Capabilities
	c.state = StateInitialised
	c.mu.Unlock()

	c.logger.Info("connected to MCP server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	go c.serveIncoming(transport)
	return nil
}

// Close disconnects from the server.
func (c *Client) Close() error {
	c.mu.Lock()
	transport := c.transport
	c.state = StateDisconnecting
	c.mu.Unlock()

	var err error
	if transport != nil {
		err = transport.Close()
	}
	c.setState(StateDisconnected)
	return err
}

// Connected reports whether the session is usable without reconnecting.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateInitialised && c.transport != nil && c.transport.Connected()
}

// call runs one request, reconnecting first if the session died.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.Connected() {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}
	c.mu.RLock()
	transport := c.transport
	c.mu.RUnlock()

	result, err := transport.Call(ctx, method, params)
	if err != nil && IsConnectionError(err) {
		c.setState(StateDisconnected)
	}
	return result, err
}

// ListTools fetches and caches the server's tools.
func (c *Client) ListTools(ctx context.Context) ([]*Tool, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	return resp.Tools, nil
}

// Tools returns the tools cached by the last ListTools.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	result, err := c.call(ctx, "tools/call", CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}

// ListResources fetches the server's resources.
func (c *Client) ListResources(ctx context.Context) ([]*Resource, error) {
	result, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var resp ListResourcesResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse resources/list result: %w", err)
	}
	return resp.Resources, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]*ResourceContent, error) {
	result, err := c.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var resp ReadResourceResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse resources/read result: %w", err)
	}
	return resp.Contents, nil
}

// ListResourceTemplates fetches the server's resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]*ResourceTemplate, error) {
	result, err := c.call(ctx, "resources/templates/list", nil)
	if err != nil {
		return nil, err
	}
	var resp ListResourceTemplatesResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse resources/templates/list result: %w", err)
	}
	return resp.ResourceTemplates, nil
}

// ListPrompts fetches the server's prompt templates.
func (c *Client) ListPrompts(ctx context.Context) ([]*Prompt, error) {
	result, err := c.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var resp ListPromptsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse prompts/list result: %w", err)
	}
	return resp.Prompts, nil
}

// GetPrompt renders one prompt template.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error) {
	result, err := c.call(ctx, "prompts/get", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	var resp GetPromptResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse prompts/get result: %w", err)
	}
	return &resp, nil
}

// serveIncoming routes server-initiated traffic until the transport's
// channels close. Notifications without a handler are logged.
func (c *Client) serveIncoming(transport Transport) {
	events := transport.Events()
	requests := transport.Requests()
	for events != nil || requests != nil {
		select {
		case notif, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.logger.Debug("server notification", "method", notif.Method)
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			go c.handleRequest(transport, req)
		}
	}
}

func (c *Client) handleRequest(transport Transport, req *Request) {
	ctx := context.Background()

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		_ = transport.Respond(ctx, req.ID, nil, &RPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("no handler for %s", req.Method),
		})
		return
	}

	result, err := handler(ctx, req)
	if err != nil {
		_ = transport.Respond(ctx, req.ID, nil, &RPCError{
			Code:    CodeInternalError,
			Message: err.Error(),
		})
		return
	}
	if err := transport.Respond(ctx, req.ID, result, nil); err != nil {
		c.logger.Warn("failed to respond to server request", "method", req.Method, "error", err)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
