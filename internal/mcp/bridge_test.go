package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ewoodruff/tacit/internal/agent"
)

type fakeConn struct {
	tools    []*Tool
	listErr  error
	result   *ToolCallResult
	callErr  error
	lastName string
	lastArgs json.RawMessage
}

func (f *fakeConn) ListTools(ctx context.Context) ([]*Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeConn) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	f.lastName = name
	f.lastArgs = arguments
	return f.result, f.callErr
}

func TestBridgeRegisterServer(t *testing.T) {
	registry := agent.NewToolRegistry()
	bridge := NewBridge(registry, nil)

	conn := &fakeConn{tools: []*Tool{
		{Name: "search", Description: "find things", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "fetch", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}}

	count, err := bridge.RegisterServer(context.Background(), "docs", conn)
	if err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	tool, ok := registry.Get("docs/search")
	if !ok {
		t.Fatal("docs/search not in registry")
	}
	if tool.Description() != "find things" {
		t.Errorf("Description() = %q", tool.Description())
	}
	if src, _ := registry.Source("docs/search"); src != "mcp:docs" {
		t.Errorf("source = %q, want mcp:docs", src)
	}

	// Description falls back when the server omits one.
	fetch, _ := registry.Get("docs/fetch")
	if fetch.Description() == "" {
		t.Error("empty description not defaulted")
	}

	if removed := bridge.UnregisterServer("docs"); removed != 2 {
		t.Errorf("UnregisterServer() = %d, want 2", removed)
	}
	if _, ok := registry.Get("docs/search"); ok {
		t.Error("tool survived UnregisterServer")
	}
}

func TestBridgeRegisterServerListError(t *testing.T) {
	bridge := NewBridge(agent.NewToolRegistry(), nil)
	conn := &fakeConn{listErr: errors.New("server down")}
	if _, err := bridge.RegisterServer(context.Background(), "docs", conn); err == nil {
		t.Fatal("expected error")
	}
}

func TestBridgedToolExecute(t *testing.T) {
	conn := &fakeConn{result: &ToolCallResult{Content: []ToolContent{
		{Type: "text", Text: "line one"},
		{Type: "text", Text: "line two"},
	}}}
	tool := NewBridgedTool(conn, "docs", &Tool{Name: "search"})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"q":"x"}`), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "line one\nline two" {
		t.Errorf("Content = %q", result.Content)
	}
	if conn.lastName != "search" {
		t.Errorf("server saw tool %q, want unprefixed name", conn.lastName)
	}
	if string(conn.lastArgs) != `{"q":"x"}` {
		t.Errorf("server saw args %s", conn.lastArgs)
	}
}

func TestFlattenToolResult(t *testing.T) {
	tests := []struct {
		name      string
		result    *ToolCallResult
		want      string
		wantError bool
	}{
		{"nil", nil, "", false},
		{"empty error", &ToolCallResult{IsError: true}, "", true},
		{"single text", &ToolCallResult{Content: []ToolContent{{Type: "text", Text: "hi"}}}, "hi", false},
		{
			"error text",
			&ToolCallResult{IsError: true, Content: []ToolContent{{Type: "text", Text: "file not found"}}},
			"file not found", true,
		},
		{
			"mixed content serialises",
			&ToolCallResult{Content: []ToolContent{{Type: "image", Data: "abcd", MimeType: "image/png"}}},
			`{"content":[{"type":"image","data":"abcd","mimeType":"image/png"}]}`,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isError := flattenToolResult(tt.result)
			if got != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
			if isError != tt.wantError {
				t.Errorf("isError = %v, want %v", isError, tt.wantError)
			}
		})
	}
}

func TestBridgedToolDefaultSchema(t *testing.T) {
	tool := NewBridgedTool(&fakeConn{}, "docs", &Tool{Name: "bare"})
	if string(tool.Schema()) != `{"type":"object"}` {
		t.Errorf("Schema() = %s", tool.Schema())
	}
}
