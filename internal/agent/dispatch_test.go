package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/internal/permission"
	"github.com/ewoodruff/tacit/pkg/models"
)

func echoTool() *FuncTool {
	return &FuncTool{
		ToolName:        "echo",
		ToolDescription: "echoes back its text argument",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text":  {"type": "string"},
				"count": {"type": "integer"}
			},
			"required": ["text"]
		}`),
		Fn: func(ctx context.Context, params json.RawMessage, ec *ExecutionContext) (*models.ToolResult, error) {
			var in struct {
				Text  string  `json:"text"`
				Count float64 `json:"count"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, err
			}
			out := in.Text
			for i := 1; i < int(in.Count); i++ {
				out += " " + in.Text
			}
			return &models.ToolResult{Content: out}, nil
		},
	}
}

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	registry := NewToolRegistry()
	if err := registry.Register(echoTool()); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	return NewDispatcher(registry, nil, opts...)
}

func TestDispatchSuccess(t *testing.T) {
	d := newTestDispatcher(t)
	res := d.Invoke(context.Background(), models.ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	}, nil)

	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.Content != "hi" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.ToolCallID != "call-1" {
		t.Errorf("ToolCallID = %q", res.ToolCallID)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t)
	res := d.Invoke(context.Background(), models.ToolCall{ID: "c", Name: "nonsense"}, nil)

	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.HasPrefix(res.Content, "UnknownTool:") {
		t.Errorf("Content = %q, want UnknownTool prefix", res.Content)
	}
}

func TestDispatchInvalidArgs(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name string
		args string
	}{
		{"missing required", `{"count": 2}`},
		{"wrong type", `{"text": 42}`},
		{"not an object", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Invoke(context.Background(), models.ToolCall{
				ID:        "c",
				Name:      "echo",
				Arguments: json.RawMessage(tt.args),
			}, nil)
			if !res.IsError {
				t.Fatal("expected error result")
			}
			if !strings.HasPrefix(res.Content, "InvalidArgs:") {
				t.Errorf("Content = %q, want InvalidArgs prefix", res.Content)
			}
		})
	}
}

func TestDispatchSchemaCoercion(t *testing.T) {
	d := newTestDispatcher(t)

	// count arrives as a string; the schema declares integer
	res := d.Invoke(context.Background(), models.ToolCall{
		ID:        "c",
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi","count":"3"}`),
	}, nil)

	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if res.Content != "hi hi hi" {
		t.Errorf("Content = %q, want coerced count applied", res.Content)
	}
}

func TestDispatchPermissionDenied(t *testing.T) {
	engine := permission.NewEngine([]permission.Rule{
		{Pattern: "echo", Level: permission.LevelDeny, Enabled: true, Description: "echo is blocked"},
	}, nil)
	d := newTestDispatcher(t, WithPermissions(engine))

	res := d.Invoke(context.Background(), models.ToolCall{
		ID:        "c",
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	}, nil)

	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.HasPrefix(res.Content, "PermissionDenied:") {
		t.Errorf("Content = %q, want PermissionDenied prefix", res.Content)
	}
	if !strings.Contains(res.Content, "echo is blocked") {
		t.Errorf("Content = %q, want rule reason included", res.Content)
	}
}

func TestDispatchHookVeto(t *testing.T) {
	registry := hooks.NewRegistry(nil)
	registry.Register("tool:pre_execute", func(ctx context.Context, ev *hooks.Event) error {
		return errors.New("not on my watch")
	}, hooks.WithName("guard"))
	bus := hooks.NewBus(registry, nil)

	d := newTestDispatcher(t, WithHookBus(bus))
	res := d.Invoke(context.Background(), models.ToolCall{
		ID:        "c",
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	}, nil)

	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.HasPrefix(res.Content, "HookVeto:") {
		t.Errorf("Content = %q, want HookVeto prefix", res.Content)
	}
	if !strings.Contains(res.Content, "not on my watch") {
		t.Errorf("Content = %q, want veto reason included", res.Content)
	}
}

func TestDispatchToolError(t *testing.T) {
	registry := NewToolRegistry()
	broken := &FuncTool{
		ToolName:   "broken",
		ToolSchema: json.RawMessage(`{"type":"object"}`),
		Fn: func(ctx context.Context, params json.RawMessage, ec *ExecutionContext) (*models.ToolResult, error) {
			return nil, errors.New("disk on fire")
		},
	}
	if err := registry.Register(broken); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(registry, nil)

	res := d.Invoke(context.Background(), models.ToolCall{ID: "c", Name: "broken"}, nil)
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.HasPrefix(res.Content, "ToolError:") {
		t.Errorf("Content = %q, want ToolError prefix", res.Content)
	}
}

func TestDispatchExecutionContextPassthrough(t *testing.T) {
	registry := NewToolRegistry()
	var seen *ExecutionContext
	probe := &FuncTool{
		ToolName:   "probe",
		ToolSchema: json.RawMessage(`{"type":"object"}`),
		Fn: func(ctx context.Context, params json.RawMessage, ec *ExecutionContext) (*models.ToolResult, error) {
			seen = ec
			return &models.ToolResult{Content: "ok"}, nil
		},
	}
	if err := registry.Register(probe); err != nil {
		t.Fatalf("register: %v", err)
	}
	d := NewDispatcher(registry, nil)

	ec := &ExecutionContext{WorkDir: "/tmp/work", Env: map[string]string{"A": "1"}, SessionID: "s1"}
	if res := d.Invoke(context.Background(), models.ToolCall{ID: "c", Name: "probe"}, ec); res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if seen == nil || seen.WorkDir != "/tmp/work" || seen.Env["A"] != "1" || seen.SessionID != "s1" {
		t.Errorf("execution context not passed through: %+v", seen)
	}
}
