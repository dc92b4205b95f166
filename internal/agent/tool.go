package agent

import (
	"context"
	"encoding/json"

	"github.com/ewoodruff/tacit/pkg/models"
)

// Tool is an executable capability the model can invoke.
//
// Execute receives the already-validated parameters and an
// ExecutionContext carrying the working directory and environment
// overlay. Cooperative cancellation flows through ctx.
type Tool interface {
	// Name returns the tool name used for function calling. Must match
	// [a-zA-Z0-9_/-]+ and is case-sensitive.
	Name() string

	// Description explains what the tool does, for the model's benefit.
	Description() string

	// Category groups the tool for permission rules.
	Category() models.ToolCategory

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Failures the model should see are returned
	// as a result with IsError set; a Go error means the tool itself broke.
	Execute(ctx context.Context, params json.RawMessage, ec *ExecutionContext) (*models.ToolResult, error)
}

// ExecutionContext is the environment a tool invocation runs in.
type ExecutionContext struct {
	// WorkDir is the working directory for the invocation.
	WorkDir string

	// Env is the environment overlay applied on top of the process env.
	Env map[string]string

	// SessionID identifies the owning session for event correlation.
	SessionID string
}

// FuncTool adapts a plain function into a Tool. Useful for tests and
// for plugin-contributed tools built from closures.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolCategory    models.ToolCategory
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, params json.RawMessage, ec *ExecutionContext) (*models.ToolResult, error)
}

func (t *FuncTool) Name() string            { return t.ToolName }
func (t *FuncTool) Description() string     { return t.ToolDescription }
func (t *FuncTool) Schema() json.RawMessage { return t.ToolSchema }

func (t *FuncTool) Category() models.ToolCategory {
	if t.ToolCategory == "" {
		return models.CategoryOther
	}
	return t.ToolCategory
}

func (t *FuncTool) Execute(ctx context.Context, params json.RawMessage, ec *ExecutionContext) (*models.ToolResult, error) {
	return t.Fn(ctx, params, ec)
}

// Definition returns the schema-level view of a tool for LLM binding.
func Definition(t Tool) ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}
