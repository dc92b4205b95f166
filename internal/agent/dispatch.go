package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/internal/permission"
	"github.com/ewoodruff/tacit/pkg/models"
)

// ToolObserver receives dispatch outcomes for metrics recording.
type ToolObserver interface {
	ToolExecuted(tool string, isError bool, duration time.Duration)
}

// Dispatcher runs tool calls through the full pipeline: resolve,
// validate, authorise, hook veto, execute. Pipeline failures never
// surface as Go errors; they materialise as error results so the
// model can react to them.
type Dispatcher struct {
	registry *ToolRegistry
	perms    *permission.Engine
	bus      *hooks.Bus
	logger   *slog.Logger
	observer ToolObserver

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPermissions sets the permission engine consulted before execution.
func WithPermissions(engine *permission.Engine) DispatcherOption {
	return func(d *Dispatcher) { d.perms = engine }
}

// WithHookBus sets the bus used for tool lifecycle events.
func WithHookBus(bus *hooks.Bus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithObserver sets the metrics observer.
func WithObserver(obs ToolObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = obs }
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *ToolRegistry, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		registry: registry,
		logger:   logger.With("component", "dispatch"),
		schemas:  make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the underlying tool registry.
func (d *Dispatcher) Registry() *ToolRegistry { return d.registry }

// Invoke runs one tool call end to end. The returned result always
// carries the call's ToolCallID; a pipeline failure sets IsError and
// puts the failure kind and reason in Content.
func (d *Dispatcher) Invoke(ctx context.Context, call models.ToolCall, ec *ExecutionContext) *models.ToolResult {
	if ec == nil {
		ec = &ExecutionContext{}
	}
	start := time.Now()
	result := d.invoke(ctx, call, ec)
	if d.observer != nil {
		d.observer.ToolExecuted(call.Name, result.IsError, time.Since(start))
	}
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, call models.ToolCall, ec *ExecutionContext) *models.ToolResult {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return d.fail(ctx, call, ec, NewDispatchError(KindUnknownTool, call.Name, nil).
			WithMessage("no tool registered under this name").
			WithToolCallID(call.ID))
	}

	args, err := d.validateArgs(tool, call.Arguments)
	if err != nil {
		return d.fail(ctx, call, ec, NewDispatchError(KindInvalidArgs, call.Name, err).WithToolCallID(call.ID))
	}

	if d.perms != nil {
		if err := d.perms.Authorize(ctx, call.Name, string(tool.Category()), args); err != nil {
			return d.fail(ctx, call, ec, NewDispatchError(KindPermissionDenied, call.Name, err).WithToolCallID(call.ID))
		}
	}

	if d.bus != nil {
		event := hooks.NewEvent(hooks.EventToolPreExecute).
			WithSession(ec.SessionID).
			WithTool(call.Name).
			WithData("tool_call_id", call.ID).
			WithData("arguments", string(call.Arguments))
		if err := d.bus.Emit(ctx, event); err != nil {
			return d.fail(ctx, call, ec, NewDispatchError(KindHookVeto, call.Name, err).WithToolCallID(call.ID))
		}
	}

	normalized, merr := json.Marshal(args)
	if merr != nil {
		normalized = call.Arguments
	}
	res, execErr := tool.Execute(ctx, normalized, ec)
	if execErr != nil {
		return d.fail(ctx, call, ec, NewDispatchError(KindToolError, call.Name, execErr).WithToolCallID(call.ID))
	}
	if res == nil {
		res = &models.ToolResult{}
	}
	res.ToolCallID = call.ID

	if d.bus != nil {
		event := hooks.NewEvent(hooks.EventToolPostExecute).
			WithSession(ec.SessionID).
			WithTool(call.Name).
			WithData("tool_call_id", call.ID).
			WithData("is_error", res.IsError)
		if err := d.bus.Emit(ctx, event); err != nil {
			d.logger.Warn("post_execute hook failed", "tool", call.Name, "error", err)
		}
	}
	return res
}

// fail materialises a dispatch failure into an error result and emits
// tool:error. Permission denials already emitted their own event.
func (d *Dispatcher) fail(ctx context.Context, call models.ToolCall, ec *ExecutionContext, derr *DispatchError) *models.ToolResult {
	d.logger.Warn("tool dispatch failed", "tool", call.Name, "kind", string(derr.Kind), "error", derr.Message)

	if d.bus != nil {
		event := hooks.NewEvent(hooks.EventToolError).
			WithSession(ec.SessionID).
			WithTool(call.Name).
			WithData("tool_call_id", call.ID).
			WithData("kind", string(derr.Kind)).
			WithData("error", derr.Message)
		if err := d.bus.Emit(ctx, event); err != nil {
			d.logger.Warn("tool:error hook failed", "tool", call.Name, "error", err)
		}
	}

	return &models.ToolResult{
		ToolCallID: call.ID,
		Content:    derr.Error(),
		IsError:    true,
		Metadata:   map[string]any{"kind": string(derr.Kind)},
	}
}

// validateArgs decodes, coerces, and schema-validates tool arguments.
// Coercion follows the schema's declared types so that models emitting
// "5" for an integer parameter still dispatch cleanly.
func (d *Dispatcher) validateArgs(tool Tool, raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
		}
	}

	schemaJSON := tool.Schema()
	if len(schemaJSON) == 0 {
		return args, nil
	}

	var schemaDoc map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("tool schema is malformed: %w", err)
	}
	coerced := coerceObject(schemaDoc, args)

	schema, err := d.compileSchema(tool.Name(), schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("tool schema does not compile: %w", err)
	}
	if err := schema.Validate(anyValue(coerced)); err != nil {
		return nil, err
	}
	return coerced, nil
}

func (d *Dispatcher) compileSchema(name string, schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	key := name + "\x00" + string(schemaJSON)
	d.schemaMu.Lock()
	defer d.schemaMu.Unlock()
	if compiled, ok := d.schemas[key]; ok {
		return compiled, nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schemaJSON))
	if err != nil {
		return nil, err
	}
	d.schemas[key] = compiled
	return compiled, nil
}

// anyValue round-trips a map through JSON so the validator sees the
// generic shapes it expects (float64 numbers, []any arrays).
func anyValue(m map[string]any) any {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

// coerceObject applies schema-driven type coercion to each property of
// an object. Properties without a declared type pass through untouched.
func coerceObject(schema map[string]any, args map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		return args
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		propSchema, _ := props[key].(map[string]any)
		out[key] = coerceValue(propSchema, value)
	}
	return out
}

func coerceValue(schema map[string]any, value any) any {
	if schema == nil {
		return value
	}
	declared, _ := schema["type"].(string)
	switch declared {
	case "string":
		switch v := value.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	case "integer":
		switch v := value.(type) {
		case float64:
			return v
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return float64(n)
			}
		}
	case "number":
		if v, ok := value.(string); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	case "boolean":
		if v, ok := value.(string); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	case "array":
		items, _ := schema["items"].(map[string]any)
		if list, ok := value.([]any); ok && items != nil {
			out := make([]any, len(list))
			for i, elem := range list {
				out[i] = coerceValue(items, elem)
			}
			return out
		}
	case "object":
		if obj, ok := value.(map[string]any); ok {
			return coerceObject(schema, obj)
		}
	}
	return value
}
