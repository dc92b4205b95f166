package models

import (
	"fmt"
	"time"
)

// AgentType names a preset of prompt template and default tool list.
type AgentType string

const (
	AgentExplore    AgentType = "explore"
	AgentPlan       AgentType = "plan"
	AgentCodeReview AgentType = "code-review"
	AgentGeneral    AgentType = "general"
)

// AgentState is the lifecycle state of an agent task. Transitions are
// monotonic: pending -> running -> one terminal state.
type AgentState string

const (
	AgentPending   AgentState = "pending"
	AgentRunning   AgentState = "running"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
	AgentCancelled AgentState = "cancelled"
	AgentTimedOut  AgentState = "timed_out"
)

// Terminal reports whether the state is final.
func (s AgentState) Terminal() bool {
	switch s {
	case AgentCompleted, AgentFailed, AgentCancelled, AgentTimedOut:
		return true
	}
	return false
}

// AgentConfig bounds a single agent execution.
type AgentConfig struct {
	// MaxIterations limits LLM<->tool round trips. Default 10.
	MaxIterations int `json:"max_iterations,omitempty"`

	// MaxTokens caps cumulative token usage across the run (0 = unlimited).
	MaxTokens int `json:"max_tokens,omitempty"`

	// MaxTime caps wall-clock duration (0 = unlimited).
	MaxTime time.Duration `json:"max_time,omitempty"`

	// AllowedTools restricts the tool registry; empty means all tools.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	// Model overrides the provider default model.
	Model string `json:"model,omitempty"`

	// PromptAddition is appended to the agent-type template.
	PromptAddition string `json:"prompt_addition,omitempty"`

	// InheritContext summarises the parent's messages into the new
	// conversation when set.
	InheritContext bool `json:"inherit_context,omitempty"`
}

// AgentContext is the snapshot of environment an agent starts from.
type AgentContext struct {
	Messages []Message         `json:"messages,omitempty"`
	WorkDir  string            `json:"work_dir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// AgentTask is one bounded unit of work executed by a single loop
// invocation.
type AgentTask struct {
	ID       string       `json:"id"`
	ParentID string       `json:"parent_id,omitempty"`
	Type     AgentType    `json:"type"`
	Prompt   string       `json:"prompt"`
	Config   AgentConfig  `json:"config"`
	Context  AgentContext `json:"context"`
	State    AgentState   `json:"state"`
}

// AgentResult is the terminal outcome of one agent execution.
type AgentResult struct {
	Success       bool           `json:"success"`
	Output        string         `json:"output"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	TokensUsed    int            `json:"tokens_used"`
	TimeSeconds   float64        `json:"time_seconds"`
	ToolCallCount int            `json:"tool_calls"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ToMap serialises the result into a plain map. Unknown value types in
// Data stringify; the timestamp is ISO-8601 at second precision.
func (r *AgentResult) ToMap() map[string]any {
	return map[string]any{
		"success":      r.Success,
		"output":       r.Output,
		"data":         normalizeMap(r.Data),
		"error":        r.Error,
		"tokens_used":  r.TokensUsed,
		"time_seconds": r.TimeSeconds,
		"tool_calls":   r.ToolCallCount,
		"metadata":     normalizeMap(r.Metadata),
		"timestamp":    r.Timestamp.Truncate(time.Second).Format(timestampLayout),
	}
}

// AgentResultFromMap rebuilds a result from its map form. Missing keys
// default to zero values; a malformed timestamp is left as the zero time.
func AgentResultFromMap(m map[string]any) *AgentResult {
	r := &AgentResult{}
	if v, ok := m["success"].(bool); ok {
		r.Success = v
	}
	if v, ok := m["output"].(string); ok {
		r.Output = v
	}
	if v, ok := m["data"].(map[string]any); ok {
		r.Data = v
	}
	if v, ok := m["error"].(string); ok {
		r.Error = v
	}
	r.TokensUsed = asInt(m["tokens_used"])
	if v, ok := m["time_seconds"].(float64); ok {
		r.TimeSeconds = v
	}
	r.ToolCallCount = asInt(m["tool_calls"])
	if v, ok := m["metadata"].(map[string]any); ok {
		r.Metadata = v
	}
	if v, ok := m["timestamp"].(string); ok {
		if ts, err := time.Parse(timestampLayout, v); err == nil {
			r.Timestamp = ts
		}
	}
	return r
}

// normalizeMap makes an arbitrary map JSON-friendly: nested maps recurse,
// slices and arrays become []any, and anything else unrepresentable is
// stringified.
func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return val
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	case time.Time:
		return val.Format(timestampLayout)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
