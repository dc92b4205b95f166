// Package models defines the shared data types exchanged between the agent
// runtime, the tool dispatch layer, and LLM providers.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType identifies the kind of a typed message part.
type ContentPartType string

const (
	PartText     ContentPartType = "text"
	PartImageURL ContentPartType = "image_url"
	PartBinary   ContentPartType = "binary"
)

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	// Type discriminates the part payload.
	Type ContentPartType `json:"type"`

	// Text is set when Type is PartText.
	Text string `json:"text,omitempty"`

	// URL is set when Type is PartImageURL.
	URL string `json:"url,omitempty"`

	// Ref is an opaque reference to binary data when Type is PartBinary.
	Ref string `json:"ref,omitempty"`
}

// Message is a single conversation entry. Messages are immutable once
// appended to a conversation; the executor only ever appends.
//
// Assistant messages may carry empty Content with non-empty ToolCalls.
// Tool messages must carry ToolCallID referencing the call they answer.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`

	// Content is the plain-text body. Mutually optional with Parts.
	Content string `json:"content,omitempty"`

	// Parts holds an ordered sequence of typed parts for multi-modal
	// messages. When non-empty it supersedes Content.
	Parts []ContentPart `json:"parts,omitempty"`

	// ToolCalls are tool invocations requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID back-references the tool call a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Preserve marks the message as exempt from selective truncation.
	Preserve bool `json:"preserve,omitempty"`
}

// Text returns the textual content of the message, flattening parts.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// IsSystem reports whether the message carries the system role.
func (m *Message) IsSystem() bool { return m.Role == RoleSystem }

// ToolCall describes a tool invocation requested by the model. The ID is
// produced by the LLM and correlates the subsequent tool-result message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ArgumentsMap decodes the call arguments into a map. Malformed or empty
// arguments decode to an empty map rather than an error; schema validation
// happens later in dispatch.
func (tc *ToolCall) ArgumentsMap() map[string]any {
	out := map[string]any{}
	if len(tc.Arguments) > 0 {
		_ = json.Unmarshal(tc.Arguments, &out)
	}
	return out
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	// ToolCallID correlates the result with the requesting call.
	ToolCallID string `json:"tool_call_id"`

	// Content is the tool output surfaced to the model.
	Content string `json:"content"`

	// IsError marks the result as an error condition the model can react to.
	IsError bool `json:"is_error,omitempty"`

	// Metadata carries tool-specific structured data.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolCategory groups tools for permission rules and display.
type ToolCategory string

const (
	CategoryFile  ToolCategory = "file"
	CategoryShell ToolCategory = "shell"
	CategoryWeb   ToolCategory = "web"
	CategoryVCS   ToolCategory = "vcs"
	CategoryOther ToolCategory = "other"
)

// TokenUsage is the per-request usage reported by a provider.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// Timestamp formatting used by result serialisation.
const timestampLayout = time.RFC3339
