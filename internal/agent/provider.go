// Package agent implements the bounded ReAct execution loop, the tool
// registry and dispatch pipeline, and the LLM provider abstraction.
package agent

import (
	"context"
	"encoding/json"

	"github.com/ewoodruff/tacit/pkg/models"
)

// LLMProvider is the transport abstraction over a chat-completions
// backend. Implementations must be safe for concurrent use.
//
// Stream returns chunks as the model generates them. Tool calls are
// delivered as complete, fully-assembled calls; providers that receive
// fragmented tool-call deltas assemble them before emitting a chunk.
type LLMProvider interface {
	// Name returns the provider name used in logs and error reporting.
	Name() string

	// Complete issues a blocking completion and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream issues a streaming completion. The channel is closed after
	// the final chunk (Done=true) or an error chunk.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Models returns the models this provider can serve.
	Models() []Model
}

// CompletionRequest is a single chat-completions request. The system
// prompt travels as a leading system-role message rather than a
// dedicated field; providers translate to their native shape.
type CompletionRequest struct {
	// Model selects the model. Empty uses the provider default.
	Model string `json:"model"`

	// Messages is the conversation in chronological order.
	Messages []models.Message `json:"messages"`

	// Temperature controls sampling randomness (provider default when nil).
	Temperature *float32 `json:"temperature,omitempty"`

	// MaxTokens caps the response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// TopP is the nucleus sampling cutoff.
	TopP *float32 `json:"top_p,omitempty"`

	// FrequencyPenalty discourages verbatim repetition.
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`

	// PresencePenalty discourages topic repetition.
	PresencePenalty *float32 `json:"presence_penalty,omitempty"`

	// Stop lists sequences that end generation.
	Stop []string `json:"stop,omitempty"`

	// Tools defines the functions the model may call.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// ToolChoice forces or forbids tool use ("auto", "none", or a name).
	ToolChoice string `json:"tool_choice,omitempty"`

	// Transforms and Route are router-specific passthrough options.
	Transforms []string `json:"transforms,omitempty"`
	Route      string   `json:"route,omitempty"`
}

// ToolDefinition is the schema-level description of a callable tool
// as bound into an LLM request.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// CompletionResponse is a full (non-streaming) completion result.
type CompletionResponse struct {
	// ID is the provider-assigned response id.
	ID string `json:"id,omitempty"`

	// Model is the model that actually served the request.
	Model string `json:"model,omitempty"`

	// Created is the provider-reported creation time (unix seconds).
	Created int64 `json:"created,omitempty"`

	// Provider names the upstream provider when routed.
	Provider string `json:"provider,omitempty"`

	// Message is the assistant message, including any tool calls.
	Message models.Message `json:"message"`

	// FinishReason is the provider's stop reason ("stop", "tool_calls", ...).
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is the token accounting for this request.
	Usage models.TokenUsage `json:"usage"`
}

// CompletionChunk is one element of a streaming response.
//
// Exactly one of Content, ToolCall, Err, or a bare Done is meaningful
// per chunk. Usage is populated only on the final chunk.
type CompletionChunk struct {
	// Content is a partial slice of the assistant's text.
	Content string `json:"content,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks the end of the stream.
	Done bool `json:"done,omitempty"`

	// FinishReason accompanies the final chunk.
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is the token accounting, final chunk only.
	Usage *models.TokenUsage `json:"usage,omitempty"`

	// Err terminates the stream when set.
	Err error `json:"-"`
}

// Model describes a model a provider can serve.
type Model struct {
	// ID is the API identifier (e.g. "gpt-4o").
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// ContextSize is the context window in tokens.
	ContextSize int `json:"context_size"`

	// SupportsVision reports whether the model accepts images.
	SupportsVision bool `json:"supports_vision"`
}
