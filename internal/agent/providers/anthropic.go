package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicProvider serves completions through the Anthropic Messages
// API. Safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewAnthropicProvider creates a provider from the given config.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

// Complete issues a blocking request against the Messages API.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	params := p.buildParams(req)
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	message := models.Message{Role: models.RoleAssistant}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			message.ToolCalls = append(message.ToolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	message.Content = text.String()

	return &agent.CompletionResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Message:      message,
		FinishReason: string(msg.StopReason),
		Usage: models.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Stream issues a streaming request. Tool input arrives as partial
// JSON deltas; each call is assembled and emitted whole when its
// content block closes.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(stream, chunks)
	return chunks, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)

	var pendingCall *models.ToolCall
	var pendingInput strings.Builder
	var usage models.TokenUsage
	finishReason := ""

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			usage.InputTokens = int(messageStart.Message.Usage.InputTokens)

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				pendingCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				pendingInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Content: delta.Text}
				}
			case "input_json_delta":
				pendingInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if pendingCall != nil {
				pendingCall.Arguments = json.RawMessage(pendingInput.String())
				chunks <- &agent.CompletionChunk{ToolCall: pendingCall}
				pendingCall = nil
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}
			if messageDelta.Delta.StopReason != "" {
				finishReason = string(messageDelta.Delta.StopReason)
			}

		case "message_stop":
			chunks <- &agent.CompletionChunk{Done: true, FinishReason: finishReason, Usage: &usage}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Err: p.wrapError(err), Done: true}
		return
	}
	chunks <- &agent.CompletionChunk{Done: true, FinishReason: finishReason, Usage: &usage}
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, conversation := splitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  conversation,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(float64(*req.TopP))
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}
	return params
}

// splitSystem pulls system messages out of the conversation; the
// Messages API takes the system prompt as a separate parameter.
func splitSystem(messages []models.Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	var conversation []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Text())

		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.ArgumentsMap(), tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, anthropic.NewAssistantMessage(blocks...))
			}

		case models.RoleTool:
			conversation = append(conversation, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		default:
			if text := msg.Text(); text != "" {
				conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}
	return system.String(), conversation
}

func convertAnthropicTools(tools []agent.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(def.Parameters) > 0 {
			var doc struct {
				Properties map[string]any `json:"properties"`
				Required   []string       `json:"required"`
			}
			if err := json.Unmarshal(def.Parameters, &doc); err == nil {
				schema.Properties = doc.Properties
				schema.Required = doc.Required
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool != nil && def.Description != "" {
			param.OfTool.Description = anthropic.String(def.Description)
		}
		result = append(result, param)
	}
	return result
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return agent.NewProviderError(p.Name(), apiErr.StatusCode, err)
	}
	return agent.NewProviderError(p.Name(), 0, err)
}
