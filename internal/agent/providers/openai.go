// Package providers implements LLM transports behind the
// agent.LLMProvider interface. Each provider translates between the
// runtime's message types and its SDK's wire format and maps transport
// failures onto agent.ProviderError kinds so the executor's retry
// policy applies uniformly.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider serves chat completions through the OpenAI API or any
// compatible endpoint (a custom BaseURL selects routers and proxies).
// Safe for concurrent use.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint for compatible backends.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// NewOpenAIProvider creates a provider from the given config.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

// Complete issues a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	chatReq := p.buildRequest(req, false)
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, agent.NewProviderError(p.Name(), 0, errors.New("response carried no choices"))
	}

	choice := resp.Choices[0]
	message := models.Message{
		Role:    models.RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		message.ToolCalls = append(message.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return &agent.CompletionResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Created:      resp.Created,
		Message:      message,
		FinishReason: string(choice.FinishReason),
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Stream issues a streaming chat completion. Tool calls arrive from
// the API as fragmented deltas keyed by index; they are accumulated
// here and emitted as complete calls.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chatReq := p.buildRequest(req, true)
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	// partial tool calls keyed by choice index
	pending := make(map[int]*models.ToolCall)
	var order []int
	var usage models.TokenUsage
	finishReason := ""

	flush := func() {
		for _, idx := range order {
			tc := pending[idx]
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		pending = make(map[int]*models.ToolCall)
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &agent.CompletionChunk{Done: true, FinishReason: finishReason, Usage: &usage}
				return
			}
			chunks <- &agent.CompletionChunk{Err: p.wrapError(err), Done: true}
			return
		}

		if response.Usage != nil {
			usage = models.TokenUsage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Content: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Arguments = append(pending[index].Arguments, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages),
		Stream:   stream,
		Stop:     req.Stop,
	}
	if stream {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		chatReq.TopP = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		chatReq.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		chatReq.PresencePenalty = *req.PresencePenalty
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}
	switch req.ToolChoice {
	case "", "auto":
	case "none":
		chatReq.ToolChoice = "none"
	default:
		chatReq.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ToolChoice},
		}
	}
	return chatReq
}

func convertOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{Role: string(msg.Role)}

		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg.Content = msg.Content
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}

		case models.RoleTool:
			oaiMsg.Content = msg.Content
			oaiMsg.ToolCallID = msg.ToolCallID

		default:
			if parts := imageParts(msg); parts != nil {
				oaiMsg.MultiContent = parts
			} else {
				oaiMsg.Content = msg.Text()
			}
		}
		result = append(result, oaiMsg)
	}
	return result
}

// imageParts returns a multi-content body when the message carries
// image parts, nil for plain text messages.
func imageParts(msg models.Message) []openai.ChatMessagePart {
	hasImage := false
	for _, part := range msg.Parts {
		if part.Type == models.PartImageURL {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return nil
	}

	var parts []openai.ChatMessagePart
	for _, part := range msg.Parts {
		switch part.Type {
		case models.PartText:
			if part.Text != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		case models.PartImageURL:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.URL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return parts
}

func convertOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, def := range tools {
		var schema map[string]any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil || schema == nil {
			// a bad schema on one tool must not break the whole request
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

// wrapError maps SDK failures onto the runtime's provider error kinds.
// Context cancellation passes through untouched so the executor can
// distinguish a cancelled agent from a broken transport.
func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return agent.NewProviderError(p.Name(), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return agent.NewProviderError(p.Name(), reqErr.HTTPStatusCode, err)
	}
	return agent.NewProviderError(p.Name(), 0, fmt.Errorf("request failed: %w", err))
}
