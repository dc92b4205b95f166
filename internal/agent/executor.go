package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ewoodruff/tacit/internal/backoff"
	"github.com/ewoodruff/tacit/internal/compaction"
	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/pkg/models"
)

// Default execution bounds.
const (
	DefaultMaxIterations    = 10
	DefaultIterationTimeout = 2 * time.Minute
	DefaultLLMRetries       = 3
)

// LLMObserver receives per-request LLM accounting for metrics.
type LLMObserver interface {
	LLMRequest(provider, model string, usage models.TokenUsage, duration time.Duration, err error)
}

// EventKind identifies a streaming executor event.
type EventKind string

const (
	EventLLMStart  EventKind = "llm_start"
	EventLLMChunk  EventKind = "llm_chunk"
	EventLLMEnd    EventKind = "llm_end"
	EventToolStart EventKind = "tool_start"
	EventToolEnd   EventKind = "tool_end"
	EventAgentEnd  EventKind = "agent_end"
	EventError     EventKind = "error"
)

// AgentEvent is one element of the streaming execution feed.
//
// The concatenation of every llm_chunk Content equals the assistant
// message appended for that iteration. tool_end always follows its
// matching tool_start. agent_end is the final event on success.
type AgentEvent struct {
	Kind       EventKind           `json:"kind"`
	Content    string              `json:"content,omitempty"`
	ToolName   string              `json:"tool_name,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Result     *models.AgentResult `json:"result,omitempty"`
	ToolResult *models.ToolResult  `json:"tool_result,omitempty"`
	Usage      *models.TokenUsage  `json:"usage,omitempty"`
	Err        error               `json:"-"`
}

// Executor drives the bounded ReAct loop. It is the only place that
// mutates an agent's conversation, and it holds no locks across LLM or
// tool suspension points.
type Executor struct {
	provider   LLMProvider
	dispatcher *Dispatcher
	templates  *TemplateRegistry
	bus        *hooks.Bus
	compactor  *compaction.Compactor
	logger     *slog.Logger
	observer   LLMObserver

	iterationTimeout time.Duration
	llmRetries       int
	retryPolicy      backoff.Policy
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithTemplates overrides the agent-type catalogue.
func WithTemplates(templates *TemplateRegistry) ExecutorOption {
	return func(e *Executor) { e.templates = templates }
}

// WithBus sets the hook bus for llm and session events.
func WithBus(bus *hooks.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

// WithCompactor enables inherit_context summarisation.
func WithCompactor(c *compaction.Compactor) ExecutorOption {
	return func(e *Executor) { e.compactor = c }
}

// WithLLMObserver sets the metrics observer for LLM requests.
func WithLLMObserver(obs LLMObserver) ExecutorOption {
	return func(e *Executor) { e.observer = obs }
}

// WithIterationTimeout bounds each LLM call.
func WithIterationTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.iterationTimeout = d }
}

// WithRetry configures transient-error retry for LLM calls.
func WithRetry(policy backoff.Policy, attempts int) ExecutorOption {
	return func(e *Executor) {
		e.retryPolicy = policy
		e.llmRetries = attempts
	}
}

// NewExecutor creates an executor over a provider and dispatcher.
func NewExecutor(provider LLMProvider, dispatcher *Dispatcher, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		provider:         provider,
		dispatcher:       dispatcher,
		templates:        NewTemplateRegistry(),
		logger:           logger.With("component", "executor"),
		iterationTimeout: DefaultIterationTimeout,
		llmRetries:       DefaultLLMRetries,
		retryPolicy:      backoff.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the agent to a terminal state. It never returns an
// error: failures are encoded in the result and the task's state.
func (e *Executor) Execute(ctx context.Context, task *models.AgentTask) *models.AgentResult {
	return e.run(ctx, task, nil)
}

// Stream runs the agent and feeds execution events to the returned
// channel. The channel closes after the terminal event.
func (e *Executor) Stream(ctx context.Context, task *models.AgentTask) <-chan AgentEvent {
	events := make(chan AgentEvent, 16)
	go func() {
		defer close(events)
		sink := func(ev AgentEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		result := e.run(ctx, task, sink)
		if result.Success {
			sink(AgentEvent{Kind: EventAgentEnd, Result: result})
		} else {
			sink(AgentEvent{Kind: EventError, Result: result, Err: errors.New(result.Error)})
		}
	}()
	return events
}

// run is the single loop shared by Execute and Stream. A nil sink
// selects the blocking provider path; a non-nil sink streams chunks.
func (e *Executor) run(ctx context.Context, task *models.AgentTask, sink func(AgentEvent)) *models.AgentResult {
	start := time.Now()
	task.State = models.AgentRunning

	if e.provider == nil {
		return e.finish(task, start, models.AgentFailed, ReasonProviderError, "", 0, 0, ErrNoProvider.Error())
	}

	cfg := task.Config
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	template := e.templates.Get(task.Type)
	messages := e.initialMessages(ctx, task, template)

	allowed := cfg.AllowedTools
	if len(allowed) == 0 {
		allowed = template.DefaultTools
	}
	var defs []ToolDefinition
	if e.dispatcher != nil {
		defs = e.dispatcher.Registry().Definitions(allowed)
	}

	tracer := otel.Tracer("tacit/agent")

	tokensUsed := 0
	toolCalls := 0
	lastAssistant := ""

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return e.finish(task, start, models.AgentCancelled, ReasonCancelled, lastAssistant, tokensUsed, toolCalls, "cancelled")
		}

		iterCtx, span := tracer.Start(ctx, "agent.iteration",
			trace.WithAttributes(
				attribute.String("task.id", task.ID),
				attribute.Int("iteration", iteration),
			))
		assistant, usage, err := e.completeOnce(iterCtx, task, messages, defs, sink)
		span.End()
		if err != nil {
			reason, msg := providerFailure(err)
			state := models.AgentFailed
			if reason == ReasonCancelled {
				state = models.AgentCancelled
			}
			return e.finish(task, start, state, reason, lastAssistant, tokensUsed, toolCalls, msg)
		}

		tokensUsed += usage.Total()
		if cfg.MaxTokens > 0 && tokensUsed > cfg.MaxTokens {
			return e.finish(task, start, models.AgentFailed, ReasonMaxTokens, lastAssistant, tokensUsed, toolCalls,
				fmt.Sprintf("%s: token budget exceeded: %d > %d", ReasonMaxTokens, tokensUsed, cfg.MaxTokens))
		}
		if cfg.MaxTime > 0 && time.Since(start) > cfg.MaxTime {
			return e.finish(task, start, models.AgentTimedOut, ReasonMaxTime, lastAssistant, tokensUsed, toolCalls,
				fmt.Sprintf("%s: time budget exceeded: %s > %s", ReasonMaxTime, time.Since(start).Round(time.Millisecond), cfg.MaxTime))
		}

		messages = append(messages, *assistant)
		lastAssistant = assistant.Content

		if len(assistant.ToolCalls) == 0 {
			return e.finish(task, start, models.AgentCompleted, "", assistant.Content, tokensUsed, toolCalls, "")
		}

		for _, call := range assistant.ToolCalls {
			if sink != nil {
				sink(AgentEvent{Kind: EventToolStart, ToolName: call.Name, ToolCallID: call.ID})
			}
			result := e.invokeTool(ctx, task, call)
			toolCalls++
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    result.Content,
				ToolCallID: call.ID,
			})
			if sink != nil {
				sink(AgentEvent{Kind: EventToolEnd, ToolName: call.Name, ToolCallID: call.ID, ToolResult: result})
			}
		}

		if err := ctx.Err(); err != nil {
			return e.finish(task, start, models.AgentCancelled, ReasonCancelled, lastAssistant, tokensUsed, toolCalls, "cancelled")
		}
	}

	return e.finish(task, start, models.AgentFailed, ReasonMaxIterations, lastAssistant, tokensUsed, toolCalls,
		fmt.Sprintf("%s: iteration budget exhausted after %d iterations", ReasonMaxIterations, maxIterations))
}

// initialMessages assembles [system, optional inherited summary, task].
func (e *Executor) initialMessages(ctx context.Context, task *models.AgentTask, template Template) []models.Message {
	system := template.Prompt
	if task.Config.PromptAddition != "" {
		system = system + "\n\n" + task.Config.PromptAddition
	}
	messages := []models.Message{{Role: models.RoleSystem, Content: system}}

	if task.Config.InheritContext && len(task.Context.Messages) > 0 && e.compactor != nil {
		summary, err := e.compactor.Summary(ctx, task.Context.Messages)
		if err != nil {
			e.logger.Warn("context inheritance failed, starting fresh", "task_id", task.ID, "error", err)
		} else {
			messages = append(messages, summary)
		}
	}

	messages = append(messages, models.Message{Role: models.RoleUser, Content: task.Prompt})
	return messages
}

// completeOnce issues one LLM request with per-iteration timeout and
// transient-error retry, via the streaming path when a sink is set.
func (e *Executor) completeOnce(ctx context.Context, task *models.AgentTask, messages []models.Message, defs []ToolDefinition, sink func(AgentEvent)) (*models.Message, models.TokenUsage, error) {
	req := &CompletionRequest{
		Model:    task.Config.Model,
		Messages: messages,
		Tools:    defs,
	}

	e.emitEvent(ctx, task, hooks.NewEvent(hooks.EventLLMPreRequest).WithData("model", req.Model))

	start := time.Now()

	// A stream that already surfaced chunks to the caller cannot be
	// transparently retried; the chunk-sum contract would break.
	streamed := false
	retryable := func(err error) bool {
		return !streamed && IsProviderRetryable(err)
	}

	out, err := backoff.Retry(ctx, e.retryPolicy, e.llmRetries, retryable, func(attempt int) (completion, error) {
		if attempt > 1 {
			e.logger.Info("retrying llm request", "task_id", task.ID, "attempt", attempt)
		}
		callCtx := ctx
		if e.iterationTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.iterationTimeout)
			defer cancel()
		}
		if sink == nil {
			resp, err := e.provider.Complete(callCtx, req)
			if err != nil {
				return completion{}, err
			}
			return completion{message: resp.Message, usage: resp.Usage}, nil
		}
		return e.streamOnce(callCtx, req, sink, &streamed)
	})

	if e.observer != nil {
		e.observer.LLMRequest(e.provider.Name(), req.Model, out.usage, time.Since(start), err)
	}
	if err != nil {
		e.emitEvent(ctx, task, hooks.NewEvent(hooks.EventLLMPostResponse).WithData("error", err.Error()))
		return nil, models.TokenUsage{}, err
	}

	e.emitEvent(ctx, task, hooks.NewEvent(hooks.EventLLMPostResponse).
		WithData("input_tokens", out.usage.InputTokens).
		WithData("output_tokens", out.usage.OutputTokens))
	return &out.message, out.usage, nil
}

// completion is the assembled outcome of one LLM request.
type completion struct {
	message models.Message
	usage   models.TokenUsage
}

// streamOnce consumes one provider stream, forwarding text chunks to
// the sink and assembling the final assistant message. streamed is set
// as soon as any chunk reaches the sink.
func (e *Executor) streamOnce(ctx context.Context, req *CompletionRequest, sink func(AgentEvent), streamed *bool) (completion, error) {
	chunks, err := e.provider.Stream(ctx, req)
	if err != nil {
		return completion{}, err
	}

	sink(AgentEvent{Kind: EventLLMStart})
	var content strings.Builder
	var calls []models.ToolCall
	var usage models.TokenUsage

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return completion{}, chunk.Err
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		case chunk.Content != "":
			content.WriteString(chunk.Content)
			*streamed = true
			sink(AgentEvent{Kind: EventLLMChunk, Content: chunk.Content})
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
	}
	sink(AgentEvent{Kind: EventLLMEnd, Usage: &usage})

	return completion{
		message: models.Message{
			Role:      models.RoleAssistant,
			Content:   content.String(),
			ToolCalls: calls,
		},
		usage: usage,
	}, nil
}

// invokeTool dispatches one call through the pipeline. With no
// dispatcher configured every call fails as unknown.
func (e *Executor) invokeTool(ctx context.Context, task *models.AgentTask, call models.ToolCall) *models.ToolResult {
	if e.dispatcher == nil {
		derr := NewDispatchError(KindUnknownTool, call.Name, nil).
			WithMessage("no dispatcher configured").
			WithToolCallID(call.ID)
		return &models.ToolResult{ToolCallID: call.ID, Content: derr.Error(), IsError: true}
	}
	return e.dispatcher.Invoke(ctx, call, &ExecutionContext{
		WorkDir:   task.Context.WorkDir,
		Env:       task.Context.Env,
		SessionID: task.ID,
	})
}

func (e *Executor) emitEvent(ctx context.Context, task *models.AgentTask, event *hooks.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Emit(ctx, event.WithSession(task.ID)); err != nil {
		e.logger.Warn("hook emit failed", "event", string(event.Type), "error", err)
	}
}

// finish settles the task into a terminal state and builds the result.
func (e *Executor) finish(task *models.AgentTask, start time.Time, state models.AgentState, reason FailureReason, output string, tokens, toolCalls int, errMsg string) *models.AgentResult {
	task.State = state
	result := &models.AgentResult{
		Success:       state == models.AgentCompleted,
		Output:        output,
		TokensUsed:    tokens,
		TimeSeconds:   time.Since(start).Seconds(),
		ToolCallCount: toolCalls,
		Timestamp:     time.Now(),
	}
	if reason != "" {
		result.Metadata = map[string]any{"reason": string(reason)}
	}
	if errMsg != "" {
		result.Error = errMsg
	}
	e.logger.Info("agent finished",
		"task_id", task.ID,
		"state", string(state),
		"tokens", tokens,
		"tool_calls", toolCalls,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result
}

// providerFailure maps an LLM transport error to a terminal reason.
func providerFailure(err error) (FailureReason, string) {
	if errors.Is(err, context.Canceled) {
		return ReasonCancelled, "cancelled"
	}
	return ReasonProviderError, err.Error()
}
