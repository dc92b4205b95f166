package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Event names emitted around permission checks.
const (
	EventCheck   = "permission:check"
	EventPrompt  = "permission:prompt"
	EventGranted = "permission:granted"
	EventDenied  = "permission:denied"
)

// ErrDenied is returned by Authorize when the invocation is refused.
var ErrDenied = errors.New("permission denied")

// Prompter asks the user to confirm an invocation that evaluated to ask.
// The core never renders UI; callers inject a prompter or accept that
// every ask resolves to denial.
type Prompter interface {
	Confirm(ctx context.Context, req PromptRequest) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, req PromptRequest) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, req PromptRequest) (bool, error) {
	return f(ctx, req)
}

// PromptRequest describes the invocation awaiting confirmation.
type PromptRequest struct {
	Tool     string
	Category string
	Args     map[string]any
	Rule     *Rule
	Reason   string
}

// EmitFunc receives permission lifecycle events. Wired to the hook bus
// by the caller; nil means events are skipped.
type EmitFunc func(ctx context.Context, event string, tool string, data map[string]any)

// Decision is the result of evaluating one invocation.
type Decision struct {
	Level   Level
	Matched *Rule
	Reason  string
}

// Engine holds the ordered rule set and the default level.
type Engine struct {
	mu           sync.RWMutex
	rules        []Rule
	defaultLevel Level
	prompter     Prompter
	emit         EmitFunc
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrompter injects the confirmation callback used for ask results.
func WithPrompter(p Prompter) Option {
	return func(e *Engine) { e.prompter = p }
}

// WithEmitter wires permission events to a sink.
func WithEmitter(emit EmitFunc) Option {
	return func(e *Engine) { e.emit = emit }
}

// WithDefaultLevel overrides the out-of-the-box default of ask.
func WithDefaultLevel(l Level) Option {
	return func(e *Engine) { e.defaultLevel = l }
}

// NewEngine creates an engine with the given rules.
func NewEngine(rules []Rule, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		rules:        compileRules(rules),
		defaultLevel: LevelAsk,
		logger:       logger.With("component", "permission"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRules replaces the rule set.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = compileRules(rules)
}

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate resolves the level for one invocation. Disabled rules are
// skipped; among matches the highest (priority, specificity) wins, with
// ties going to the more restrictive level. No match yields the default.
func (e *Engine) Evaluate(tool, category string, args map[string]any) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *Rule
	bestSpec := 0
	for i := range e.rules {
		r := &e.rules[i]
		if !r.Enabled || !r.Level.Valid() {
			continue
		}
		if !r.Matches(tool, category, args) {
			continue
		}
		spec := r.Specificity()
		if best == nil || wins(r, spec, best, bestSpec) {
			best = r
			bestSpec = spec
		}
	}

	if best == nil {
		return Decision{
			Level:  e.defaultLevel,
			Reason: fmt.Sprintf("no rule matched %s, default %s", tool, e.defaultLevel),
		}
	}

	matched := *best
	reason := matched.Description
	if reason == "" {
		reason = fmt.Sprintf("rule %q", matched.Pattern)
	}
	return Decision{Level: matched.Level, Matched: &matched, Reason: reason}
}

// wins reports whether candidate r beats the current best.
func wins(r *Rule, spec int, best *Rule, bestSpec int) bool {
	if r.Priority != best.Priority {
		return r.Priority > best.Priority
	}
	if spec != bestSpec {
		return spec > bestSpec
	}
	return r.Level.restrictiveness() > best.Level.restrictiveness()
}

// Authorize evaluates the invocation and resolves ask results through
// the prompter. It returns nil when the call may proceed and an error
// wrapping ErrDenied otherwise.
func (e *Engine) Authorize(ctx context.Context, tool, category string, args map[string]any) error {
	e.emitEvent(ctx, EventCheck, tool, map[string]any{"category": category})

	decision := e.Evaluate(tool, category, args)
	switch decision.Level {
	case LevelAllow:
		return nil

	case LevelDeny:
		e.emitEvent(ctx, EventDenied, tool, map[string]any{"reason": decision.Reason})
		return fmt.Errorf("%w: %s", ErrDenied, decision.Reason)

	default: // ask
		e.emitEvent(ctx, EventPrompt, tool, map[string]any{"reason": decision.Reason})

		if e.prompter == nil {
			// Non-interactive run; ask is equivalent to denial.
			e.emitEvent(ctx, EventDenied, tool, map[string]any{"reason": "no prompter configured"})
			return fmt.Errorf("%w: confirmation required but no prompter configured", ErrDenied)
		}

		granted, err := e.prompter.Confirm(ctx, PromptRequest{
			Tool:     tool,
			Category: category,
			Args:     args,
			Rule:     decision.Matched,
			Reason:   decision.Reason,
		})
		if err != nil {
			e.emitEvent(ctx, EventDenied, tool, map[string]any{"reason": err.Error()})
			return fmt.Errorf("%w: prompt failed: %v", ErrDenied, err)
		}
		if !granted {
			e.emitEvent(ctx, EventDenied, tool, map[string]any{"reason": "refused by user"})
			return fmt.Errorf("%w: refused by user", ErrDenied)
		}
		e.emitEvent(ctx, EventGranted, tool, nil)
		return nil
	}
}

func (e *Engine) emitEvent(ctx context.Context, event, tool string, data map[string]any) {
	if e.emit == nil {
		return
	}
	e.emit(ctx, event, tool, data)
}
