package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Bus delivers events to in-process handlers and subprocess hooks.
// In-process handlers run first, in priority order; subprocess hooks
// for the same event then run concurrently. Emit returns only after
// every matching hook has been started and awaited.
type Bus struct {
	registry *Registry
	logger   *slog.Logger

	mu    sync.RWMutex
	hooks []Hook
}

// NewBus creates a bus with an empty subprocess hook set.
func NewBus(registry *Registry, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	return &Bus{
		registry: registry,
		logger:   logger.With("component", "hook_bus"),
	}
}

// Registry returns the in-process handler registry.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// SetHooks replaces the configured subprocess hooks.
func (b *Bus) SetHooks(hooks []Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = hooks
}

// AddHook appends one subprocess hook.
func (b *Bus) AddHook(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// Hooks returns a copy of the configured subprocess hooks.
func (b *Bus) Hooks() []Hook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Hook, len(b.hooks))
	copy(out, b.hooks)
	return out
}

// Emit delivers the event. The returned error is non-nil only when a
// pre_execute hook vetoes the pending tool call; every other hook
// failure is logged and swallowed.
func (b *Bus) Emit(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	// In-process handlers share subprocess veto semantics and run first.
	if err := b.registry.Dispatch(ctx, event); err != nil {
		return err
	}

	// Snapshot the matching enabled hooks before dispatch.
	key := event.Key()
	b.mu.RLock()
	matching := make([]Hook, 0, len(b.hooks))
	for _, h := range b.hooks {
		if h.Enabled && MatchPattern(h.Pattern, key) {
			matching = append(matching, h)
		}
	}
	b.mu.RUnlock()

	if len(matching) == 0 {
		return nil
	}

	results := make([]hookResult, len(matching))
	var wg sync.WaitGroup
	for i, hook := range matching {
		wg.Add(1)
		go func(i int, hook Hook) {
			defer wg.Done()
			results[i] = runSubprocess(ctx, hook, event)
		}(i, hook)
	}
	wg.Wait()

	var veto *VetoError
	for _, res := range results {
		if res.stdout != "" {
			b.logger.Debug("hook output",
				"event", event.Type,
				"command", res.hook.Command,
				"stdout", res.stdout)
		}
		if res.err == nil {
			continue
		}
		b.logger.Warn("hook command failed",
			"event", event.Type,
			"command", res.hook.Command,
			"exit_code", res.exitCode,
			"error", res.err)

		// Only pre_execute exit codes carry meaning; the first veto in
		// snapshot order wins.
		if event.Type.PreExecute() && veto == nil {
			reason := res.stderr
			if reason == "" {
				reason = fmt.Sprintf("exit code %d", res.exitCode)
			}
			veto = &VetoError{Hook: res.hook.Command, Reason: reason}
		}
	}
	if veto != nil {
		return veto
	}
	return nil
}

// EmitAsync delivers the event without waiting. Veto results are
// meaningless asynchronously, so any error is logged.
func (b *Bus) EmitAsync(ctx context.Context, event *Event) {
	go func() {
		if err := b.Emit(ctx, event); err != nil {
			b.logger.Warn("async hook emit error", "event", event.Type, "error", err)
		}
	}()
}
