package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry holds in-process hook handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Registration // id -> registration
	logger   *slog.Logger
}

// NewRegistry creates an empty in-process registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName sets the handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource tags the handler with its origin (plugin name, etc).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Register adds a handler for every event matching pattern and returns
// the registration id.
func (r *Registry) Register(pattern string, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		Pattern:  pattern,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	r.handlers[reg.ID] = reg
	r.mu.Unlock()

	r.logger.Debug("registered hook",
		"id", reg.ID,
		"pattern", pattern,
		"name", reg.Name,
		"priority", reg.Priority)
	return reg.ID
}

// Unregister removes a handler by registration id.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[id]; !ok {
		return false
	}
	delete(r.handlers, id)
	r.logger.Debug("unregistered hook", "id", id)
	return true
}

// UnregisterSource removes every handler registered with the given
// source and returns the removed count.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, reg := range r.handlers {
		if reg.Source == source {
			delete(r.handlers, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("unregistered hooks by source", "source", source, "count", removed)
	}
	return removed
}

// Clear removes all handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]*Registration)
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// matching returns registrations matching the event key, sorted by
// priority then registration id for a stable order.
func (r *Registry) matching(key string) []*Registration {
	r.mu.RLock()
	regs := make([]*Registration, 0, len(r.handlers))
	for _, reg := range r.handlers {
		if MatchPattern(reg.Pattern, key) {
			regs = append(regs, reg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool {
		if regs[i].Priority != regs[j].Priority {
			return regs[i].Priority < regs[j].Priority
		}
		return regs[i].ID < regs[j].ID
	})
	return regs
}

// Dispatch runs matching handlers in priority order. For pre_execute
// events the first handler error vetoes and aborts the chain; for other
// events handler errors are logged and the chain continues.
func (r *Registry) Dispatch(ctx context.Context, event *Event) error {
	for _, reg := range r.matching(event.Key()) {
		err := r.call(ctx, reg, event)
		if err == nil {
			continue
		}
		if event.Type.PreExecute() {
			name := reg.Name
			if name == "" {
				name = reg.ID
			}
			return &VetoError{Hook: name, Reason: err.Error()}
		}
		r.logger.Warn("hook handler error",
			"event", event.Type,
			"handler", reg.Name,
			"error", err)
	}
	return nil
}

func (r *Registry) call(ctx context.Context, reg *Registration, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}
