package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Sentinel errors for registry operations.
var (
	// ErrToolConflict indicates a name is already claimed by another source.
	ErrToolConflict = errors.New("tool name conflict")

	// ErrToolNotFound indicates lookup of an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
)

type toolEntry struct {
	tool    Tool
	source  string
	aliases []string
}

// ToolRegistry is a thread-safe name to tool map with alias support.
//
// Registration is idempotent per (name, source): the same source may
// re-register a name freely, while a second source claiming an existing
// name is a conflict. Lookup is case-sensitive. Iteration order is
// stable (sorted by canonical name).
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]*toolEntry
	aliases map[string]string
	logger  *slog.Logger
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]*toolEntry),
		aliases: make(map[string]string),
		logger:  slog.Default().With("component", "tool_registry"),
	}
}

// RegisterOption customises a tool registration.
type RegisterOption func(*toolEntry)

// WithSource tags the registration with an owning source (a plugin id,
// an MCP server name, or "builtin").
func WithSource(source string) RegisterOption {
	return func(e *toolEntry) { e.source = source }
}

// WithAliases registers additional names resolving to the same tool.
func WithAliases(aliases ...string) RegisterOption {
	return func(e *toolEntry) { e.aliases = append(e.aliases, aliases...) }
}

// Register adds a tool. Re-registering the same name from the same
// source replaces the previous registration and its aliases.
func (r *ToolRegistry) Register(tool Tool, opts ...RegisterOption) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("register: tool must have a name")
	}
	entry := &toolEntry{tool: tool, source: "builtin"}
	for _, opt := range opts {
		opt(entry)
	}

	name := tool.Name()
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[name]; ok && existing.source != entry.source {
		return fmt.Errorf("%w: %q already registered by %q", ErrToolConflict, name, existing.source)
	}
	for _, alias := range entry.aliases {
		if canonical, ok := r.aliases[alias]; ok && canonical != name {
			return fmt.Errorf("%w: alias %q already resolves to %q", ErrToolConflict, alias, canonical)
		}
		if _, ok := r.tools[alias]; ok && alias != name {
			return fmt.Errorf("%w: alias %q shadows a registered tool", ErrToolConflict, alias)
		}
	}

	if existing, ok := r.tools[name]; ok {
		for _, alias := range existing.aliases {
			delete(r.aliases, alias)
		}
	}
	r.tools[name] = entry
	for _, alias := range entry.aliases {
		r.aliases[alias] = name
	}
	return nil
}

// Unregister removes a tool and its aliases by canonical name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(name)
}

// UnregisterSource removes every tool registered by the given source
// in one critical section and returns how many were removed.
func (r *ToolRegistry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name, entry := range r.tools {
		if entry.source == source {
			names = append(names, name)
		}
	}
	for _, name := range names {
		r.removeLocked(name)
	}
	return len(names)
}

func (r *ToolRegistry) removeLocked(name string) {
	entry, ok := r.tools[name]
	if !ok {
		return
	}
	for _, alias := range entry.aliases {
		delete(r.aliases, alias)
	}
	delete(r.tools, name)
}

// Get resolves a tool by canonical name or alias.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.tools[name]; ok {
		return entry.tool, true
	}
	if canonical, ok := r.aliases[name]; ok {
		if entry, ok := r.tools[canonical]; ok {
			return entry.tool, true
		}
	}
	return nil, false
}

// Source returns the owning source of a registered tool.
func (r *ToolRegistry) Source(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return entry.source, true
}

// Names returns all canonical tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools sorted by canonical name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name].tool)
	}
	return tools
}

// Definitions returns the schema-level view of the registry, filtered
// to the allow-list when one is given. Allow-list entries naming no
// registered tool are skipped with a warning. Order is stable.
func (r *ToolRegistry) Definitions(allowed []string) []ToolDefinition {
	tools := r.List()
	var allow map[string]bool
	if len(allowed) > 0 {
		allow = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			allow[name] = true
		}
	}
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		if allow != nil {
			if !allow[t.Name()] {
				continue
			}
			delete(allow, t.Name())
		}
		defs = append(defs, Definition(t))
	}
	for name := range allow {
		r.logger.Warn("allow-list names unregistered tool", "tool", name)
	}
	return defs
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
