package plugins

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/internal/hooks"
)

// Registry loads plugins and owns their contributions. A plugin whose
// Register fails is rolled back and quarantined; it stays in the
// load-errors table and is refused until the quarantine is cleared.
type Registry struct {
	tools     *agent.ToolRegistry
	hooks     *hooks.Registry
	templates *agent.TemplateRegistry
	logger    *slog.Logger

	mu         sync.Mutex
	loaded     map[string]*API
	loadErrors map[string]*Error
	commands   map[string]Command
	skills     map[string]Skill
}

// NewRegistry creates a plugin registry wired to the given tool, hook
// and template registries.
func NewRegistry(tools *agent.ToolRegistry, hookReg *hooks.Registry, templates *agent.TemplateRegistry, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:      tools,
		hooks:      hookReg,
		templates:  templates,
		logger:     logger.With("component", "plugins"),
		loaded:     make(map[string]*API),
		loadErrors: make(map[string]*Error),
		commands:   make(map[string]Command),
		skills:     make(map[string]Skill),
	}
}

// Load validates and registers a plugin. config is the plugin's
// configuration block, may be nil.
func (r *Registry) Load(plugin Plugin, config map[string]any) error {
	if plugin == nil {
		return &Error{Kind: KindLoad, Message: "plugin is nil"}
	}
	manifest := plugin.Manifest()
	if err := manifest.Validate(); err != nil {
		return err
	}
	id := manifest.ID

	r.mu.Lock()
	if quarantined, ok := r.loadErrors[id]; ok {
		r.mu.Unlock()
		return &Error{Kind: KindLoad, PluginID: id, Cause: ErrQuarantined, Message: "quarantined after: " + quarantined.Error()}
	}
	if _, ok := r.loaded[id]; ok {
		r.mu.Unlock()
		return &Error{Kind: KindLifecycle, PluginID: id, Message: "already loaded"}
	}
	r.mu.Unlock()

	if config == nil {
		config = map[string]any{}
	}
	api := &API{
		pluginID: id,
		caps:     manifest.Capabilities,
		registry: r,
		config:   config,
		logger:   r.logger.With("plugin_id", id),
	}

	if err := plugin.Register(api); err != nil {
		r.rollback(api)
		loadErr := newError(KindLoad, id, err)
		r.mu.Lock()
		r.loadErrors[id] = loadErr
		r.mu.Unlock()
		r.logger.Warn("plugin quarantined", "plugin_id", id, "error", err)
		return loadErr
	}

	r.mu.Lock()
	r.loaded[id] = api
	r.mu.Unlock()
	r.logger.Info("plugin loaded", "plugin_id", id,
		"tools", len(api.toolNames), "commands", len(api.commandNames), "skills", len(api.skillNames))
	return nil
}

// Unload removes every contribution the plugin made.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	api, ok := r.loaded[id]
	if !ok {
		r.mu.Unlock()
		return &Error{Kind: KindLifecycle, PluginID: id, Message: "not loaded"}
	}
	delete(r.loaded, id)
	r.mu.Unlock()

	r.rollback(api)
	r.logger.Info("plugin unloaded", "plugin_id", id)
	return nil
}

// rollback removes all contributions recorded on the API.
func (r *Registry) rollback(api *API) {
	if r.tools != nil {
		r.tools.UnregisterSource(api.Source())
	}
	if r.hooks != nil {
		r.hooks.UnregisterSource(api.Source())
	}
	if r.templates != nil {
		for _, t := range api.templateTypes {
			r.templates.Unregister(t)
		}
	}
	r.mu.Lock()
	for _, name := range api.commandNames {
		delete(r.commands, name)
	}
	for _, name := range api.skillNames {
		delete(r.skills, name)
	}
	r.mu.Unlock()
}

// Loaded returns the ids of loaded plugins, sorted.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadErrors returns a copy of the quarantine table.
func (r *Registry) LoadErrors() map[string]*Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Error, len(r.loadErrors))
	for id, err := range r.loadErrors {
		out[id] = err
	}
	return out
}

// ClearQuarantine drops a plugin's load-error record so a later Load
// may retry it.
func (r *Registry) ClearQuarantine(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loadErrors[id]; !ok {
		return false
	}
	delete(r.loadErrors, id)
	return true
}

// Command looks up a registered command by its prefixed name.
func (r *Registry) Command(name string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Commands returns the prefixed names of registered commands, sorted.
func (r *Registry) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Skill looks up a registered skill by its prefixed name.
func (r *Registry) Skill(name string) (Skill, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.skills[name]
	return s, ok
}

// Skills returns the prefixed names of registered skills, sorted.
func (r *Registry) Skills() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) addCommand(name string, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return &Error{Kind: KindConfig, Message: fmt.Sprintf("command %q already registered", name)}
	}
	r.commands[name] = cmd
	return nil
}

func (r *Registry) addSkill(name string, s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[name]; ok {
		return &Error{Kind: KindConfig, Message: fmt.Sprintf("skill %q already registered", name)}
	}
	r.skills[name] = s
	return nil
}
