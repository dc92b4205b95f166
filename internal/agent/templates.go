package agent

import (
	"sort"
	"sync"

	"github.com/ewoodruff/tacit/pkg/models"
)

// Template is the preset behind an agent type: a fixed system prompt
// plus the default tool allow-list applied when the task's config does
// not name one. An empty DefaultTools means every registered tool.
type Template struct {
	Type         models.AgentType
	Prompt       string
	DefaultTools []string
}

// TemplateRegistry holds the agent-type catalogue. The built-in types
// are always present; plugins may add their own presets.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[models.AgentType]Template
}

// NewTemplateRegistry creates a registry pre-populated with the
// built-in agent types.
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[models.AgentType]Template)}
	for _, t := range builtinTemplates {
		r.templates[t.Type] = t
	}
	return r
}

// Register adds or replaces a template.
func (r *TemplateRegistry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Type] = t
}

// Unregister removes a template. Built-in types removed this way fall
// back to the general preset on Get.
func (r *TemplateRegistry) Unregister(agentType models.AgentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.templates, agentType)
}

// Get returns the template for an agent type, falling back to the
// general preset for unknown types.
func (r *TemplateRegistry) Get(agentType models.AgentType) Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.templates[agentType]; ok {
		return t
	}
	return r.templates[models.AgentGeneral]
}

// Types returns the registered agent types, sorted.
func (r *TemplateRegistry) Types() []models.AgentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]models.AgentType, 0, len(r.templates))
	for t := range r.templates {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

var builtinTemplates = []Template{
	{
		Type: models.AgentExplore,
		Prompt: "You are an exploration agent. Investigate the codebase or environment " +
			"to answer the question you were given. Read before you conclude; cite file " +
			"paths and line numbers for every claim. Do not modify any files.",
		DefaultTools: []string{"read_file", "list_files", "grep", "bash"},
	},
	{
		Type: models.AgentPlan,
		Prompt: "You are a planning agent. Break the task into concrete, ordered steps. " +
			"Inspect whatever context you need, then produce a numbered plan naming the " +
			"files to change and the checks to run. Do not implement the plan yourself.",
		DefaultTools: []string{"read_file", "list_files", "grep"},
	},
	{
		Type: models.AgentCodeReview,
		Prompt: "You are a code review agent. Examine the changes you were pointed at " +
			"for correctness, clarity, and consistency with the surrounding code. Report " +
			"findings ordered by severity, each with the file and line it concerns.",
		DefaultTools: []string{"read_file", "list_files", "grep", "bash"},
	},
	{
		Type: models.AgentGeneral,
		Prompt: "You are an autonomous coding assistant. Complete the task you were " +
			"given using the tools available to you. Work step by step, verify your " +
			"changes, and report what you did.",
	},
}
