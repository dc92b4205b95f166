package plugins

import (
	"fmt"
	"log/slog"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/pkg/models"
)

// API is the registration surface handed to a plugin at load time.
// Every contribution is prefixed with the plugin id and gated on the
// manifest's declared capabilities.
type API struct {
	pluginID string
	caps     Capabilities
	registry *Registry
	config   map[string]any
	logger   *slog.Logger

	// contributions recorded for rollback and unload
	toolNames     []string
	templateTypes []models.AgentType
	commandNames  []string
	skillNames    []string
}

// ID returns the plugin id this API is scoped to.
func (a *API) ID() string { return a.pluginID }

// Config returns the plugin's configuration block. Never nil.
func (a *API) Config() map[string]any { return a.config }

// Logger returns a logger tagged with the plugin id.
func (a *API) Logger() *slog.Logger { return a.logger }

// Source is the registration source shared by all of this plugin's
// contributions in the tool and hook registries.
func (a *API) Source() string { return "plugin:" + a.pluginID }

// RegisterTool adds a tool under the plugin's tool prefix.
func (a *API) RegisterTool(tool agent.Tool) error {
	if !a.caps.Tools {
		return a.denied("tools")
	}
	if tool == nil {
		return &Error{Kind: KindConfig, PluginID: a.pluginID, Message: "tool is nil"}
	}
	name := a.pluginID + "__" + tool.Name()
	if err := a.registry.tools.Register(&prefixedTool{Tool: tool, name: name}, agent.WithSource(a.Source())); err != nil {
		return newError(KindConfig, a.pluginID, err)
	}
	a.toolNames = append(a.toolNames, name)
	return nil
}

// RegisterHook adds an in-process hook handler. Plugin hooks run ahead
// of subprocess hooks for the same event and share veto semantics on
// pre_execute.
func (a *API) RegisterHook(pattern string, handler hooks.Handler, priority hooks.Priority) error {
	if !a.caps.Hooks {
		return a.denied("hooks")
	}
	if handler == nil {
		return &Error{Kind: KindConfig, PluginID: a.pluginID, Message: "hook handler is nil"}
	}
	a.registry.hooks.Register(pattern, handler,
		hooks.WithSource(a.Source()),
		hooks.WithName(a.pluginID+":"+pattern),
		hooks.WithPriority(priority),
	)
	return nil
}

// RegisterCommand adds a user-facing command as <plugin>:<name>.
func (a *API) RegisterCommand(cmd Command) error {
	if !a.caps.Commands {
		return a.denied("commands")
	}
	if cmd.Name == "" || cmd.Run == nil {
		return &Error{Kind: KindConfig, PluginID: a.pluginID, Message: "command needs a name and a run function"}
	}
	name := a.pluginID + ":" + cmd.Name
	if err := a.registry.addCommand(name, cmd); err != nil {
		return err
	}
	a.commandNames = append(a.commandNames, name)
	return nil
}

// RegisterSubagent adds an agent template as <plugin>:<type>.
func (a *API) RegisterSubagent(t agent.Template) error {
	if !a.caps.Subagents {
		return a.denied("subagents")
	}
	if t.Type == "" || t.Prompt == "" {
		return &Error{Kind: KindConfig, PluginID: a.pluginID, Message: "subagent needs a type and a prompt"}
	}
	t.Type = models.AgentType(a.pluginID + ":" + string(t.Type))
	a.registry.templates.Register(t)
	a.templateTypes = append(a.templateTypes, t.Type)
	return nil
}

// RegisterSkill adds an instruction block as <plugin>:<name>.
func (a *API) RegisterSkill(s Skill) error {
	if !a.caps.Skills {
		return a.denied("skills")
	}
	if s.Name == "" || s.Instructions == "" {
		return &Error{Kind: KindConfig, PluginID: a.pluginID, Message: "skill needs a name and instructions"}
	}
	name := a.pluginID + ":" + s.Name
	if err := a.registry.addSkill(name, s); err != nil {
		return err
	}
	a.skillNames = append(a.skillNames, name)
	return nil
}

func (a *API) denied(capability string) error {
	return &Error{
		Kind:     KindConfig,
		PluginID: a.pluginID,
		Message:  fmt.Sprintf("manifest does not declare the %s capability", capability),
	}
}

// prefixedTool renames a plugin tool without touching its behaviour.
type prefixedTool struct {
	agent.Tool
	name string
}

func (t *prefixedTool) Name() string { return t.name }

var _ agent.Tool = (*prefixedTool)(nil)
