// Package plugins hosts in-process extensions. A plugin declares its
// capabilities in a manifest and contributes tools, commands, hooks,
// subagents and skills through a scoped API; every contribution is
// registered under the plugin's prefix so it can be removed atomically
// when the plugin unloads.
package plugins

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capabilities declares what a plugin is allowed to contribute.
// Registering a contribution without the matching capability fails.
type Capabilities struct {
	Tools     bool `json:"tools,omitempty"`
	Commands  bool `json:"commands,omitempty"`
	Hooks     bool `json:"hooks,omitempty"`
	Subagents bool `json:"subagents,omitempty"`
	Skills    bool `json:"skills,omitempty"`

	// SystemAccess grants tool executions from this plugin an
	// unrestricted environment instead of the sanitised overlay.
	SystemAccess bool `json:"system_access,omitempty"`
}

// Manifest describes a plugin.
type Manifest struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Version      string          `json:"version,omitempty"`
	Description  string          `json:"description,omitempty"`
	Capabilities Capabilities    `json:"capabilities"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Validate checks the fields every loadable manifest needs.
func (m *Manifest) Validate() error {
	if m == nil {
		return &Error{Kind: KindManifest, Message: "manifest is nil"}
	}
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return &Error{Kind: KindManifest, Message: "manifest id is required"}
	}
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return &Error{
			Kind:     KindManifest,
			PluginID: id,
			Message:  fmt.Sprintf("manifest id %q may only contain [a-z0-9_-]", id),
		}
	}
	return nil
}

// Plugin is an in-process extension. Register is called once at load
// time with an API scoped to the plugin's id and capabilities; if it
// returns an error every contribution made so far is rolled back and
// the plugin is quarantined.
type Plugin interface {
	Manifest() *Manifest
	Register(api *API) error
}

// Command is a named action a plugin exposes to the user, invoked
// outside the agent loop.
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
}

// Skill is a reusable instruction block a plugin contributes. Skills
// are appended to the system prompt of agents that request them.
type Skill struct {
	Name         string
	Description  string
	Instructions string
}
