// Package config loads runtime configuration from layered files and
// the environment. Precedence, lowest first: built-in defaults,
// enterprise, user home, project directory, project local overrides,
// then RUNTIME_ environment variables. Nested maps deep-merge; leaves
// replace.
package config

import (
	"time"

	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/internal/mcp"
	"github.com/ewoodruff/tacit/internal/permission"
)

// Config is the full runtime configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	LLM         LLMConfig         `yaml:"llm"`
	Agent       AgentConfig       `yaml:"agent"`
	Shell       ShellConfig       `yaml:"shell"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Hooks       []hooks.Hook      `yaml:"hooks"`
	MCP         MCPConfig         `yaml:"mcp"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Workdir     string            `yaml:"workdir"`
}

// PermissionsConfig sets the default decision level and the rule set.
type PermissionsConfig struct {
	DefaultLevel string            `yaml:"default_level"` // allow | ask | deny
	Rules        []permission.Rule `yaml:"rules"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// LLMConfig selects and configures providers.
type LLMConfig struct {
	DefaultProvider string         `yaml:"default_provider"` // openai | anthropic
	OpenAI          ProviderConfig `yaml:"openai"`
	Anthropic       ProviderConfig `yaml:"anthropic"`
	Retries         int            `yaml:"retries"`
}

// ProviderConfig holds one provider's connection settings.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// AgentConfig sets executor defaults; per-task settings override.
type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	MaxTokens        int           `yaml:"max_tokens"`
	MaxTime          time.Duration `yaml:"max_time"`
	IterationTimeout time.Duration `yaml:"iteration_timeout"`
}

// ShellConfig bounds shell tool executions.
type ShellConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
}

// MCPConfig lists the MCP servers to connect.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// PluginsConfig enables plugins and carries their settings.
type PluginsConfig struct {
	Entries map[string]PluginEntry `yaml:"entries"`
}

// PluginEntry is one plugin's activation state and config block.
type PluginEntry struct {
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration layer.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{DefaultProvider: "anthropic", Retries: 3},
		Agent: AgentConfig{
			MaxIterations:    10,
			IterationTimeout: 2 * time.Minute,
		},
		Shell: ShellConfig{
			Timeout:   2 * time.Minute,
			MaxOutput: 200 * 1024,
		},
		Metrics: MetricsConfig{Addr: ":9464"},
	}
}
