// Package main is the tacit CLI: run a single agent task, inspect the
// registered tools, or serve the Prometheus metrics endpoint.
//
// Basic usage:
//
//	tacit run "summarise the failing tests" --type explore
//	tacit tools
//	tacit serve-metrics
//
// Provider credentials come from the config layers or the environment
// (ANTHROPIC_API_KEY, OPENAI_API_KEY). A .env file in the working
// directory is loaded before anything else.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/internal/agent/providers"
	"github.com/ewoodruff/tacit/internal/config"
	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/internal/mcp"
	"github.com/ewoodruff/tacit/internal/observability"
	"github.com/ewoodruff/tacit/internal/permission"
	"github.com/ewoodruff/tacit/internal/plugins"
	gitplugin "github.com/ewoodruff/tacit/internal/plugins/git"
	"github.com/ewoodruff/tacit/internal/shell"
	"github.com/ewoodruff/tacit/internal/tools/exec"
	"github.com/ewoodruff/tacit/internal/tools/files"
	"github.com/ewoodruff/tacit/internal/tools/web"
	"github.com/ewoodruff/tacit/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Best effort: a missing .env is the common case.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:          "tacit",
		Short:        "Tacit - autonomous coding agent runtime",
		Long:         "Tacit runs bounded agent tasks against an LLM provider with\nfile, shell, and web tools under permission and hook control.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Project directory holding tacit.yaml (default: current directory)")

	rootCmd.AddCommand(
		buildRunCmd(&configDir),
		buildToolsCmd(&configDir),
		buildServeMetricsCmd(&configDir),
	)
	return rootCmd
}

// runtime bundles everything a subcommand needs after wiring.
type runtime struct {
	cfg       *config.Config
	metrics   *observability.Metrics
	registry  *agent.ToolRegistry
	templates *agent.TemplateRegistry
	executor  *agent.Executor
}

func buildRuntime(configDir string, needProvider bool) (*runtime, error) {
	cfg, err := config.NewLoader(configDir).Load()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	metrics := observability.NewMetrics()

	registry := agent.NewToolRegistry()
	if err := files.Register(registry); err != nil {
		return nil, err
	}
	manager := shell.Default()
	if err := exec.Register(registry, manager, exec.Options{
		Timeout:   cfg.Shell.Timeout,
		MaxOutput: cfg.Shell.MaxOutput,
	}); err != nil {
		return nil, err
	}
	if err := web.Register(registry); err != nil {
		return nil, err
	}

	// Persisted rule files layer under the config file's rules.
	globalRules := ""
	if home, err := os.UserHomeDir(); err == nil {
		globalRules = filepath.Join(home, ".config", "tacit", "permissions.json")
	}
	projectRules := filepath.Join(configDir, ".tacit", "permissions.json")
	rules, storedLevel, err := permission.LoadLayered(globalRules, projectRules)
	if err != nil {
		return nil, err
	}
	rules = append(rules, cfg.Permissions.Rules...)

	bus := hooks.NewBus(hooks.NewRegistry(logger), logger)
	bus.SetHooks(cfg.Hooks)

	permOpts := []permission.Option{
		permission.WithPrompter(terminalPrompter{}),
		permission.WithDefaultLevel(storedLevel),
		permission.WithEmitter(permissionEmitter(bus, metrics, logger)),
	}
	if lvl := permission.Level(cfg.Permissions.DefaultLevel); lvl.Valid() {
		permOpts = append(permOpts, permission.WithDefaultLevel(lvl))
	}
	engine := permission.NewEngine(rules, logger, permOpts...)

	dispatcher := agent.NewDispatcher(registry, logger,
		agent.WithPermissions(engine),
		agent.WithHookBus(bus),
		agent.WithObserver(metrics),
	)

	templates := agent.NewTemplateRegistry()
	pluginReg := plugins.NewRegistry(registry, bus.Registry(), templates, logger)
	loadPlugins(pluginReg, cfg.Plugins, logger)

	rt := &runtime{cfg: cfg, metrics: metrics, registry: registry, templates: templates}
	if !needProvider {
		return rt, nil
	}

	// MCP servers merge their tools into the registry; a server that
	// fails to come up is skipped, not fatal.
	bridge := mcp.NewBridge(registry, logger)
	for i := range cfg.MCP.Servers {
		server := &cfg.MCP.Servers[i]
		if err := server.Validate(); err != nil {
			logger.Warn("skipping mcp server", "server_id", server.ID, "error", err)
			continue
		}
		client := mcp.NewClient(server, logger)
		connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, err := bridge.RegisterServer(connectCtx, server.ID, client)
		cancel()
		if err != nil {
			logger.Warn("mcp server unavailable", "server_id", server.ID, "error", err)
		}
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	rt.executor = agent.NewExecutor(provider, dispatcher, logger,
		agent.WithBus(bus),
		agent.WithLLMObserver(metrics),
		agent.WithIterationTimeout(cfg.Agent.IterationTimeout),
		agent.WithTemplates(templates),
	)
	return rt, nil
}

// builtinPlugins is the compiled-in plugin catalogue. Each entry loads
// unless config plugins.entries disables it.
var builtinPlugins = []plugins.Plugin{
	gitplugin.New(),
}

// loadPlugins loads the catalogue, honouring per-plugin enablement and
// config blocks. A failing plugin is quarantined, not fatal.
func loadPlugins(reg *plugins.Registry, cfg config.PluginsConfig, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range builtinPlugins {
		id := p.Manifest().ID
		entry, configured := cfg.Entries[id]
		if configured && !entry.Enabled {
			logger.Debug("plugin disabled by config", "plugin", id)
			continue
		}
		var pluginCfg map[string]any
		if configured {
			pluginCfg = entry.Config
		}
		if err := reg.Load(p, pluginCfg); err != nil {
			logger.Warn("plugin failed to load", "plugin", id, "error", err)
		}
	}
}

// permissionEmitter forwards permission lifecycle events to the hook
// bus and counts granted/denied outcomes.
func permissionEmitter(bus *hooks.Bus, metrics *observability.Metrics, logger *slog.Logger) permission.EmitFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, event, tool string, data map[string]any) {
		switch event {
		case permission.EventGranted:
			metrics.RecordPermissionDecision("granted")
		case permission.EventDenied:
			metrics.RecordPermissionDecision("denied")
		}
		ev := hooks.NewEvent(hooks.EventType(event)).WithTool(tool)
		for key, value := range data {
			ev = ev.WithData(key, value)
		}
		if err := bus.Emit(ctx, ev); err != nil {
			logger.Debug("permission event hooks failed", "event", event, "error", err)
		}
	}
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.LLM.DefaultProvider {
	case "openai":
		key := cfg.LLM.OpenAI.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       key,
			BaseURL:      cfg.LLM.OpenAI.BaseURL,
			DefaultModel: cfg.LLM.OpenAI.DefaultModel,
		})
	case "anthropic", "":
		key := cfg.LLM.Anthropic.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      cfg.LLM.Anthropic.BaseURL,
			DefaultModel: cfg.LLM.Anthropic.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.LLM.DefaultProvider)
	}
}

// terminalPrompter asks on stderr and reads a y/N answer from stdin.
type terminalPrompter struct{}

func (terminalPrompter) Confirm(ctx context.Context, req permission.PromptRequest) (bool, error) {
	fmt.Fprintf(os.Stderr, "allow tool %s? [y/N] ", req.Tool)
	answer := make(chan string, 1)
	go func() {
		var in string
		fmt.Fscanln(os.Stdin, &in)
		answer <- in
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case in := <-answer:
		return in == "y" || in == "Y" || in == "yes", nil
	}
}

func buildRunCmd(configDir *string) *cobra.Command {
	var (
		agentType     string
		model         string
		maxIterations int
		maxTime       time.Duration
		workdir       string
		stream        bool
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one agent task to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configDir, true)
			if err != nil {
				return err
			}

			if workdir == "" {
				workdir = rt.cfg.Workdir
			}
			if workdir == "" {
				workdir, _ = os.Getwd()
			}
			if maxIterations == 0 {
				maxIterations = rt.cfg.Agent.MaxIterations
			}
			if maxTime == 0 {
				maxTime = rt.cfg.Agent.MaxTime
			}

			task := &models.AgentTask{
				ID:     uuid.New().String(),
				Type:   models.AgentType(agentType),
				Prompt: args[0],
				Config: models.AgentConfig{
					MaxIterations: maxIterations,
					MaxTokens:     rt.cfg.Agent.MaxTokens,
					MaxTime:       maxTime,
					Model:         model,
				},
				Context: models.AgentContext{WorkDir: workdir},
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctx, span := observability.NewTracer().StartTask(ctx, task.ID)
			rt.metrics.TaskStarted()
			var result *models.AgentResult
			if stream {
				result = streamTask(ctx, rt.executor, task)
			} else {
				result = rt.executor.Execute(ctx, task)
			}
			status := "completed"
			if !result.Success {
				status = "failed"
			}
			rt.metrics.TaskFinished(status, result.ToolCallCount)
			var taskErr error
			if !result.Success {
				taskErr = errors.New(result.Error)
			}
			observability.EndSpan(span, taskErr)

			if !stream && result.Output != "" {
				fmt.Println(result.Output)
			}
			return taskErr
		},
	}

	cmd.Flags().StringVar(&agentType, "type", string(models.AgentGeneral), "Agent type preset (explore|plan|code-review|general)")
	cmd.Flags().StringVar(&model, "model", "", "Override the provider's default model")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Maximum LLM/tool round trips")
	cmd.Flags().DurationVar(&maxTime, "max-time", 0, "Wall-clock budget, e.g. 5m")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory for tools")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print assistant text as it is generated")
	return cmd
}

// streamTask prints chunk text as it arrives and returns the final
// result event.
func streamTask(ctx context.Context, executor *agent.Executor, task *models.AgentTask) *models.AgentResult {
	var result *models.AgentResult
	for event := range executor.Stream(ctx, task) {
		switch event.Kind {
		case agent.EventLLMChunk:
			fmt.Print(event.Content)
		case agent.EventToolStart:
			fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", event.ToolName)
		case agent.EventAgentEnd:
			fmt.Println()
			result = event.Result
		case agent.EventError:
			if event.Result != nil {
				result = event.Result
			}
		}
	}
	if result == nil {
		result = &models.AgentResult{Success: false, Error: "stream ended without a result"}
	}
	return result
}

func buildToolsCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configDir, false)
			if err != nil {
				return err
			}
			for _, tool := range rt.registry.List() {
				fmt.Printf("%-14s %-6s %s\n", tool.Name(), tool.Category(), tool.Description())
			}
			return nil
		},
	}
}

func buildServeMetricsCmd(configDir *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve the Prometheus metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(*configDir, false)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.cfg.Metrics.Addr
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", rt.metrics.Handler())

			srv := &http.Server{Addr: addr, Handler: mux}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			fmt.Fprintf(os.Stderr, "metrics on %s/metrics\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :9464)")
	return cmd
}
