package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/pkg/models"
)

type testPlugin struct {
	manifest *Manifest
	register func(api *API) error
}

func (p *testPlugin) Manifest() *Manifest     { return p.manifest }
func (p *testPlugin) Register(api *API) error { return p.register(api) }

func allCaps() Capabilities {
	return Capabilities{Tools: true, Commands: true, Hooks: true, Subagents: true, Skills: true}
}

func newTestTool(name string) agent.Tool {
	return &agent.FuncTool{
		ToolName:        name,
		ToolDescription: "test tool",
		ToolSchema:      json.RawMessage(`{"type":"object","properties":{}}`),
		Fn: func(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
			return &models.ToolResult{Content: "ok"}, nil
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *agent.ToolRegistry, *hooks.Registry, *agent.TemplateRegistry) {
	t.Helper()
	tools := agent.NewToolRegistry()
	hookReg := hooks.NewRegistry(nil)
	templates := agent.NewTemplateRegistry()
	return NewRegistry(tools, hookReg, templates, nil), tools, hookReg, templates
}

func TestLoadRegistersPrefixedContributions(t *testing.T) {
	reg, tools, hookReg, templates := newTestRegistry(t)

	plugin := &testPlugin{
		manifest: &Manifest{ID: "linter", Capabilities: allCaps()},
		register: func(api *API) error {
			if err := api.RegisterTool(newTestTool("check")); err != nil {
				return err
			}
			if err := api.RegisterCommand(Command{Name: "fix", Run: func([]string) error { return nil }}); err != nil {
				return err
			}
			if err := api.RegisterSkill(Skill{Name: "style", Instructions: "prefer short names"}); err != nil {
				return err
			}
			if err := api.RegisterSubagent(agent.Template{Type: "audit", Prompt: "You audit code."}); err != nil {
				return err
			}
			return api.RegisterHook("tool:pre_execute", func(ctx context.Context, e *hooks.Event) error { return nil }, hooks.PriorityNormal)
		},
	}
	if err := reg.Load(plugin, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, ok := tools.Get("linter__check"); !ok {
		t.Error("tool not registered under linter__check")
	}
	if src, _ := tools.Source("linter__check"); src != "plugin:linter" {
		t.Errorf("tool source = %q, want plugin:linter", src)
	}
	if _, ok := reg.Command("linter:fix"); !ok {
		t.Error("command not registered under linter:fix")
	}
	if _, ok := reg.Skill("linter:style"); !ok {
		t.Error("skill not registered under linter:style")
	}
	if got := templates.Get("linter:audit"); got.Prompt != "You audit code." {
		t.Errorf("subagent template prompt = %q", got.Prompt)
	}
	if hookReg.Count() != 1 {
		t.Errorf("hook count = %d, want 1", hookReg.Count())
	}
	if got := reg.Loaded(); len(got) != 1 || got[0] != "linter" {
		t.Errorf("Loaded() = %v", got)
	}
}

func TestLoadCapabilityGate(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	plugin := &testPlugin{
		manifest: &Manifest{ID: "bare"}, // no capabilities
		register: func(api *API) error {
			return api.RegisterTool(newTestTool("x"))
		},
	}
	err := reg.Load(plugin, nil)
	if err == nil {
		t.Fatal("expected capability error")
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T", err)
	}
	if perr.Kind != KindLoad {
		t.Errorf("outer kind = %q, want %q", perr.Kind, KindLoad)
	}
}

func TestLoadFailureQuarantinesAndRollsBack(t *testing.T) {
	reg, tools, hookReg, _ := newTestRegistry(t)

	boom := errors.New("bad init")
	plugin := &testPlugin{
		manifest: &Manifest{ID: "flaky", Capabilities: allCaps()},
		register: func(api *API) error {
			if err := api.RegisterTool(newTestTool("first")); err != nil {
				return err
			}
			if err := api.RegisterCommand(Command{Name: "go", Run: func([]string) error { return nil }}); err != nil {
				return err
			}
			_ = api.RegisterHook("tool:*", func(ctx context.Context, e *hooks.Event) error { return nil }, hooks.PriorityNormal)
			return boom
		},
	}

	err := reg.Load(plugin, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Load() error = %v, want to wrap %v", err, boom)
	}

	// Partial contributions must be gone.
	if _, ok := tools.Get("flaky__first"); ok {
		t.Error("tool survived a failed load")
	}
	if _, ok := reg.Command("flaky:go"); ok {
		t.Error("command survived a failed load")
	}
	if hookReg.Count() != 0 {
		t.Errorf("hook count = %d after rollback, want 0", hookReg.Count())
	}

	// Quarantined: a second load is refused without calling Register.
	called := false
	retry := &testPlugin{
		manifest: &Manifest{ID: "flaky", Capabilities: allCaps()},
		register: func(api *API) error { called = true; return nil },
	}
	err = reg.Load(retry, nil)
	if !errors.Is(err, ErrQuarantined) {
		t.Fatalf("second Load() error = %v, want ErrQuarantined", err)
	}
	if called {
		t.Error("Register called on a quarantined plugin")
	}
	if errs := reg.LoadErrors(); errs["flaky"] == nil {
		t.Error("quarantine table missing flaky")
	}

	// Clearing the quarantine allows a retry.
	if !reg.ClearQuarantine("flaky") {
		t.Fatal("ClearQuarantine() = false")
	}
	if err := reg.Load(retry, nil); err != nil {
		t.Fatalf("Load() after clear error = %v", err)
	}
	if !called {
		t.Error("Register not called after quarantine cleared")
	}
}

func TestUnloadRemovesEverything(t *testing.T) {
	reg, tools, hookReg, templates := newTestRegistry(t)

	plugin := &testPlugin{
		manifest: &Manifest{ID: "temp", Capabilities: allCaps()},
		register: func(api *API) error {
			_ = api.RegisterTool(newTestTool("a"))
			_ = api.RegisterTool(newTestTool("b"))
			_ = api.RegisterCommand(Command{Name: "c", Run: func([]string) error { return nil }})
			_ = api.RegisterSkill(Skill{Name: "s", Instructions: "do it well"})
			_ = api.RegisterSubagent(agent.Template{Type: "helper", Prompt: "You help."})
			_ = api.RegisterHook("session:*", func(ctx context.Context, e *hooks.Event) error { return nil }, hooks.PriorityLow)
			return nil
		},
	}
	if err := reg.Load(plugin, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := reg.Unload("temp"); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}

	for _, name := range []string{"temp__a", "temp__b"} {
		if _, ok := tools.Get(name); ok {
			t.Errorf("tool %s survived unload", name)
		}
	}
	if _, ok := reg.Command("temp:c"); ok {
		t.Error("command survived unload")
	}
	if _, ok := reg.Skill("temp:s"); ok {
		t.Error("skill survived unload")
	}
	if hookReg.Count() != 0 {
		t.Errorf("hook count = %d after unload, want 0", hookReg.Count())
	}
	// Removed template falls back to the general preset.
	if got := templates.Get("temp:helper"); got.Prompt == "You help." {
		t.Error("subagent template survived unload")
	}
	if err := reg.Unload("temp"); err == nil {
		t.Error("second Unload() should fail")
	}
}

func TestLoadDuplicate(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	plugin := &testPlugin{
		manifest: &Manifest{ID: "dup", Capabilities: allCaps()},
		register: func(api *API) error { return nil },
	}
	if err := reg.Load(plugin, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	err := reg.Load(plugin, nil)
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindLifecycle {
		t.Errorf("duplicate Load() error = %v, want lifecycle kind", err)
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest *Manifest
		wantErr  bool
	}{
		{"valid", &Manifest{ID: "my-plugin_2"}, false},
		{"nil", nil, true},
		{"empty id", &Manifest{}, true},
		{"uppercase id", &Manifest{ID: "MyPlugin"}, true},
		{"id with slash", &Manifest{ID: "a/b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
