package git

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/internal/hooks"
	"github.com/ewoodruff/tacit/internal/plugins"
)

// initRepo creates a git repository with one committed file and one
// uncommitted change.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	git("init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git("add", "a.txt")
	git("commit", "-q", "-m", "add a.txt")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestPluginRegistersTools(t *testing.T) {
	tools := agent.NewToolRegistry()
	reg := plugins.NewRegistry(tools, hooks.NewRegistry(nil), agent.NewTemplateRegistry(), nil)
	if err := reg.Load(New(), nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range []string{"git__status", "git__diff", "git__log"} {
		if _, ok := tools.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestStatusTool(t *testing.T) {
	dir := initRepo(t)
	ec := &agent.ExecutionContext{WorkDir: dir}

	result, err := (&statusTool{}).Execute(context.Background(), json.RawMessage(`{}`), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "a.txt") {
		t.Errorf("status missing modified file:\n%s", result.Content)
	}
}

func TestDiffTool(t *testing.T) {
	dir := initRepo(t)
	ec := &agent.ExecutionContext{WorkDir: dir}

	result, err := (&diffTool{}).Execute(context.Background(), json.RawMessage(`{}`), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "+two") {
		t.Errorf("diff missing added line:\n%s", result.Content)
	}

	result, err = (&diffTool{}).Execute(context.Background(), json.RawMessage(`{"staged": true}`), ec)
	if err != nil {
		t.Fatalf("Execute staged: %v", err)
	}
	if strings.Contains(result.Content, "+two") {
		t.Errorf("staged diff shows unstaged change:\n%s", result.Content)
	}
}

func TestLogTool(t *testing.T) {
	dir := initRepo(t)
	ec := &agent.ExecutionContext{WorkDir: dir}

	result, err := (&logTool{}).Execute(context.Background(), json.RawMessage(`{"limit": 5}`), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "add a.txt") {
		t.Errorf("log missing commit:\n%s", result.Content)
	}
}

func TestToolErrorOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	ec := &agent.ExecutionContext{WorkDir: t.TempDir()}
	result, err := (&statusTool{}).Execute(context.Background(), json.RawMessage(`{}`), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError outside a repository")
	}
}
