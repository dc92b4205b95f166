// Package git is a built-in plugin contributing read-only git tools.
// Its tools shell out to the git binary in the invocation's working
// directory and are registered as git__status, git__diff, and git__log.
package git

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/internal/plugins"
	"github.com/ewoodruff/tacit/pkg/models"
)

// maxOutputBytes caps tool output so a huge diff cannot flood the
// conversation.
const maxOutputBytes = 100 * 1024

// Plugin contributes the git tools.
type Plugin struct{}

// New returns the git plugin.
func New() *Plugin { return &Plugin{} }

func (*Plugin) Manifest() *plugins.Manifest {
	return &plugins.Manifest{
		ID:          "git",
		Name:        "Git",
		Description: "Read-only git inspection tools: status, diff, log",
		Capabilities: plugins.Capabilities{
			Tools: true,
		},
	}
}

func (*Plugin) Register(api *plugins.API) error {
	for _, tool := range []agent.Tool{
		&statusTool{},
		&diffTool{},
		&logTool{},
	} {
		if err := api.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

// run executes git with the given arguments in the invocation's
// working directory.
func run(ctx context.Context, ec *agent.ExecutionContext, args ...string) (*models.ToolResult, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if ec != nil && ec.WorkDir != "" {
		cmd.Dir = ec.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return &models.ToolResult{Content: fmt.Sprintf("git %s: %s", args[0], msg), IsError: true}, nil
	}

	out := stdout.String()
	if len(out) > maxOutputBytes {
		out = out[:maxOutputBytes] + "\n... [truncated at 100KB]"
	}
	if out == "" {
		out = "(no output)"
	}
	return &models.ToolResult{Content: out}, nil
}

// statusTool reports the working tree state.
type statusTool struct{}

func (*statusTool) Name() string { return "status" }

func (*statusTool) Description() string {
	return "Show the git working tree status (branch plus changed files, porcelain format)."
}

func (*statusTool) Category() models.ToolCategory { return models.CategoryVCS }

func (*statusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (*statusTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	return run(ctx, ec, "status", "--porcelain=v1", "--branch")
}

// diffTool shows pending changes.
type diffTool struct{}

type diffParams struct {
	Path   string `json:"path"`
	Staged bool   `json:"staged"`
}

func (*diffTool) Name() string { return "diff" }

func (*diffTool) Description() string {
	return "Show uncommitted changes as a unified diff. Set staged for the index, " +
		"path to limit output to one file or directory."
}

func (*diffTool) Category() models.ToolCategory { return models.CategoryVCS }

func (*diffTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Limit the diff to this path"},
			"staged": {"type": "boolean", "description": "Diff the index instead of the working tree. Default: false"}
		}
	}`)
}

func (*diffTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p diffParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	args := []string{"diff"}
	if p.Staged {
		args = append(args, "--staged")
	}
	if p.Path != "" {
		args = append(args, "--", p.Path)
	}
	return run(ctx, ec, args...)
}

// logTool lists recent commits.
type logTool struct{}

type logParams struct {
	Limit int    `json:"limit"`
	Path  string `json:"path"`
}

func (*logTool) Name() string { return "log" }

func (*logTool) Description() string {
	return "List recent commits, one line each. Optional limit (default 20) and path filter."
}

func (*logTool) Category() models.ToolCategory { return models.CategoryVCS }

func (*logTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {"type": "integer", "description": "Number of commits to show. Default: 20"},
			"path": {"type": "string", "description": "Limit history to this path"}
		}
	}`)
}

func (*logTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p logParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	args := []string{"log", "--oneline", fmt.Sprintf("-n%d", limit)}
	if p.Path != "" {
		args = append(args, "--", p.Path)
	}
	return run(ctx, ec, args...)
}
