// Package exec provides the shell execution tools. bash runs a
// command synchronously or as a background shell; bash_output and
// kill_shell manage background shells through the shell manager.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/internal/shell"
	"github.com/ewoodruff/tacit/pkg/models"
)

const (
	// DefaultTimeout bounds synchronous runs when the call does not
	// set one.
	DefaultTimeout = 2 * time.Minute

	// MaxTimeout is the ceiling any call can request.
	MaxTimeout = 10 * time.Minute

	// DefaultMaxOutput caps the bytes surfaced to the model.
	DefaultMaxOutput = 200 * 1024
)

// Options tunes the bash tool; zero values take the defaults above.
type Options struct {
	Timeout   time.Duration
	MaxOutput int
}

// Register adds the shell tools to the registry, all backed by the
// same manager.
func Register(reg *agent.ToolRegistry, manager *shell.Manager, opts Options) error {
	if manager == nil {
		manager = shell.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	for _, tool := range []agent.Tool{
		&BashTool{manager: manager, timeout: opts.Timeout, maxOutput: opts.MaxOutput},
		&OutputTool{manager: manager, maxOutput: opts.MaxOutput},
		&KillTool{manager: manager},
	} {
		if err := reg.Register(tool, agent.WithSource("builtin")); err != nil {
			return err
		}
	}
	return nil
}

func errResult(format string, args ...any) *models.ToolResult {
	return &models.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [output truncated]"
}

// BashTool executes a shell command. With background set it returns
// immediately with a shell id for bash_output/kill_shell.
type BashTool struct {
	manager   *shell.Manager
	timeout   time.Duration
	maxOutput int
}

type bashParams struct {
	Command        string  `json:"command"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
	Background     bool    `json:"background"`
}

func (*BashTool) Name() string { return "bash" }

func (*BashTool) Description() string {
	return "Execute a shell command. Synchronous by default; set background to start " +
		"a long-running command and poll it with bash_output."
}

func (*BashTool) Category() models.ToolCategory { return models.CategoryShell }

func (*BashTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute"},
			"timeout_seconds": {"type": "number", "description": "Maximum run time for synchronous commands. Default: 120"},
			"background": {"type": "boolean", "description": "Start the command in the background and return its shell id"}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p bashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(p.Command) == "" {
		return errResult("command is required"), nil
	}

	var cwd string
	var env map[string]string
	if ec != nil {
		cwd = ec.WorkDir
		env = ec.Env
	}

	sh, err := t.manager.Create(ctx, p.Command, cwd, env)
	if err != nil {
		return errResult("starting command: %v", err), nil
	}

	if p.Background {
		return &models.ToolResult{
			Content:  fmt.Sprintf("Started background shell %s", sh.ID),
			Metadata: map[string]any{"shell_id": sh.ID, "state": string(sh.State())},
		}, nil
	}

	timeout := t.timeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds * float64(time.Second))
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	info, waitErr := t.manager.Wait(ctx, sh.ID, timeout)
	out, readErr := t.manager.ReadOutput(sh.ID, true)
	if readErr != nil {
		return errResult("reading output: %v", readErr), nil
	}

	content := out.Stdout
	if out.Stderr != "" {
		content += "\nSTDERR:\n" + out.Stderr
	}
	content = truncate(content, t.maxOutput)

	meta := map[string]any{"shell_id": sh.ID, "state": string(info.State)}
	if info.ExitCode != nil {
		meta["exit_code"] = *info.ExitCode
	}

	switch {
	case errors.Is(waitErr, shell.ErrWaitTimeout):
		return &models.ToolResult{
			Content:  fmt.Sprintf("Command timed out after %s\n%s", timeout, content),
			IsError:  true,
			Metadata: meta,
		}, nil
	case waitErr != nil:
		// Context cancellation propagates so the loop can abort.
		return nil, waitErr
	}

	if info.ExitCode != nil && *info.ExitCode != 0 {
		return &models.ToolResult{
			Content:  fmt.Sprintf("Exit code: %d\n%s", *info.ExitCode, content),
			IsError:  true,
			Metadata: meta,
		}, nil
	}

	return &models.ToolResult{Content: content, Metadata: meta}, nil
}

// OutputTool drains fresh output from a background shell.
type OutputTool struct {
	manager   *shell.Manager
	maxOutput int
}

type outputParams struct {
	ShellID       string `json:"shell_id"`
	IncludeStderr *bool  `json:"include_stderr"`
}

func (*OutputTool) Name() string { return "bash_output" }

func (*OutputTool) Description() string {
	return "Read output produced by a background shell since the previous read. " +
		"Reports the shell state and exit code once it finishes."
}

func (*OutputTool) Category() models.ToolCategory { return models.CategoryShell }

func (*OutputTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"shell_id": {"type": "string", "description": "Shell id returned by bash with background=true"},
			"include_stderr": {"type": "boolean", "description": "Include stderr output. Default: true"}
		},
		"required": ["shell_id"]
	}`)
}

func (t *OutputTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p outputParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if p.ShellID == "" {
		return errResult("shell_id is required"), nil
	}

	includeStderr := p.IncludeStderr == nil || *p.IncludeStderr
	out, err := t.manager.ReadOutput(p.ShellID, includeStderr)
	if err != nil {
		return errResult("reading shell %s: %v", p.ShellID, err), nil
	}

	content := out.Stdout
	if out.Stderr != "" {
		content += "\nSTDERR:\n" + out.Stderr
	}
	content = truncate(content, t.maxOutput)

	meta := map[string]any{"shell_id": p.ShellID, "state": string(out.State)}
	if out.State.Terminal() {
		if sh, err := t.manager.Get(p.ShellID); err == nil {
			if code, ok := sh.ExitCode(); ok {
				meta["exit_code"] = code
				content += fmt.Sprintf("\n[shell %s: exit code %d]", out.State, code)
			} else {
				content += fmt.Sprintf("\n[shell %s]", out.State)
			}
		}
	}

	return &models.ToolResult{Content: content, Metadata: meta}, nil
}

// KillTool terminates a background shell.
type KillTool struct {
	manager *shell.Manager
}

type killParams struct {
	ShellID string `json:"shell_id"`
}

func (*KillTool) Name() string { return "kill_shell" }

func (*KillTool) Description() string {
	return "Kill a running background shell by id."
}

func (*KillTool) Category() models.ToolCategory { return models.CategoryShell }

func (*KillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"shell_id": {"type": "string", "description": "Shell id to kill"}
		},
		"required": ["shell_id"]
	}`)
}

func (t *KillTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p killParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if p.ShellID == "" {
		return errResult("shell_id is required"), nil
	}

	if err := t.manager.Kill(p.ShellID); err != nil {
		return errResult("killing shell %s: %v", p.ShellID, err), nil
	}
	return &models.ToolResult{
		Content:  fmt.Sprintf("Killed shell %s", p.ShellID),
		Metadata: map[string]any{"shell_id": p.ShellID},
	}, nil
}
