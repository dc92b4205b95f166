package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Timeout bounds for subprocess hooks.
const (
	MinHookTimeout     = 100 * time.Millisecond
	MaxHookTimeout     = 300 * time.Second
	DefaultHookTimeout = 30 * time.Second

	// Env values longer than this are truncated.
	maxEnvValueLen = 8192

	envPrefix = "RUNTIME_"
)

// Hook is one configured subprocess hook.
type Hook struct {
	Pattern     string            `json:"pattern" yaml:"pattern"`
	Command     string            `json:"command" yaml:"command"`
	Timeout     float64           `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	WorkDir     string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// EffectiveTimeout clamps the configured timeout to [0.1s, 300s].
func (h Hook) EffectiveTimeout() time.Duration {
	if h.Timeout == 0 {
		return DefaultHookTimeout
	}
	d := time.Duration(h.Timeout * float64(time.Second))
	if d < MinHookTimeout {
		return MinHookTimeout
	}
	if d > MaxHookTimeout {
		return MaxHookTimeout
	}
	return d
}

// hookResult is the outcome of one subprocess run.
type hookResult struct {
	hook     Hook
	exitCode int
	stdout   string
	stderr   string
	err      error
}

// runSubprocess executes the hook command with the event injected as
// environment variables and returns after exit or timeout kill.
func runSubprocess(ctx context.Context, hook Hook, event *Event) hookResult {
	runCtx, cancel := context.WithTimeout(ctx, hook.EffectiveTimeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Command)
	if hook.WorkDir != "" {
		cmd.Dir = hook.WorkDir
	}
	cmd.Env = buildHookEnv(hook, event)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := hookResult{
		hook:   hook,
		stdout: strings.TrimSpace(stdout.String()),
		stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		res.err = err
		res.exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
		}
	}
	return res
}

// buildHookEnv overlays the event variables and the hook's own env on
// the parent environment.
func buildHookEnv(hook Hook, event *Event) []string {
	env := os.Environ()

	set := func(key, value string) {
		env = append(env, key+"="+SanitizeEnvValue(value))
	}

	set(envPrefix+"EVENT", string(event.Type))
	set(envPrefix+"TIMESTAMP", event.Timestamp.Format(time.RFC3339))
	set(envPrefix+"SESSION_ID", event.SessionID)
	set(envPrefix+"TOOL_NAME", event.ToolName)

	for key, value := range event.Data {
		set(envPrefix+SanitizeEnvKey(key), stringifyEnvValue(value))
	}
	for key, value := range hook.Env {
		set(SanitizeEnvKey(key), value)
	}
	return env
}

// SanitizeEnvKey uppercases the key and replaces every character
// outside [A-Z0-9_] with an underscore.
func SanitizeEnvKey(key string) string {
	upper := strings.ToUpper(key)
	var b strings.Builder
	b.Grow(len(upper))
	for i := 0; i < len(upper); i++ {
		ch := upper[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' {
			b.WriteByte(ch)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SanitizeEnvValue strips null bytes, collapses newlines to spaces and
// caps the length.
func SanitizeEnvValue(value string) string {
	value = strings.ReplaceAll(value, "\x00", "")
	value = strings.ReplaceAll(value, "\r\n", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	if len(value) > maxEnvValueLen {
		value = value[:maxEnvValueLen-3] + "..."
	}
	return value
}

func stringifyEnvValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
