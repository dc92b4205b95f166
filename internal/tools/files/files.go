// Package files provides the built-in file tools: read_file,
// write_file, edit_file, list_files, and grep. Relative paths resolve
// against the invocation's working directory.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

// maxReadBytes caps read_file output so one large file cannot flood
// the conversation.
const maxReadBytes = 100 * 1024

// Register adds the file tools to the registry.
func Register(reg *agent.ToolRegistry) error {
	for _, tool := range []agent.Tool{
		&ReadTool{},
		&WriteTool{},
		&EditTool{},
		&ListTool{},
		&GrepTool{},
	} {
		if err := reg.Register(tool, agent.WithSource("builtin")); err != nil {
			return err
		}
	}
	return nil
}

func resolve(path string, ec *agent.ExecutionContext) string {
	if filepath.IsAbs(path) || ec == nil || ec.WorkDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(ec.WorkDir, path)
}

func errResult(format string, args ...any) *models.ToolResult {
	return &models.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// ReadTool returns file contents, optionally windowed by line offset
// and limit.
type ReadTool struct{}

type readParams struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (*ReadTool) Name() string { return "read_file" }

func (*ReadTool) Description() string {
	return "Read the contents of a file. Supports absolute and relative paths. " +
		"Optional offset (1-based line) and limit window the output. Returns up to 100KB."
}

func (*ReadTool) Category() models.ToolCategory { return models.CategoryFile }

func (*ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path (absolute or relative)"},
			"offset": {"type": "integer", "description": "Line number to start reading from (1-based, default: 1)"},
			"limit": {"type": "integer", "description": "Maximum number of lines to return (default: all)"}
		},
		"required": ["path"]
	}`)
}

func (*ReadTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p readParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if p.Path == "" {
		return errResult("path is required"), nil
	}

	path := resolve(p.Path, ec)
	content, err := os.ReadFile(path)
	if err != nil {
		return errResult("reading file: %v", err), nil
	}

	text := string(content)
	if p.Offset > 1 || p.Limit > 0 {
		lines := strings.Split(text, "\n")
		start := 0
		if p.Offset > 1 {
			start = p.Offset - 1
		}
		if start >= len(lines) {
			return &models.ToolResult{Content: "(offset beyond end of file)"}, nil
		}
		lines = lines[start:]
		if p.Limit > 0 && p.Limit < len(lines) {
			lines = lines[:p.Limit]
		}
		text = strings.Join(lines, "\n")
	}

	if len(text) > maxReadBytes {
		text = text[:maxReadBytes] + "\n... [truncated at 100KB]"
	}

	return &models.ToolResult{
		Content:  text,
		Metadata: map[string]any{"path": path, "bytes": len(content)},
	}, nil
}

// WriteTool writes or appends file content, creating parent
// directories as needed.
type WriteTool struct{}

type writeParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
	Mode    string `json:"mode"`
}

func (*WriteTool) Name() string { return "write_file" }

func (*WriteTool) Description() string {
	return "Write content to a file, creating parent directories if needed. " +
		"Set append to add to the end instead of overwriting."
}

func (*WriteTool) Category() models.ToolCategory { return models.CategoryFile }

func (*WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path (absolute or relative)"},
			"content": {"type": "string", "description": "Content to write"},
			"append": {"type": "boolean", "description": "Append instead of overwriting. Default: false"},
			"mode": {"type": "string", "description": "File permissions in octal, e.g. '0755'. Default: '0644'"}
		},
		"required": ["path", "content"]
	}`)
}

func (*WriteTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p writeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if p.Path == "" {
		return errResult("path is required"), nil
	}

	path := resolve(p.Path, ec)
	mode := os.FileMode(0o644)
	if p.Mode != "" {
		parsed, err := strconv.ParseUint(p.Mode, 8, 32)
		if err != nil {
			return errResult("invalid mode %q: %v", p.Mode, err), nil
		}
		mode = os.FileMode(parsed)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errResult("creating directory: %v", err), nil
	}

	if p.Append {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, mode)
		if err != nil {
			return errResult("opening file: %v", err), nil
		}
		_, err = f.WriteString(p.Content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errResult("writing file: %v", err), nil
		}
	} else if err := os.WriteFile(path, []byte(p.Content), mode); err != nil {
		return errResult("writing file: %v", err), nil
	}

	return &models.ToolResult{
		Content:  fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), path),
		Metadata: map[string]any{"path": path, "bytes": len(p.Content)},
	}, nil
}

// EditTool does exact-text replacement. The old text must be unique
// in the file unless replace_all is set.
type EditTool struct{}

type editParams struct {
	Path       string `json:"path"`
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all"`
}

func (*EditTool) Name() string { return "edit_file" }

func (*EditTool) Description() string {
	return "Edit a file by replacing an exact text occurrence. " +
		"old_text must be unique in the file unless replace_all is set."
}

func (*EditTool) Category() models.ToolCategory { return models.CategoryFile }

func (*EditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path (absolute or relative)"},
			"old_text": {"type": "string", "description": "Exact text to find (must be unique in the file)"},
			"new_text": {"type": "string", "description": "Replacement text"},
			"replace_all": {"type": "boolean", "description": "Replace every occurrence. Default: false"}
		},
		"required": ["path", "old_text", "new_text"]
	}`)
}

func (*EditTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p editParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if p.Path == "" || p.OldText == "" {
		return errResult("path and old_text are required"), nil
	}

	path := resolve(p.Path, ec)
	content, err := os.ReadFile(path)
	if err != nil {
		return errResult("reading file: %v", err), nil
	}

	text := string(content)
	count := strings.Count(text, p.OldText)
	if count == 0 {
		return errResult("old_text not found in %s", path), nil
	}
	if !p.ReplaceAll && count > 1 {
		return errResult("old_text found %d times in %s; add surrounding context to make it unique or set replace_all", count, path), nil
	}

	var updated string
	if p.ReplaceAll {
		updated = strings.ReplaceAll(text, p.OldText, p.NewText)
	} else {
		updated = strings.Replace(text, p.OldText, p.NewText, 1)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(path, []byte(updated), mode); err != nil {
		return errResult("writing file: %v", err), nil
	}

	replaced := 1
	if p.ReplaceAll {
		replaced = count
	}
	return &models.ToolResult{
		Content:  fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, path),
		Metadata: map[string]any{"path": path, "replaced": replaced},
	}, nil
}
