package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

const (
	// maxListEntries caps recursive listings.
	maxListEntries = 500
	// defaultGrepResults caps matching lines unless the caller asks for more.
	defaultGrepResults = 50
)

// ListTool lists a directory, optionally recursively with a glob filter.
type ListTool struct{}

type listParams struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Pattern   string `json:"pattern"`
}

func (*ListTool) Name() string { return "list_files" }

func (*ListTool) Description() string {
	return "List files and directories at a path. Returns names, sizes, and " +
		"modification times. Set recursive to walk subdirectories (max 500 entries)."
}

func (*ListTool) Category() models.ToolCategory { return models.CategoryFile }

func (*ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory path (absolute or relative). Default: working directory"},
			"recursive": {"type": "boolean", "description": "Walk subdirectories. Default: false"},
			"pattern": {"type": "string", "description": "Glob to filter file names, e.g. '*.go'"}
		}
	}`)
}

func (*ListTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p listParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if p.Path == "" {
		p.Path = "."
	}
	dir := resolve(p.Path, ec)

	var sb strings.Builder
	count := 0

	if !p.Recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errResult("reading directory: %v", err), nil
		}
		for _, e := range entries {
			if p.Pattern != "" {
				if ok, _ := filepath.Match(p.Pattern, e.Name()); !ok {
					continue
				}
			}
			writeListEntry(&sb, e.Name(), e)
			count++
		}
		return &models.ToolResult{
			Content:  sb.String(),
			Metadata: map[string]any{"path": dir, "entries": count},
		}, nil
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if count >= maxListEntries {
			return filepath.SkipAll
		}
		// Hidden directories such as .git stay out of recursive listings.
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(dir, path)
		if rel == "." {
			return nil
		}
		if p.Pattern != "" && !d.IsDir() {
			if ok, _ := filepath.Match(p.Pattern, d.Name()); !ok {
				return nil
			}
		}
		writeListEntry(&sb, rel, d)
		count++
		return nil
	})
	if walkErr != nil {
		return errResult("walking directory: %v", walkErr), nil
	}
	if count >= maxListEntries {
		sb.WriteString("\n... [truncated at 500 entries]")
	}
	return &models.ToolResult{
		Content:  sb.String(),
		Metadata: map[string]any{"path": dir, "entries": count},
	}, nil
}

func writeListEntry(sb *strings.Builder, name string, d fs.DirEntry) {
	prefix := "  "
	if d.IsDir() {
		prefix = "d "
	}
	var size int64
	mod := ""
	if info, err := d.Info(); err == nil {
		size = info.Size()
		mod = info.ModTime().Format("2006-01-02 15:04")
	}
	fmt.Fprintf(sb, "%s %8d  %s  %s\n", prefix, size, mod, name)
}

// GrepTool searches file contents for a regex, walking the tree from
// the given directory.
type GrepTool struct{}

type grepParams struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path"`
	FilePattern     string `json:"file_pattern"`
	CaseInsensitive bool   `json:"case_insensitive"`
	MaxResults      int    `json:"max_results"`
}

func (*GrepTool) Name() string { return "grep" }

func (*GrepTool) Description() string {
	return "Search file contents for a regex pattern, recursively from a directory. " +
		"Returns matching lines as path:line:text."
}

func (*GrepTool) Category() models.ToolCategory { return models.CategoryFile }

func (*GrepTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Regex pattern to search for"},
			"path": {"type": "string", "description": "Directory or file to search. Default: working directory"},
			"file_pattern": {"type": "string", "description": "Glob to filter file names, e.g. '*.go'"},
			"case_insensitive": {"type": "boolean", "description": "Case insensitive match. Default: false"},
			"max_results": {"type": "integer", "description": "Maximum matching lines to return. Default: 50"}
		},
		"required": ["pattern"]
	}`)
}

func (*GrepTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p grepParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	if p.Pattern == "" {
		return errResult("pattern is required"), nil
	}

	expr := p.Pattern
	if p.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return errResult("invalid pattern: %v", err), nil
	}

	if p.Path == "" {
		p.Path = "."
	}
	root := resolve(p.Path, ec)
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = defaultGrepResults
	}

	var sb strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if matches >= maxResults {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if p.FilePattern != "" {
			if ok, _ := filepath.Match(p.FilePattern, d.Name()); !ok {
				return nil
			}
		}
		content, rerr := os.ReadFile(path)
		if rerr != nil || !isText(content) {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			rel = d.Name()
		}
		for i, line := range strings.Split(string(content), "\n") {
			if matches >= maxResults {
				break
			}
			if re.MatchString(line) {
				fmt.Fprintf(&sb, "%s:%d:%s\n", rel, i+1, line)
				matches++
			}
		}
		return nil
	})
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if walkErr != nil {
		return errResult("searching: %v", walkErr), nil
	}

	if matches == 0 {
		return &models.ToolResult{
			Content:  fmt.Sprintf("No matches found for %q in %s", p.Pattern, root),
			Metadata: map[string]any{"path": root, "matches": 0},
		}, nil
	}
	content := sb.String()
	if matches >= maxResults {
		content += fmt.Sprintf("... [stopped at %d matches]", maxResults)
	}
	return &models.ToolResult{
		Content:  content,
		Metadata: map[string]any{"path": root, "matches": matches},
	}, nil
}

// isText reports whether the first KB is free of NUL bytes. Binary
// files are skipped rather than matched.
func isText(content []byte) bool {
	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}
	for _, b := range head {
		if b == 0 {
			return false
		}
	}
	return true
}
