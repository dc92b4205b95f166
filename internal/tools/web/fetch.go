// Package web provides the web_fetch built-in tool.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

const (
	defaultFetchTimeout = 20 * time.Second

	// maxFetchBytes bounds how much of the response body is read.
	maxFetchBytes = 100 * 1024

	userAgent = "tacit/1.0"
)

// Register adds the web tools to the registry.
func Register(reg *agent.ToolRegistry) error {
	return reg.Register(NewFetchTool(nil), agent.WithSource("builtin"))
}

// FetchTool retrieves a URL and returns status, content type, and the
// body text.
type FetchTool struct {
	client *http.Client
}

// NewFetchTool builds the tool; a nil client gets a 20s-timeout
// default.
func NewFetchTool(client *http.Client) *FetchTool {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &FetchTool{client: client}
}

type fetchParams struct {
	URL string `json:"url"`
}

func (*FetchTool) Name() string { return "web_fetch" }

func (*FetchTool) Description() string {
	return "Fetch content from a URL and return the text. Use for reading web pages and APIs."
}

func (*FetchTool) Category() models.ToolCategory { return models.CategoryWeb }

func (*FetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage, ec *agent.ExecutionContext) (*models.ToolResult, error) {
	var p fetchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResult("invalid parameters: %v", err), nil
	}
	url := strings.TrimSpace(p.URL)
	if url == "" {
		return errResult("url is required"), nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errResult("building request: %v", err), nil
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,text/plain,application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errResult("fetching %s: %v", url, err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return errResult("reading response from %s: %v", url, err), nil
	}
	text := string(body)
	if len(body) == maxFetchBytes {
		text += "\n... [truncated at 100KB]"
	}

	return &models.ToolResult{
		Content: fmt.Sprintf("Status: %d\nContent-Type: %s\n\n%s",
			resp.StatusCode, resp.Header.Get("Content-Type"), text),
		IsError: resp.StatusCode >= 400,
		Metadata: map[string]any{
			"url":          url,
			"status":       resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
		},
	}, nil
}

func errResult(format string, args ...any) *models.ToolResult {
	return &models.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
