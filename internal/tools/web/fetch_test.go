package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

func execute(t *testing.T, tool *FetchTool, params map[string]any) *models.ToolResult {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), raw, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func TestFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "tacit/1.0" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("page body"))
	}))
	defer srv.Close()

	tool := NewFetchTool(srv.Client())
	res := execute(t, tool, map[string]any{"url": srv.URL})

	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "Status: 200") {
		t.Errorf("content = %q", res.Content)
	}
	if !strings.Contains(res.Content, "page body") {
		t.Errorf("body missing: %q", res.Content)
	}
	if res.Metadata["status"] != 200 {
		t.Errorf("status metadata = %v", res.Metadata["status"])
	}
}

func TestFetchToolErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tool := NewFetchTool(srv.Client())
	res := execute(t, tool, map[string]any{"url": srv.URL})

	if !res.IsError {
		t.Error("expected error result for 404")
	}
	if !strings.Contains(res.Content, "Status: 404") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestFetchToolMissingURL(t *testing.T) {
	res := execute(t, NewFetchTool(nil), map[string]any{})
	if !res.IsError {
		t.Error("expected error result for empty url")
	}
}

func TestFetchToolUnreachable(t *testing.T) {
	res := execute(t, NewFetchTool(nil), map[string]any{"url": "http://127.0.0.1:1"})
	if !res.IsError {
		t.Error("expected error result for connection refusal")
	}
}

func TestRegister(t *testing.T) {
	reg := agent.NewToolRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := reg.Get("web_fetch"); !ok {
		t.Error("web_fetch not registered")
	}
}
