package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ewoodruff/tacit/pkg/models"
)

var errTest = errors.New("provider unavailable")

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	// Private registries mean repeated construction cannot panic on
	// duplicate registration.
	_ = NewMetrics()
	_ = NewMetrics()
}

func TestToolExecuted(t *testing.T) {
	m := NewMetrics()
	m.ToolExecuted("bash", false, 120*time.Millisecond)
	m.ToolExecuted("bash", false, 80*time.Millisecond)
	m.ToolExecuted("bash", true, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("bash", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("bash", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestLLMRequest(t *testing.T) {
	m := NewMetrics()
	usage := models.TokenUsage{InputTokens: 1200, OutputTokens: 300}
	m.LLMRequest("anthropic", "claude-sonnet-4-20250514", usage, 2*time.Second, nil)
	m.LLMRequest("anthropic", "claude-sonnet-4-20250514", models.TokenUsage{}, time.Second, errTest)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "input")); got != 1200 {
		t.Errorf("input tokens = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "output")); got != 300 {
		t.Errorf("output tokens = %v, want 300", got)
	}
}

func TestTaskLifecycle(t *testing.T) {
	m := NewMetrics()
	m.TaskStarted()
	if got := testutil.ToFloat64(m.ActiveTasks); got != 1 {
		t.Errorf("active tasks = %v, want 1", got)
	}
	m.TaskFinished("completed", 4)
	if got := testutil.ToFloat64(m.ActiveTasks); got != 0 {
		t.Errorf("active tasks after finish = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.TaskCounter.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed tasks = %v, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ToolExecuted("read_file", false, time.Millisecond)
	m.RecordPermissionDecision("allow")
	m.RecordHookRun("PreToolUse", "ok")
	m.RecordCompaction("auto")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		"tacit_tool_executions_total",
		"tacit_permission_decisions_total",
		"tacit_hook_runs_total",
		"tacit_compactions_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
