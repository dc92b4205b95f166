package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ewoodruff/tacit/internal/agent"
	"github.com/ewoodruff/tacit/pkg/models"
)

// Metrics holds the Prometheus collectors for the runtime. It plugs
// directly into the dispatcher and executor observer hooks.
type Metrics struct {
	registry *prometheus.Registry

	// ToolExecutionCounter counts tool runs.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool run time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token spend.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// TaskCounter counts completed tasks.
	// Labels: status (completed|failed|aborted)
	TaskCounter *prometheus.CounterVec

	// TaskIterations observes loop iterations per task.
	TaskIterations prometheus.Histogram

	// ActiveTasks tracks tasks currently executing.
	ActiveTasks prometheus.Gauge

	// HookRunCounter counts hook command executions.
	// Labels: event, status (ok|vetoed|error)
	HookRunCounter *prometheus.CounterVec

	// PermissionDecisionCounter counts authorisation outcomes.
	// Labels: level (allow|ask|deny)
	PermissionDecisionCounter *prometheus.CounterVec

	// CompactionCounter counts context compactions.
	// Labels: trigger (auto|manual)
	CompactionCounter *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry so repeated
// construction never collides.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacit_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tacit_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacit_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tacit_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacit_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		TaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacit_tasks_total",
				Help: "Total tasks by terminal status",
			},
			[]string{"status"},
		),

		TaskIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tacit_task_iterations",
				Help:    "Agent loop iterations per task",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
			},
		),

		ActiveTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tacit_active_tasks",
				Help: "Tasks currently executing",
			},
		),

		HookRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacit_hook_runs_total",
				Help: "Total hook executions by event and status",
			},
			[]string{"event", "status"},
		),

		PermissionDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacit_permission_decisions_total",
				Help: "Total permission decisions by level",
			},
			[]string{"level"},
		),

		CompactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacit_compactions_total",
				Help: "Total context compactions by trigger",
			},
			[]string{"trigger"},
		),
	}
}

// ToolExecuted implements agent.ToolObserver.
func (m *Metrics) ToolExecuted(tool string, isError bool, duration time.Duration) {
	status := "success"
	if isError {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// LLMRequest implements agent.LLMObserver.
func (m *Metrics) LLMRequest(provider, model string, usage models.TokenUsage, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if usage.InputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
	}
}

// TaskStarted marks a task in flight.
func (m *Metrics) TaskStarted() {
	m.ActiveTasks.Inc()
}

// TaskFinished records the terminal status and loop count.
func (m *Metrics) TaskFinished(status string, iterations int) {
	m.ActiveTasks.Dec()
	m.TaskCounter.WithLabelValues(status).Inc()
	m.TaskIterations.Observe(float64(iterations))
}

// RecordHookRun counts one hook execution outcome.
func (m *Metrics) RecordHookRun(event, status string) {
	m.HookRunCounter.WithLabelValues(event, status).Inc()
}

// RecordPermissionDecision counts one authorisation outcome.
func (m *Metrics) RecordPermissionDecision(level string) {
	m.PermissionDecisionCounter.WithLabelValues(level).Inc()
}

// RecordCompaction counts one context compaction.
func (m *Metrics) RecordCompaction(trigger string) {
	m.CompactionCounter.WithLabelValues(trigger).Inc()
}

// Handler exposes the collectors in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var (
	_ agent.ToolObserver = (*Metrics)(nil)
	_ agent.LLMObserver  = (*Metrics)(nil)
)
