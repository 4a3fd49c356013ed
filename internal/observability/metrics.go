package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the copilot engine: message flow,
// reasoning-backend latency, tool executions, proposal outcomes, and history
// writes. Create once at startup; the /metrics endpoint exposes the default
// registry.
type Metrics struct {
	// MessageCounter tracks messages appended to history by role.
	MessageCounter *prometheus.CounterVec

	// ReasoningRequestDuration measures reasoning-backend call latency.
	// Labels: backend (anthropic|openai), status (success|error)
	ReasoningRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ProposalCounter counts confirmation-gate outcomes.
	// Labels: tool_name, outcome (proposed|confirmed|cancelled|expired)
	ProposalCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (orchestrator|executor|history|reasoning), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge of sessions with in-flight processing.
	ActiveSessions prometheus.Gauge

	// HistoryWriteCounter counts history appends by backend and status.
	HistoryWriteCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with the given registerer. Tests use
// this with a private registry to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_messages_total",
				Help: "Total messages appended to session history by role",
			},
			[]string{"role"},
		),
		ReasoningRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_reasoning_request_duration_seconds",
				Help:    "Duration of reasoning backend calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend", "status"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ProposalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_proposals_total",
				Help: "Total confirmation-gate proposals by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "copilot_active_sessions",
				Help: "Sessions with an in-flight copilot operation",
			},
		),
		HistoryWriteCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_history_writes_total",
				Help: "Total history appends by backend and status",
			},
			[]string{"backend", "status"},
		),
	}
}

// RecordReasoningRequest records latency and status for a reasoning call.
func (m *Metrics) RecordReasoningRequest(backend, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ReasoningRequestDuration.WithLabelValues(backend, status).Observe(durationSeconds)
}

// RecordToolExecution records a tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordProposal records a confirmation-gate outcome.
func (m *Metrics) RecordProposal(toolName, outcome string) {
	if m == nil {
		return
	}
	m.ProposalCounter.WithLabelValues(toolName, outcome).Inc()
}

// RecordMessage records a history append by role.
func (m *Metrics) RecordMessage(role string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(role).Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted marks the start of an in-flight session operation.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded marks the end of an in-flight session operation.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordHistoryWrite records a history append by backend and status.
func (m *Metrics) RecordHistoryWrite(backend, status string) {
	if m == nil {
		return
	}
	m.HistoryWriteCounter.WithLabelValues(backend, status).Inc()
}
