package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordMessage("user")
	m.RecordMessage("user")
	m.RecordToolExecution("create_pilot", "success", 0.2)
	m.RecordProposal("create_pilot", "confirmed")
	m.RecordError("executor", "tool_execution")
	m.RecordReasoningRequest("anthropic", "success", 1.5)
	m.RecordHistoryWrite("memory", "success")

	if got := counterValue(t, m.MessageCounter, "user"); got != 2 {
		t.Fatalf("message counter = %v, want 2", got)
	}
	if got := counterValue(t, m.ToolExecutionCounter, "create_pilot", "success"); got != 1 {
		t.Fatalf("tool execution counter = %v, want 1", got)
	}
	if got := counterValue(t, m.ProposalCounter, "create_pilot", "confirmed"); got != 1 {
		t.Fatalf("proposal counter = %v, want 1", got)
	}
	if got := counterValue(t, m.ErrorCounter, "executor", "tool_execution"); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	// A nil Metrics must be a silent no-op so observability stays optional.
	var m *Metrics
	m.RecordMessage("user")
	m.RecordToolExecution("t", "success", 0)
	m.RecordProposal("t", "proposed")
	m.RecordError("c", "e")
	m.RecordReasoningRequest("b", "success", 0)
	m.RecordHistoryWrite("memory", "success")
	m.SessionStarted()
	m.SessionEnded()
}

func TestSessionGauge(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()

	var metric dto.Metric
	if err := m.ActiveSessions.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 1 {
		t.Fatalf("active sessions = %v, want 1", got)
	}
}
