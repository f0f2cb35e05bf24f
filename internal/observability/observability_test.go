package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSequence(true)
	m.ObserveSequence(false)
	m.ObserveSequence(false)
	m.ObserveStep("action", true, 20*time.Millisecond)
	m.ObserveStep("assert", false, time.Second)
	m.ObserveEvent("console")
	m.SetSessions(2)
	m.ObserveTool("run_sequence", true)

	if got := testutil.ToFloat64(m.Sequences.WithLabelValues("failure")); got != 2 {
		t.Fatalf("sequences failure: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Steps.WithLabelValues("assert", "failure")); got != 1 {
		t.Fatalf("steps assert failure: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Sessions); got != 2 {
		t.Fatalf("sessions: got %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.StepDuration); got != 2 {
		t.Fatalf("step duration series: got %d, want 2", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSequence(true)
	m.ObserveStep("query", true, time.Millisecond)
	m.ObserveEvent("network")
	m.SetSessions(1)
	m.ObserveTool("x", false)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two drivers in one process must not collide on registration.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

func TestCollectHealth(t *testing.T) {
	h := CollectHealth(time.Now().Add(-3*time.Second), 4, true)
	if h.Status != "ok" || h.Sessions != 4 || !h.BrowserRunning {
		t.Fatalf("health: got %+v", h)
	}
	if h.UptimeSeconds < 3 {
		t.Fatalf("uptime: got %d, want >= 3", h.UptimeSeconds)
	}
	if h.GoroutinesCount <= 0 {
		t.Fatalf("goroutines: got %d", h.GoroutinesCount)
	}
}
