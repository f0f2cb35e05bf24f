// Package observability holds the prometheus collectors and the runtime
// health snapshot served next to them.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "domdrive"

// Metrics groups every collector the driver updates. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Sequences    *prometheus.CounterVec
	Steps        *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	Events       *prometheus.CounterVec
	Sessions     prometheus.Gauge
	ToolCalls    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sequences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequences_total",
			Help:      "Sequences run, by outcome.",
		}, []string{"outcome"}),
		Steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Sequence steps run, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step dispatch latency.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events recorded into sequence logs, by type.",
		}, []string{"type"}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Open browser sessions.",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool calls, by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveSequence counts one finished sequence.
func (m *Metrics) ObserveSequence(ok bool) {
	if m == nil {
		return
	}
	m.Sequences.WithLabelValues(outcome(ok)).Inc()
}

// ObserveStep counts one step and its latency.
func (m *Metrics) ObserveStep(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(kind, outcome(ok)).Inc()
	m.StepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveEvent counts one recorded event.
func (m *Metrics) ObserveEvent(typ string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(typ).Inc()
}

// SetSessions sets the open session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}

// ObserveTool counts one MCP tool call.
func (m *Metrics) ObserveTool(tool string, ok bool) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome(ok)).Inc()
}
