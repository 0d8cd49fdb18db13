// Package metrics exposes Prometheus instrumentation for supervised runs.
package metrics

import (
	"time"

	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	Delegations      *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	RouteErrors      prometheus.Counter
	BudgetExhausted  prometheus.Counter
	Runs             *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	ToolCallDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_delegations_total",
			Help: "Turns handed by the supervisor to a sub-agent",
		}, []string{"agent"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_tool_calls_total",
			Help: "Tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		RouteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_route_errors_total",
			Help: "Routing decisions naming an unknown sub-agent",
		}),
		BudgetExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_budget_exhausted_total",
			Help: "Runs stopped because the turn budget ran out",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_runs_total",
			Help: "Finished runs by status",
		}, []string{"status"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_llm_call_duration_seconds",
			Help:    "Language model call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_tool_call_duration_seconds",
			Help:    "Tool execution latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.Delegations, m.ToolCalls, m.RouteErrors, m.BudgetExhausted,
		m.Runs, m.LLMLatency, m.ToolCallDuration)
	return m
}

// ObserveLLM matches llm.Observer.
func (m *Metrics) ObserveLLM(d time.Duration, err error) {
	m.LLMLatency.WithLabelValues(outcome(err == nil)).Observe(d.Seconds())
}

// PublishEvent updates counters from run events, so Metrics can be attached as
// an event sink.
func (m *Metrics) PublishEvent(ev events.Event) error {
	switch e := ev.(type) {
	case *events.EventDelegation:
		m.Delegations.WithLabelValues(e.Agent).Inc()
	case *events.EventToolResult:
		ok := e.Error == ""
		m.ToolCalls.WithLabelValues(e.Name, outcome(ok)).Inc()
		m.ToolCallDuration.WithLabelValues(outcome(ok)).Observe(float64(e.DurationMs) / 1000)
	case *events.EventRouteError:
		m.RouteErrors.Inc()
	case *events.EventBudgetExhausted:
		m.BudgetExhausted.Inc()
	case *events.EventRunFinished:
		status := "ok"
		switch {
		case e.Error != "":
			status = "error"
		case e.Exhausted:
			status = "exhausted"
		}
		m.Runs.WithLabelValues(status).Inc()
	}
	return nil
}

var _ events.EventSink = (*Metrics)(nil)

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
