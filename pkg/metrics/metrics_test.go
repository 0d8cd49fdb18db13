package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/go-go-golems/concierge/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsFromEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	meta := events.NewMetadata("run", "supervisor")

	require.NoError(t, m.PublishEvent(events.NewDelegationEvent(meta, "sql", 1, 2)))
	require.NoError(t, m.PublishEvent(events.NewDelegationEvent(meta, "sql", 2, 1)))
	require.NoError(t, m.PublishEvent(events.NewRouteErrorEvent(meta, "billing", errors.New("unknown"))))
	require.NoError(t, m.PublishEvent(events.NewBudgetExhaustedEvent(meta, 3)))
	require.NoError(t, m.PublishEvent(events.NewRunFinishedEvent(meta, 3, true, nil)))
	require.NoError(t, m.PublishEvent(events.NewToolResultEvent(meta, "c1", "lookup", "", "boom", time.Second)))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Delegations.WithLabelValues("sql")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RouteErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("lookup", "error")))
}

func TestObserveLLM(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveLLM(50*time.Millisecond, nil)
	m.ObserveLLM(10*time.Millisecond, errors.New("boom"))
	assert.Equal(t, 2, testutil.CollectAndCount(m.LLMLatency))
}
