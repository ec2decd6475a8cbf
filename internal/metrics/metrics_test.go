package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.TaskEnqueued(1)
	m.TaskEnqueued(2)
	m.TaskDispatched("edge", 1)
	m.TaskDropped(0)
	m.ReportReceived(true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.tasksEnqueued), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksDispatched.WithLabelValues("edge")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tasksDropped), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.queueDepth), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reports.WithLabelValues("error")), 0)
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TaskEnqueued(1)
	m.TaskDispatched("a", 0)
	m.TaskDropped(0)
	m.AgentPanic("a")
	m.ReportReceived(false)
	m.TaskScheduled(1)
	m.SchedulerDepth(0)
	m.Replay("ok")
	m.RegisteredAgents(3)
}
