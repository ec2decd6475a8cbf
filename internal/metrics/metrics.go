// Package metrics holds the Prometheus collectors for dispatch, scheduling
// and learning. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	tasksEnqueued   prometheus.Counter
	tasksDispatched *prometheus.CounterVec
	tasksDropped    prometheus.Counter
	agentPanics     *prometheus.CounterVec
	reports         *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	scheduledTasks  prometheus.Counter
	schedulerDepth  prometheus.Gauge
	replays         *prometheus.CounterVec
	registeredAgent prometheus.Gauge
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omnipong_tasks_enqueued_total",
			Help: "Tasks appended to the orchestrator queue.",
		}),
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnipong_tasks_dispatched_total",
			Help: "Tasks handed to an agent, by agent id.",
		}, []string{"agent"}),
		tasksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omnipong_tasks_dropped_total",
			Help: "Tasks dropped because no registered agent could handle them.",
		}),
		agentPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnipong_agent_panics_total",
			Help: "Panics recovered from agent task intake.",
		}, []string{"agent"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnipong_reports_total",
			Help: "Reports merged into the knowledge base, by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omnipong_queue_depth",
			Help: "Tasks waiting in the orchestrator queue.",
		}),
		scheduledTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omnipong_scheduler_tasks_added_total",
			Help: "Tasks added to the priority scheduler.",
		}),
		schedulerDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omnipong_scheduler_depth",
			Help: "Tasks waiting in the priority scheduler.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnipong_replays_total",
			Help: "Experience replay attempts, by result.",
		}, []string{"result"}),
		registeredAgent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omnipong_registered_agents",
			Help: "Agents currently in the registry.",
		}),
	}
	collectors := []prometheus.Collector{
		m.tasksEnqueued, m.tasksDispatched, m.tasksDropped, m.agentPanics, m.reports,
		m.queueDepth, m.scheduledTasks, m.schedulerDepth, m.replays, m.registeredAgent,
	}
	if reg != nil {
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) TaskEnqueued(depth int) {
	if m == nil {
		return
	}
	m.tasksEnqueued.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) TaskDispatched(agentID string, depth int) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(agentID).Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) TaskDropped(depth int) {
	if m == nil {
		return
	}
	m.tasksDropped.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) AgentPanic(agentID string) {
	if m == nil {
		return
	}
	m.agentPanics.WithLabelValues(agentID).Inc()
}

func (m *Metrics) ReportReceived(failed bool) {
	if m == nil {
		return
	}
	outcome := "result"
	if failed {
		outcome = "error"
	}
	m.reports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TaskScheduled(depth int) {
	if m == nil {
		return
	}
	m.scheduledTasks.Inc()
	m.schedulerDepth.Set(float64(depth))
}

func (m *Metrics) SchedulerDepth(depth int) {
	if m == nil {
		return
	}
	m.schedulerDepth.Set(float64(depth))
}

func (m *Metrics) Replay(result string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(result).Inc()
}

func (m *Metrics) RegisteredAgents(n int) {
	if m == nil {
		return
	}
	m.registeredAgent.Set(float64(n))
}
