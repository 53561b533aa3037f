// Package observability holds the Prometheus collectors and tracing helpers
// shared by the orchestrator, scheduler and HTTP server.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ensemble"

// Metrics exposes Prometheus collectors that report orchestration activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	turns        *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	costUSD      prometheus.Counter
	activeTurns  prometheus.Gauge
	sessions     prometheus.Gauge
	droppedEvent prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns the package-level Metrics registered with the global
// Prometheus registry. Collectors are created once so repeated construction
// does not panic on duplicate registration.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg, reusing collectors that
// are already registered. Other registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Turns dispatched, by outcome.",
		}, []string{"outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Tasks reaching a terminal state, by agent, status and failure kind.",
		}, []string{"agent", "status", "failure_kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Wall time of agent invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "cost_usd_total",
			Help:      "Accumulated agent cost in USD.",
		}),
		activeTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "turns_active",
			Help:      "Turns currently in progress.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "sessions_cached",
			Help:      "Sessions held in the in-memory session cache.",
		}),
		droppedEvent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "subscriber_events_dropped_total",
			Help:      "Events dropped because a live subscriber was not draining.",
		}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}

	m.turns = register(m.turns).(*prometheus.CounterVec)
	m.tasks = register(m.tasks).(*prometheus.CounterVec)
	m.taskDuration = register(m.taskDuration).(*prometheus.HistogramVec)
	m.costUSD = register(m.costUSD).(prometheus.Counter)
	m.activeTurns = register(m.activeTurns).(prometheus.Gauge)
	m.sessions = register(m.sessions).(prometheus.Gauge)
	m.droppedEvent = register(m.droppedEvent).(prometheus.Counter)
	return m
}

// Turn outcome labels.
const (
	OutcomeCompleted     = "completed"
	OutcomeClarify       = "clarify"
	OutcomePlanningError = "planning_error"
	OutcomeCancelled     = "cancelled"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
)

// IncTurn counts a finished turn.
func (m *Metrics) IncTurn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// ObserveTask counts a terminal task and, when it ran, its duration.
func (m *Metrics) ObserveTask(agentID, status, failureKind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(agentID, status, failureKind).Inc()
	if duration > 0 {
		m.taskDuration.WithLabelValues(agentID).Observe(duration.Seconds())
	}
}

// AddCost adds to the accumulated cost counter.
func (m *Metrics) AddCost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.costUSD.Add(usd)
}

// TurnStarted marks a turn as active.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.activeTurns.Inc()
}

// TurnFinished marks a turn as no longer active.
func (m *Metrics) TurnFinished() {
	if m == nil {
		return
	}
	m.activeTurns.Dec()
}

// SetSessions reports the session cache size.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// IncDroppedEvent counts an event dropped for a slow subscriber.
func (m *Metrics) IncDroppedEvent() {
	if m == nil {
		return
	}
	m.droppedEvent.Inc()
}
