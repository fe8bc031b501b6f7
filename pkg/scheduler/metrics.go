package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the scheduler.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	queueDepth *prometheus.GaugeVec
	inFlight   *prometheus.GaugeVec
	workers    prometheus.Gauge

	outcomes *prometheus.CounterVec
	requeues *prometheus.CounterVec

	taskDuration *prometheus.HistogramVec
	admitWait    *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg registers with the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Number of tasks waiting for admission",
			},
			[]string{"resource"},
		),

		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "in_flight_tasks",
				Help:      "Number of tasks dequeued and not yet finished",
			},
			[]string{"resource"},
		),

		workers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "active_workers",
				Help:      "Number of resources with an active worker",
			},
		),

		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_total",
				Help:      "Total number of finished tasks by outcome",
			},
			[]string{"resource", "outcome"},
		),

		requeues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "requeues_total",
				Help:      "Total number of tasks requeued after a capacity rejection",
			},
			[]string{"resource"},
		),

		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_duration_seconds",
				Help:      "Duration of task actions in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"resource"},
		),

		admitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "admission_wait_seconds",
				Help:      "Time from submission to admission in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"resource"},
		),
	}
}

func (m *Metrics) setQueue(resource string, depth, inFlight int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(resource).Set(float64(depth))
	m.inFlight.WithLabelValues(resource).Set(float64(inFlight))
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.workers.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.workers.Dec()
}

func (m *Metrics) requeued(resource string) {
	if m == nil {
		return
	}
	m.requeues.WithLabelValues(resource).Inc()
}

func (m *Metrics) admitted(resource string, waited time.Duration) {
	if m == nil {
		return
	}
	m.admitWait.WithLabelValues(resource).Observe(waited.Seconds())
}

func (m *Metrics) finished(resource, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(resource, outcome).Inc()
	if d > 0 {
		m.taskDuration.WithLabelValues(resource).Observe(d.Seconds())
	}
}
