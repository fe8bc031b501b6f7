package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/bulkllm/pkg/limits/ratelimit"
)

// Metrics contains Prometheus metrics for the limits package.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Reservation outcomes
	reservations *prometheus.CounterVec
	rejections   *prometheus.CounterVec

	// Recorded usage
	tokens *prometheus.CounterVec

	// Ledger state
	pending     *prometheus.GaugeVec
	utilization *prometheus.GaugeVec

	// Journal
	journalErrors *prometheus.CounterVec
	restored      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg registers with the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		reservations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "reservations_total",
				Help:      "Total number of reservation outcomes by rule",
			},
			[]string{"rule", "result"},
		),

		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "rejections_total",
				Help:      "Total number of capacity rejections by exhausted dimension",
			},
			[]string{"rule", "dimension"},
		),

		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "tokens_total",
				Help:      "Total number of tokens recorded against rules",
			},
			[]string{"rule", "direction"},
		),

		pending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "pending_reservations",
				Help:      "Current number of open reservations",
			},
			[]string{"rule"},
		),

		utilization: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "window_utilization_ratio",
				Help:      "Pending plus in-window usage as a fraction of the limit (0.0-1.0)",
			},
			[]string{"rule", "dimension"},
		),

		journalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "journal_errors_total",
				Help:      "Total number of usage journal failures",
			},
			[]string{"operation"},
		),

		restored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "restored_records_total",
				Help:      "Total number of journal records restored into rules at startup",
			},
			[]string{"rule"},
		),
	}
}

// RecordAdmitted records an admitted reservation.
func (m *Metrics) RecordAdmitted(rule string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(rule, "admitted").Inc()
	m.pending.WithLabelValues(rule).Inc()
}

// RecordRejected records a capacity rejection.
func (m *Metrics) RecordRejected(rule string, dim ratelimit.Dimension) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(rule, "rejected").Inc()
	m.rejections.WithLabelValues(rule, string(dim)).Inc()
}

// RecordCancelled records a reservation released without usage.
func (m *Metrics) RecordCancelled(rule string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(rule, "cancelled").Inc()
	m.pending.WithLabelValues(rule).Dec()
}

// RecordUsage records a finalized reservation and its token counts.
func (m *Metrics) RecordUsage(rule string, in, out int64) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(rule, "recorded").Inc()
	m.pending.WithLabelValues(rule).Dec()
	m.tokens.WithLabelValues(rule, "input").Add(float64(in))
	m.tokens.WithLabelValues(rule, "output").Add(float64(out))
}

// UpdateUtilization sets the utilization gauges from a rule snapshot.
// Unbounded dimensions are skipped.
func (m *Metrics) UpdateUtilization(s ratelimit.Snapshot) {
	if m == nil {
		return
	}
	for _, dim := range ratelimit.Dimensions() {
		limit, ok := s.Limits.Get(dim)
		if !ok || limit <= 0 {
			continue
		}
		m.utilization.WithLabelValues(s.Name, string(dim)).Set(float64(s.Used(dim)) / float64(limit))
	}
}

// RecordJournalError records a failed or dropped journal operation.
func (m *Metrics) RecordJournalError(operation string) {
	if m == nil {
		return
	}
	m.journalErrors.WithLabelValues(operation).Inc()
}

// RecordRestored records journal records loaded back into a rule.
func (m *Metrics) RecordRestored(rule string, n int) {
	if m == nil {
		return
	}
	m.restored.WithLabelValues(rule).Add(float64(n))
}
