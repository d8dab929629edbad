package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the batch engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	batches       *prometheus.CounterVec
	items         *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payroll",
			Name:      "batch_total",
			Help:      "Bulk operations by outcome (committed, rolled_back, rejected, failed).",
		}, []string{"operation", "outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payroll",
			Name:      "batch_items_total",
			Help:      "Bulk operation targets by result (succeeded, failed, unaffected).",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payroll",
			Name:      "batch_duration_seconds",
			Help:      "Time spent executing a bulk operation, audit and notifications included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payroll",
			Name:      "notifications_total",
			Help:      "Post-commit notifications by result (sent, failed, skipped).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.batches, m.items, m.duration, m.notifications)
	}
	return m
}

func (m *Metrics) observeBatch(op Operation, outcome string, res Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(string(op), outcome).Inc()
	m.items.WithLabelValues(string(op), "succeeded").Add(float64(res.SucceededCount))
	m.items.WithLabelValues(string(op), "failed").Add(float64(len(res.Failed)))
	m.items.WithLabelValues(string(op), "unaffected").Add(float64(res.UnaffectedCount))
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
