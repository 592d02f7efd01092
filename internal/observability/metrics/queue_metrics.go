package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	NotificationOutcomeDelivered = "delivered"
	NotificationOutcomeRetried   = "retried"
	NotificationOutcomeFailed    = "failed"
	NotificationOutcomeDropped   = "dropped"
)

// NotificationMetrics captures the health of the outbound notification queue.
type NotificationMetrics struct {
	outcomes *prometheus.CounterVec
	depth    prometheus.Gauge
}

var (
	notificationMetricsOnce sync.Once
	notificationMetrics     *NotificationMetrics
)

// Notifications returns the process-wide notification metrics.
func Notifications(cfg Config) *NotificationMetrics {
	notificationMetricsOnce.Do(func() {
		notificationMetrics = NewNotificationMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return notificationMetrics
}

func NewNotificationMetrics(registerer prometheus.Registerer, cfg Config) *NotificationMetrics {
	constLabels := constLabelsFor(cfg)
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "appointly_notifications_total",
		Help:        "Notification deliveries by template and outcome.",
		ConstLabels: constLabels,
	}, []string{"template", "outcome"})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "appointly_notification_queue_depth",
		Help:        "Messages waiting in the notification queue.",
		ConstLabels: constLabels,
	})
	registerer.MustRegister(outcomes, depth)
	return &NotificationMetrics{outcomes: outcomes, depth: depth}
}

func (m *NotificationMetrics) Record(template, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(template, outcome).Inc()
}

func (m *NotificationMetrics) SetDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}
