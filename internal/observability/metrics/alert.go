package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertMetrics contains Prometheus metrics for stranger alert delivery.
type AlertMetrics struct {
	DeliveriesTotal  *prometheus.CounterVec   // by provider and status
	DeliveryDuration *prometheus.HistogramVec // by provider
	ThrottledTotal   prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// NewAlertMetrics creates and registers alert metrics.
func NewAlertMetrics(registry *prometheus.Registry) (*AlertMetrics, error) {
	m := &AlertMetrics{
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "deliveries_total",
			Help:      "Alert deliveries by provider and status",
		}, []string{"provider", "status"}), // status: success, error

		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "delivery_duration_seconds",
			Help:      "Alert delivery latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"provider"}),

		ThrottledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "throttled_total",
			Help:      "Alerts skipped by the rate limiter or a full queue",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "queue_depth",
			Help:      "Alerts waiting for delivery",
		}),
	}

	for _, c := range []prometheus.Collector{m.DeliveriesTotal, m.DeliveryDuration, m.ThrottledTotal, m.QueueDepth} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register alert metrics: %w", err)
		}
	}
	return m, nil
}

// RecordDelivery counts one delivery attempt.
func (m *AlertMetrics) RecordDelivery(provider string, err error, took time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DeliveriesTotal.WithLabelValues(provider, status).Inc()
	m.DeliveryDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// RecordThrottled counts one skipped alert.
func (m *AlertMetrics) RecordThrottled() {
	m.ThrottledTotal.Inc()
}

// SetQueueDepth sets the pending alert count.
func (m *AlertMetrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
