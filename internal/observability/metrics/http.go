package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the HTTP API and SSE stream.
type HTTPMetrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	SSEActiveConnections prometheus.Gauge
	SSEMessagesSent      prometheus.Counter
}

// NewHTTPMetrics creates and registers HTTP metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		SSEActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sse_active_connections",
			Help:      "Open Server-Sent Events streams",
		}),

		SSEMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sse_messages_sent_total",
			Help:      "Events written to Server-Sent Events streams",
		}),
	}

	for _, c := range []prometheus.Collector{m.RequestsTotal, m.RequestDuration, m.SSEActiveConnections, m.SSEMessagesSent} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
		}
	}
	return m, nil
}

// RecordRequest counts one request. path must be the route template, not
// the raw URL, to bound label cardinality.
func (m *HTTPMetrics) RecordRequest(method, path string, status int, took time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}

// SSEConnected tracks an opened stream and returns the matching close func.
func (m *HTTPMetrics) SSEConnected() func() {
	m.SSEActiveConnections.Inc()
	return m.SSEActiveConnections.Dec
}

// RecordSSEMessage counts one streamed event.
func (m *HTTPMetrics) RecordSSEMessage() {
	m.SSEMessagesSent.Inc()
}
