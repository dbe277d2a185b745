// Package observability wires the Prometheus collectors of every component
// into one private registry and exposes it over HTTP.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/madello/paarvai/internal/logger"
	"github.com/madello/paarvai/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Feed      *metrics.FeedMetrics
	Simulator *metrics.SimulatorMetrics
	MQTT      *metrics.MQTTMetrics
	Alert     *metrics.AlertMetrics
	HTTP      *metrics.HTTPMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors plus
// every component collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	feedMetrics, err := metrics.NewFeedMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed metrics: %w", err)
	}

	simulatorMetrics, err := metrics.NewSimulatorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	alertMetrics, err := metrics.NewAlertMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Feed:      feedMetrics,
		Simulator: simulatorMetrics,
		MQTT:      mqttMetrics,
		Alert:     alertMetrics,
		HTTP:      httpMetrics,
	}, nil
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler(log logger.Logger) http.Handler {
	if log == nil {
		log = logger.Global().Module("metrics")
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{log: log},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// promErrorLogger adapts Logger to promhttp.Logger
type promErrorLogger struct {
	log logger.Logger
}

func (p promErrorLogger) Println(v ...any) {
	p.log.Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
