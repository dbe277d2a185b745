package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the live simulator.
type SimulatorMetrics struct {
	TicksTotal *prometheus.CounterVec
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(registry *prometheus.Registry) (*SimulatorMetrics, error) {
	m := &SimulatorMetrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "ticks_total",
			Help:      "Simulator ticks by delivery outcome",
		}, []string{"outcome"}),
	}
	if err := registry.Register(m.TicksTotal); err != nil {
		return nil, fmt.Errorf("failed to register simulator metrics: %w", err)
	}
	return m, nil
}

// RecordTick counts one tick.
func (m *SimulatorMetrics) RecordTick(outcome string) {
	m.TicksTotal.WithLabelValues(outcome).Inc()
}
