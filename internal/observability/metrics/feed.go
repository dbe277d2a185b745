// Package metrics provides Prometheus collectors for the PaarvAI components.
//
// Every collector registers on a caller-supplied registry so that tests and
// multiple instances never share global state.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paarvai"

// FeedMetrics contains Prometheus metrics for the detection feed.
type FeedMetrics struct {
	Records              prometheus.Gauge
	IngestTotal          *prometheus.CounterVec
	EvictionsTotal       prometheus.Counter
	SelectionsTotal      *prometheus.CounterVec
	FilterRejections     *prometheus.CounterVec
	SubscriberDropsTotal prometheus.Counter
}

// NewFeedMetrics creates and registers feed metrics.
func NewFeedMetrics(registry *prometheus.Registry) (*FeedMetrics, error) {
	m := &FeedMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register feed metrics: %w", err)
	}
	return m, nil
}

func (m *FeedMetrics) initMetrics() {
	m.Records = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "records",
		Help:      "Number of detection records currently held by the feed",
	})

	m.IngestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "ingest_total",
		Help:      "Ingested records by classification and outcome",
	}, []string{"classification", "outcome"}) // outcome: accepted, replaced, duplicate, invalid

	m.EvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "evictions_total",
		Help:      "Records evicted by the capacity bound",
	})

	m.SelectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "selections_total",
		Help:      "Selection requests by outcome",
	}, []string{"outcome"}) // outcome: selected, cleared, not_found

	m.FilterRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "filter_rejections_total",
		Help:      "Rejected filter fields",
	}, []string{"field"})

	m.SubscriberDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "subscriber_drops_total",
		Help:      "Change notifications dropped for slow subscribers",
	})
}

// RecordIngest counts one ingest call.
func (m *FeedMetrics) RecordIngest(classification, outcome string) {
	if classification == "" {
		classification = "unknown"
	}
	m.IngestTotal.WithLabelValues(classification, outcome).Inc()
}

// RecordEvictions adds evicted records.
func (m *FeedMetrics) RecordEvictions(n int) {
	if n > 0 {
		m.EvictionsTotal.Add(float64(n))
	}
}

// SetRecords sets the current record count.
func (m *FeedMetrics) SetRecords(n int) {
	m.Records.Set(float64(n))
}

// RecordSelection counts one selection request.
func (m *FeedMetrics) RecordSelection(outcome string) {
	m.SelectionsTotal.WithLabelValues(outcome).Inc()
}

// RecordFilterRejection counts one rejected filter field.
func (m *FeedMetrics) RecordFilterRejection(field string) {
	m.FilterRejections.WithLabelValues(field).Inc()
}

// RecordSubscriberDrop counts one dropped notification.
func (m *FeedMetrics) RecordSubscriberDrop() {
	m.SubscriberDropsTotal.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *FeedMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Records.Describe(ch)
	m.IngestTotal.Describe(ch)
	m.EvictionsTotal.Describe(ch)
	m.SelectionsTotal.Describe(ch)
	m.FilterRejections.Describe(ch)
	m.SubscriberDropsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *FeedMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Records.Collect(ch)
	m.IngestTotal.Collect(ch)
	m.EvictionsTotal.Collect(ch)
	m.SelectionsTotal.Collect(ch)
	m.FilterRejections.Collect(ch)
	m.SubscriberDropsTotal.Collect(ch)
}
