// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the fabric's session, poller, persistence, and discovery
// layers, grounded on the teacher's coreengine/observability package
// (promauto counter/histogram vectors plus an OTLP-gRPC tracer). The
// metrics are defined here; no other package in this module records them.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mktl_requests_total",
			Help: "Total number of request/response round trips initiated",
		},
		[]string{"type", "status"}, // status: ok, timeout, error
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mktl_request_duration_seconds",
			Help:    "Request/response round trip duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"type"},
	)

	publishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mktl_publishes_total",
			Help: "Total number of PUB messages sent by a daemon",
		},
		[]string{"key"},
	)

	subscriberGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mktl_subscribers",
			Help: "Current number of connected subscribers on a Publish socket",
		},
		[]string{"daemon"},
	)

	pollerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mktl_poller_ticks_total",
			Help: "Total number of poller invocations, by outcome",
		},
		[]string{"status"}, // status: ok, target_collected, error
	)

	persistenceFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mktl_persistence_flushes_total",
			Help: "Total number of persistence flush cycles",
		},
		[]string{"status"},
	)

	persistenceFlushItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mktl_persistence_flush_items",
			Help:    "Number of coalesced items written per flush cycle",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	discoveryProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mktl_discovery_probes_total",
			Help: "Total number of discovery broadcast probes handled",
		},
		[]string{"outcome"}, // outcome: answered, debounced
	)
)

// RecordRequest records one completed request/response round trip.
func RecordRequest(msgType, status string, durationSeconds float64) {
	requestsTotal.WithLabelValues(msgType, status).Inc()
	requestDurationSeconds.WithLabelValues(msgType).Observe(durationSeconds)
}

// RecordPublish records one PUB message sent for key.
func RecordPublish(key string) {
	publishesTotal.WithLabelValues(key).Inc()
}

// SetSubscriberCount reports the current subscriber count for a daemon.
func SetSubscriberCount(daemon string, count int) {
	subscriberGauge.WithLabelValues(daemon).Set(float64(count))
}

// RecordPollerTick records one poller invocation outcome.
func RecordPollerTick(status string) {
	pollerTicksTotal.WithLabelValues(status).Inc()
}

// RecordPersistenceFlush records one persistence flush cycle.
func RecordPersistenceFlush(status string, itemCount int) {
	persistenceFlushesTotal.WithLabelValues(status).Inc()
	persistenceFlushItems.Observe(float64(itemCount))
}

// RecordDiscoveryProbe records one handled discovery broadcast.
func RecordDiscoveryProbe(outcome string) {
	discoveryProbesTotal.WithLabelValues(outcome).Inc()
}
