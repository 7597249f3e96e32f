// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts frames delivered by the frame source.
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netverse_capture_packets_total",
			Help: "Total number of frames captured",
		},
		[]string{"interface"},
	)

	// ParseErrorsTotal counts frames dropped because they failed to parse.
	ParseErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netverse_parse_errors_total",
			Help: "Total number of frames dropped by the parser",
		},
	)

	// EnrichmentDuration measures time spent enriching one record.
	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netverse_enrichment_duration_seconds",
			Help:    "Time spent resolving enrichment lookups per record",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// EnrichmentFailuresTotal counts lookups that failed or timed out.
	EnrichmentFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netverse_enrichment_failures_total",
			Help: "Total number of failed or timed-out enrichment lookups",
		},
		[]string{"kind"},
	)

	// BusPublishedTotal counts records published per topic.
	BusPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netverse_bus_published_total",
			Help: "Total number of messages published to the distribution bus",
		},
		[]string{"topic"},
	)

	// BusDroppedTotal counts messages dropped from saturated subscriber queues.
	BusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netverse_bus_dropped_total",
			Help: "Total number of messages dropped due to slow subscribers",
		},
		[]string{"topic"},
	)

	// SinkWritesTotal counts records handed to the persistence sink.
	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netverse_sink_writes_total",
			Help: "Total number of sink write attempts",
		},
		[]string{"status"},
	)

	// LiveClients tracks currently connected stream observers.
	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netverse_live_clients",
			Help: "Number of currently connected live-stream clients",
		},
	)
)
