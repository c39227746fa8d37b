// Package metrics provides Prometheus metrics collection for CostPilot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for CostPilot.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Ingestion metrics
	IngestRuns      *prometheus.CounterVec
	IngestEvents    *prometheus.CounterVec
	IngestDuration  *prometheus.HistogramVec
	MalformedLines  prometheus.Gauge
	LastIngestEpoch prometheus.Gauge

	// Snapshot metrics
	SnapshotBuilds   prometheus.Counter
	SnapshotDuration prometheus.Histogram

	// Stream metrics
	StreamClients prometheus.Gauge
	StreamDrops   prometheus.Counter
}

// New creates a new metrics collector with all metrics registered on the
// default registry.
func New() *Collector {
	return newWith(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return newWith(promauto.With(reg))
}

func newWith(factory promauto.Factory) *Collector {
	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "costpilot",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "costpilot",
				Name:      "request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "costpilot",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "costpilot",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),

		IngestRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "costpilot",
				Name:      "ingest_runs_total",
				Help:      "Total adapter runs by adapter and outcome",
			},
			[]string{"adapter", "outcome"},
		),
		IngestEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "costpilot",
				Name:      "ingest_events_total",
				Help:      "Total events ingested by adapter",
			},
			[]string{"adapter"},
		),
		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "costpilot",
				Name:      "ingest_duration_seconds",
				Help:      "Adapter run duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"adapter"},
		),
		MalformedLines: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "costpilot",
				Name:      "event_file_malformed_lines",
				Help:      "Malformed lines in the event file at last load",
			},
		),
		LastIngestEpoch: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "costpilot",
				Name:      "last_ingest_timestamp",
				Help:      "Unix timestamp of the last successful adapter run",
			},
		),

		SnapshotBuilds: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "costpilot",
				Name:      "snapshot_builds_total",
				Help:      "Total number of dashboard snapshot builds",
			},
		),
		SnapshotDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "costpilot",
				Name:      "snapshot_build_duration_seconds",
				Help:      "Dashboard snapshot build duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
			},
		),

		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "costpilot",
				Name:      "stream_clients",
				Help:      "Connected live-update stream clients",
			},
		),
		StreamDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "costpilot",
				Name:      "stream_drops_total",
				Help:      "Stream clients dropped for not keeping up",
			},
		),
	}
}
