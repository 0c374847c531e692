package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forecast_collector"

// Metrics holds the Prometheus counters, histograms, and gauges for the collector.
type Metrics struct {
	CollectorRunning prometheus.Gauge

	// Fetch metrics.
	FetchAttempts    *prometheus.CounterVec // labels: outcome={success,timeout,transport,schema,error}
	BackoffWaits     prometheus.Counter
	BackoffDuration  prometheus.Histogram
	LocationsFetched prometheus.Counter
	LocationsFailed  prometheus.Counter

	// Persistence metrics.
	RowsCommitted    prometheus.Counter
	SchemaMismatches prometheus.Counter
	RowsPublished    prometheus.Counter

	// Run metrics.
	Runs           *prometheus.CounterVec // labels: outcome={success,empty,failed}
	RunDuration    prometheus.Histogram
	LastSuccessRun prometheus.Gauge
}

// NewMetrics creates and registers all collector metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CollectorRunning,
		m.FetchAttempts,
		m.BackoffWaits,
		m.BackoffDuration,
		m.LocationsFetched,
		m.LocationsFailed,
		m.RowsCommitted,
		m.SchemaMismatches,
		m.RowsPublished,
		m.Runs,
		m.RunDuration,
		m.LastSuccessRun,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CollectorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while a collection run is in progress, 0 otherwise.",
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Forecast API attempts by outcome.",
		}, []string{"outcome"}),
		BackoffWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backoff_waits_total",
			Help:      "Backoff waits scheduled after a transient failure.",
		}),
		BackoffDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_duration_seconds",
			Help:      "Length of scheduled backoff waits.",
			Buckets:   []float64{5, 10, 15, 20, 30, 45, 60},
		}),
		LocationsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_fetched_total",
			Help:      "Locations that contributed a forecast frame.",
		}),
		LocationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_failed_total",
			Help:      "Locations skipped after exhausting retries.",
		}),
		RowsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_committed_total",
			Help:      "Rows written to the forecast store.",
		}),
		SchemaMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_mismatches_total",
			Help:      "Commits rejected because the batch columns did not fit the store header.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_published_total",
			Help:      "Rows published to the Kafka sink topic.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collection runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete collection run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		LastSuccessRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that committed a batch.",
		}),
	}
}
