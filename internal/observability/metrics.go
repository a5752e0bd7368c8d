// Package observability exposes Prometheus instrumentation for the pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the pipeline's Prometheus collectors.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	SitesProcessed prometheus.Gauge
	SitesSkipped   prometheus.Gauge
	FetchErrors    prometheus.Counter
	AlertsSent     prometheus.Counter
	ReadingsStored prometheus.Counter
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gaugewatch",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gaugewatch",
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall time of a full pipeline run.",
			Buckets:   prometheus.DefBuckets,
		}),
		SitesProcessed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gaugewatch",
			Name:      "sites_processed",
			Help:      "Sites emitted in the latest processed dataset.",
		}),
		SitesSkipped: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gaugewatch",
			Name:      "sites_skipped",
			Help:      "Sites skipped in the latest run for empty or unusable windows.",
		}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gaugewatch",
			Name:      "fetch_errors_total",
			Help:      "Failed NWIS fetches.",
		}),
		AlertsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gaugewatch",
			Name:      "alerts_sent_total",
			Help:      "Alerts dispatched to notification channels.",
		}),
		ReadingsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gaugewatch",
			Name:      "readings_stored_total",
			Help:      "Raw readings ingested into the rolling window.",
		}),
	}
}
