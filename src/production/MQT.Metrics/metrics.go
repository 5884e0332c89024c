package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "aq"

// Job outcomes recorded by the loader
const (
	OutcomeStored        = "stored"
	OutcomeMalformed     = "malformed"
	OutcomeUnknownDevice = "unknown_device"
	OutcomeFailed        = "failed"
	OutcomeDryRun        = "dry_run"
)

// Registry owns the prometheus registry for one process
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a registry. Long-running services add Go runtime and process collectors.
func NewRegistry(withRuntime bool) *Registry {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &Registry{reg: reg}
}

// Prometheus returns the underlying registry
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway; short-lived bridges call this once at exit
func (r *Registry) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

// LoaderMetrics instruments the loader worker
type LoaderMetrics struct {
	JobsReceived      prometheus.Counter
	JobsProcessed     *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	ValuesStored      prometheus.Counter
	ProcessingSeconds prometheus.Histogram
}

// NewLoaderMetrics creates and registers the loader metrics
func NewLoaderMetrics(reg prometheus.Registerer) *LoaderMetrics {
	m := &LoaderMetrics{
		JobsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "jobs_received_total",
			Help:      "Messages received from the broker and queued.",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed, by outcome.",
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the queue.",
		}),
		ValuesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "values_stored_total",
			Help:      "reading_values rows written.",
		}),
		ProcessingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "job_duration_seconds",
			Help:      "Time spent storing one job.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.JobsReceived, m.JobsProcessed, m.QueueDepth, m.ValuesStored, m.ProcessingSeconds)
	return m
}

// BridgeMetrics instruments one bridge run
type BridgeMetrics struct {
	Fetched        prometheus.Counter
	MappingErrors  prometheus.Counter
	Duplicates     prometheus.Counter
	Published      prometheus.Counter
	LastSuccess    prometheus.Gauge
	RunDurationSec prometheus.Gauge
}

// NewBridgeMetrics creates and registers the metrics for the named source
func NewBridgeMetrics(reg prometheus.Registerer, source string) *BridgeMetrics {
	labels := prometheus.Labels{"source": source}
	m := &BridgeMetrics{
		Fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "readings_fetched_total",
			Help: "Raw readings received from the vendor.", ConstLabels: labels,
		}),
		MappingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "mapping_errors_total",
			Help: "Raw readings rejected by the field mapper.", ConstLabels: labels,
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "duplicates_total",
			Help: "Readings at or before the last-seen mark.", ConstLabels: labels,
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "readings_published_total",
			Help: "Readings acknowledged by the broker.", ConstLabels: labels,
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last run that completed.", ConstLabels: labels,
		}),
		RunDurationSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "run_duration_seconds",
			Help: "Duration of the last run.", ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.Fetched, m.MappingErrors, m.Duplicates, m.Published, m.LastSuccess, m.RunDurationSec)
	return m
}
