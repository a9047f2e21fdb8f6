package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
	"github.com/ftschopp/pve-scripts/pkg/engine"
)

// Metrics records run and resource metrics in a private Prometheus
// registry. It implements engine.Recorder.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRun       *prometheus.GaugeVec

	// Resource metrics
	resourceResults  *prometheus.CounterVec
	resourceDuration *prometheus.HistogramVec
	resourceUp       *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. A disabled configuration yields
// a collector whose methods do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of completed runs",
			},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of start and stop runs in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed run",
			},
			[]string{"operation", "status"},
		),

		resourceResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_results_total",
				Help:      "Total number of resource results by kind and result",
			},
			[]string{"kind", "operation", "result"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_duration_seconds",
				Help:      "Time spent on a single resource in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "operation"},
		),
		resourceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_up",
				Help:      "Observed state of a resource (1=running or mounted, 0=otherwise)",
			},
			[]string{"kind", "id"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.runsCompleted,
		m.runDuration,
		m.lastRun,
		m.resourceResults,
		m.resourceDuration,
		m.resourceUp,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

// RecordRun implements engine.Recorder.
func (m *Metrics) RecordRun(operation engine.Operation, status engine.RunStatus, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(operation), string(status)).Inc()
	m.runDuration.WithLabelValues(string(operation)).Observe(duration.Seconds())
	m.lastRun.WithLabelValues(string(operation), string(status)).SetToCurrentTime()
}

// RecordResource implements engine.Recorder.
func (m *Metrics) RecordResource(kind adapters.Kind, operation engine.Operation, result engine.ResultKind, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.resourceResults.WithLabelValues(string(kind), string(operation), string(result)).Inc()
	m.resourceDuration.WithLabelValues(string(kind), string(operation)).Observe(duration.Seconds())
}

// RecordState implements engine.Recorder.
func (m *Metrics) RecordState(kind adapters.Kind, id string, up bool) {
	if m.registry == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.resourceUp.WithLabelValues(string(kind), id).Set(value)
}

// Gatherer exposes the registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the registry in the text exposition format to path.
// Nothing is written when metrics are disabled or no path is configured.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
