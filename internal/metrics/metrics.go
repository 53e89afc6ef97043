// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"node-service/internal/model"
)

// Metrics holds the discovery and bridge collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	ProbesTotal    *prometheus.CounterVec
	ProbeDuration  *prometheus.HistogramVec
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	BridgePaths    *prometheus.CounterVec
	ActiveWorkers  prometheus.Gauge
	WorkersStarted prometheus.Counter
}

// New creates and registers all collectors under namespace
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "probe",
				Name:      "total",
				Help:      "Identification probes by terminal status",
			},
			[]string{"status"},
		),

		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "probe",
				Name:      "duration_seconds",
				Help:      "Identification probe duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
			},
			[]string{"status"},
		),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "runs_total",
				Help:      "Discovery runs by entry point",
			},
			[]string{"operation"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "run_duration_seconds",
				Help:      "Batch discovery duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		BridgePaths: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "calls_total",
				Help:      "Bridged calls by execution path",
			},
			[]string{"path"},
		),

		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "active_workers",
				Help:      "Worker threads currently hosting a loop",
			},
		),

		WorkersStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "workers_started_total",
				Help:      "Worker threads started",
			},
		),
	}

	m.registry.MustRegister(
		m.ProbesTotal,
		m.ProbeDuration,
		m.RunsTotal,
		m.RunDuration,
		m.BridgePaths,
		m.ActiveWorkers,
		m.WorkersStarted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records one probe outcome
func (m *Metrics) ObserveProbe(status model.ProbeStatus, duration time.Duration) {
	m.ProbesTotal.WithLabelValues(string(status)).Inc()
	m.ProbeDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// ObserveRun records a completed discovery call
func (m *Metrics) ObserveRun(operation string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(operation).Inc()
	if operation == "available_devices" {
		m.RunDuration.Observe(duration.Seconds())
	}
}

// BridgePath counts a bridged call by path
func (m *Metrics) BridgePath(path string) {
	m.BridgePaths.WithLabelValues(path).Inc()
}

// WorkerStarted tracks a new worker thread
func (m *Metrics) WorkerStarted() {
	m.WorkersStarted.Inc()
	m.ActiveWorkers.Inc()
}

// WorkerStopped tracks a finished worker thread
func (m *Metrics) WorkerStopped() {
	m.ActiveWorkers.Dec()
}
