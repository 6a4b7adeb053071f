package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of one build invocation
type Metrics struct {
	registry *prometheus.Registry

	// Build metrics
	buildsTotal   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	chunksTotal   prometheus.Counter

	// Trace metrics
	tracedFiles  prometheus.Gauge
	closureFiles prometheus.Gauge

	// Materialization metrics
	filesCopiedTotal    prometheus.Counter
	bytesCopiedTotal    prometheus.Counter
	symlinksTotal       prometheus.Counter
	deduplicatedTotal   prometheus.Counter
	materializeDuration prometheus.Histogram
}

// NewMetrics creates the metrics on a private registry. The CLI runs one
// build per process, so nothing is exposed over HTTP; the registry is
// written out as a textfile instead.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssrpack_builds_total",
				Help: "Total number of build passes",
			},
			[]string{"kind", "status"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssrpack_phase_duration_seconds",
				Help:    "Build phase latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),
		chunksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ssrpack_chunks_total",
				Help: "Total number of chunks rendered",
			},
		),

		tracedFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssrpack_traced_files",
				Help: "Number of files reported by the last dependency trace",
			},
		),
		closureFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssrpack_closure_files",
				Help: "Number of files in the last dependency closure",
			},
		),

		filesCopiedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ssrpack_files_copied_total",
				Help: "Total number of regular files copied into the output directory",
			},
		),
		bytesCopiedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ssrpack_bytes_copied_total",
				Help: "Total number of bytes copied into the output directory",
			},
		),
		symlinksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ssrpack_symlinks_created_total",
				Help: "Total number of symbolic links recreated in the output directory",
			},
		),
		deduplicatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ssrpack_files_deduplicated_total",
				Help: "Total number of closure entries skipped because their destination was already written",
			},
		),
		materializeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ssrpack_materialize_duration_seconds",
				Help:    "Time spent materializing the dependency closure",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBuild records the outcome of a build pass
func (m *Metrics) RecordBuild(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.buildsTotal.WithLabelValues(kind, status).Inc()
}

// ObservePhase records how long a pipeline phase took
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ChunkRendered counts one rendered chunk
func (m *Metrics) ChunkRendered() {
	m.chunksTotal.Inc()
}

// SetTraceSize records the size of the raw trace and of the filtered closure
func (m *Metrics) SetTraceSize(traced, closure int) {
	m.tracedFiles.Set(float64(traced))
	m.closureFiles.Set(float64(closure))
}

// FileCopied counts one copied file of the given size
func (m *Metrics) FileCopied(bytes int64) {
	m.filesCopiedTotal.Inc()
	m.bytesCopiedTotal.Add(float64(bytes))
}

// SymlinkCreated counts one recreated link
func (m *Metrics) SymlinkCreated() {
	m.symlinksTotal.Inc()
}

// Deduplicated counts one skipped duplicate destination
func (m *Metrics) Deduplicated() {
	m.deduplicatedTotal.Inc()
}

// ObserveMaterialize records the duration of one materialization run
func (m *Metrics) ObserveMaterialize(d time.Duration) {
	m.materializeDuration.Observe(d.Seconds())
}

// WriteTextfile writes every metric in the text exposition format, for the
// node exporter textfile collector or a CI artifact
func (m *Metrics) WriteTextfile(filename string) error {
	if err := prometheus.WriteToTextfile(filename, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", filename, err)
	}
	return nil
}
