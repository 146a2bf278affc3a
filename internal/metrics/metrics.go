// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so the exposition endpoint serves
// only service metrics, not the default Go collectors of every linked
// library.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal          *prometheus.CounterVec
	processingDuration prometheus.Histogram
	stageDuration      *prometheus.HistogramVec
	stageFailures      *prometheus.CounterVec
	jobsInFlight       prometheus.Gauge

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docuextract",
			Name:      "jobs_total",
			Help:      "Finished jobs by terminal status.",
		},
		[]string{"status"},
	)
	processingDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docuextract",
			Name:      "processing_duration_seconds",
			Help:      "End-to-end document processing duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docuextract",
			Name:      "stage_duration_seconds",
			Help:      "Extraction stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docuextract",
			Name:      "stage_failures_total",
			Help:      "Extraction stages that degraded to empty output.",
		},
		[]string{"stage"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docuextract",
			Name:      "jobs_in_flight",
			Help:      "Number of documents currently being processed.",
		},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docuextract",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docuextract",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(
		jobsTotal,
		processingDuration,
		stageDuration,
		stageFailures,
		jobsInFlight,
		requestTotal,
		requestDuration,
	)

	return &Metrics{
		registry:           registry,
		jobsTotal:          jobsTotal,
		processingDuration: processingDuration,
		stageDuration:      stageDuration,
		stageFailures:      stageFailures,
		jobsInFlight:       jobsInFlight,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
	}
}

// Handler serves the exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartJob marks one document as in flight.
func (m *Metrics) StartJob() {
	m.jobsInFlight.Inc()
}

// FinishJob records a terminal job outcome.
func (m *Metrics) FinishJob(status string, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(status).Inc()
	m.processingDuration.Observe(duration.Seconds())
}

// RecordRejected counts an upload rejected before any job was queued.
func (m *Metrics) RecordRejected() {
	m.jobsTotal.WithLabelValues("rejected").Inc()
}

// RecordStage records one extraction stage run. A non-nil err means the
// stage degraded.
func (m *Metrics) RecordStage(stage string, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordRequest records one finished HTTP request. Path should be the
// route pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) RecordRequest(method, path string, status int, duration time.Duration) {
	m.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveQueueDepth samples the processing queue depth on scrape.
// Call at most once per Metrics instance.
func (m *Metrics) ObserveQueueDepth(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "docuextract",
			Name:      "queue_depth",
			Help:      "Queued documents waiting for a worker.",
		},
		func() float64 { return float64(depth()) },
	))
}
