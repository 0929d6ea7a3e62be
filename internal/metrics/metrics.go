// Package metrics exposes ingestion counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so several instances can coexist in tests.
// All methods are safe on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued *prometheus.CounterVec
	jobsSkipped  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	rowsWritten  *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	queueLength  prometheus.Gauge
	paused       prometheus.Gauge
	httpRequests *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_jobs_enqueued_total",
			Help: "Jobs accepted into the ingest queue",
		}, []string{"scope", "mode"}),
		jobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_jobs_skipped_total",
			Help: "Jobs rejected because the scope was already queued or running",
		}, []string{"scope"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_runs_finished_total",
			Help: "Sealed ingest runs by terminal status",
		}, []string{"scope", "status"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rows_written_total",
			Help: "Rows upserted by ingest runs",
		}, []string{"scope", "kind"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Wall time of ingest runs",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
		}, []string{"scope"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_queue_length",
			Help: "Jobs waiting in the ingest queue",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_paused",
			Help: "1 while ingestion is paused",
		}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Control API latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(
		c.jobsEnqueued,
		c.jobsSkipped,
		c.runsFinished,
		c.rowsWritten,
		c.runDuration,
		c.queueLength,
		c.paused,
		c.httpRequests,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) JobEnqueued(scope, mode string) {
	if c == nil {
		return
	}
	c.jobsEnqueued.WithLabelValues(scope, mode).Inc()
}

func (c *Collector) JobSkipped(scope string) {
	if c == nil {
		return
	}
	c.jobsSkipped.WithLabelValues(scope).Inc()
}

func (c *Collector) QueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

func (c *Collector) Paused(p bool) {
	if c == nil {
		return
	}
	if p {
		c.paused.Set(1)
		return
	}
	c.paused.Set(0)
}

// RunFinished records a sealed run.
func (c *Collector) RunFinished(scope, status string, elapsed time.Duration, inserted, updated int64) {
	if c == nil {
		return
	}
	c.runsFinished.WithLabelValues(scope, status).Inc()
	c.runDuration.WithLabelValues(scope).Observe(elapsed.Seconds())
	c.rowsWritten.WithLabelValues(scope, "inserted").Add(float64(inserted))
	c.rowsWritten.WithLabelValues(scope, "updated").Add(float64(updated))
}

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
