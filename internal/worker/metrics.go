package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	imagesTotal          *prometheus.CounterVec
	outputBytesTotal     prometheus.Counter
	pixelsTotal          prometheus.Counter
	webhookFailuresTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelaug_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelaug_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelaug_worker_active_jobs",
			Help: "Current number of active augmentation jobs in the worker.",
		}),
		imagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelaug_worker_images_total",
			Help: "Total augmented images by outcome.",
		}, []string{"status"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelaug_worker_output_bytes_total",
			Help: "Total encoded bytes written for augmented images.",
		}),
		pixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelaug_worker_output_pixels_total",
			Help: "Total pixels across augmented images.",
		}),
		webhookFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelaug_worker_webhook_failures_total",
			Help: "Total webhook deliveries that failed after retries.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.imagesTotal,
		m.outputBytesTotal,
		m.pixelsTotal,
		m.webhookFailuresTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
