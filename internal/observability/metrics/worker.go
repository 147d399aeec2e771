package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics tracks document processing throughput for the worker process.
// Each instance owns its registry so Handler exposes only worker series.
type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	constLabels := prometheus.Labels{"service": service}

	m := &WorkerMetrics{
		registry: prometheus.NewRegistry(),
		processTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "asa",
				Subsystem:   "worker",
				Name:        "document_process_total",
				Help:        "Total processed documents by status.",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		processDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   "asa",
				Subsystem:   "worker",
				Name:        "document_process_duration_seconds",
				Help:        "Document processing duration in seconds by status.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		processInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   "asa",
				Subsystem:   "worker",
				Name:        "document_process_in_flight",
				Help:        "Number of in-flight document processing tasks.",
				ConstLabels: constLabels,
			},
		),
	}

	m.registry.MustRegister(m.processTotal, m.processDuration, m.processInFlight)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.processTotal.WithLabelValues(status).Inc()
	m.processDuration.WithLabelValues(status).Observe(duration.Seconds())
}
