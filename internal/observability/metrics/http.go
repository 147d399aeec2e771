package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	turnsTotal           *prometheus.CounterVec
	turnDuration         *prometheus.HistogramVec
	turnSearchTypeTotal  *prometheus.CounterVec
	refineLoops          *prometheus.HistogramVec
	approvalPendingTotal *prometheus.CounterVec
	resumeTotal          *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "asa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asa",
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Total completed turn walks by outcome.",
		},
		[]string{"service", "outcome"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asa",
			Subsystem: "orchestrator",
			Name:      "turn_duration_seconds",
			Help:      "Turn walk duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	turnSearchTypeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asa",
			Subsystem: "orchestrator",
			Name:      "search_type_total",
			Help:      "Total answered turns by routed search type.",
		},
		[]string{"service", "search_type"},
	)
	refineLoops := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asa",
			Subsystem: "orchestrator",
			Name:      "refine_loops",
			Help:      "Distribution of refinement loops per answered turn.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"service"},
	)
	approvalPendingTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asa",
			Subsystem: "orchestrator",
			Name:      "approval_suspensions_total",
			Help:      "Total turns suspended for human approval.",
		},
		[]string{"service"},
	)
	resumeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asa",
			Subsystem: "orchestrator",
			Name:      "resume_total",
			Help:      "Total resume decisions by verdict.",
		},
		[]string{"service", "verdict"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		turnsTotal,
		turnDuration,
		turnSearchTypeTotal,
		refineLoops,
		approvalPendingTotal,
		resumeTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		turnsTotal:           turnsTotal,
		turnDuration:         turnDuration,
		turnSearchTypeTotal:  turnSearchTypeTotal,
		refineLoops:          refineLoops,
		approvalPendingTotal: approvalPendingTotal,
		resumeTotal:          resumeTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/sessions/"):
		rest := strings.TrimPrefix(path, "/v1/sessions/")
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return "/v1/sessions/{session_id}" + rest[idx:]
		}
		return "/v1/sessions/{session_id}"
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

// RecordTurn counts a finished turn walk. Outcome is one of answered,
// answered_degraded, suspended, declined, error.
func (m *HTTPServerMetrics) RecordTurn(service, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.turnsTotal.WithLabelValues(service, outcome).Inc()
	m.turnDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordSearchType(service, searchType string) {
	if searchType == "" {
		searchType = "unknown"
	}
	m.turnSearchTypeTotal.WithLabelValues(service, searchType).Inc()
}

func (m *HTTPServerMetrics) RecordRefineLoops(service string, loops int) {
	if loops < 0 {
		return
	}
	m.refineLoops.WithLabelValues(service).Observe(float64(loops))
}

func (m *HTTPServerMetrics) RecordApprovalSuspension(service string) {
	m.approvalPendingTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordResume(service string, approved bool) {
	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	m.resumeTotal.WithLabelValues(service, verdict).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
