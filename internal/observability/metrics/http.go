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

	queryTotal        *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	evidenceItems     *prometheus.HistogramVec
	groundingScore    *prometheus.HistogramVec
	degradedStages    *prometheus.CounterVec
	policyDenials     *prometheus.CounterVec
	generationFailure *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "audit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "audit",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total completed query pipeline runs by intent.",
		},
		[]string{"service", "endpoint", "intent"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "audit",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	evidenceItems := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "audit",
			Subsystem: "query",
			Name:      "evidence_items",
			Help:      "Distribution of evidence items per answered query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "endpoint"},
	)
	groundingScore := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "audit",
			Subsystem: "query",
			Name:      "grounding_score",
			Help:      "Distribution of grounding scores per answered query.",
			Buckets:   []float64{0, 0.25, 0.5, 0.7, 0.75, 0.8, 0.9, 0.95, 1},
		},
		[]string{"service", "endpoint"},
	)
	degradedStages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "query",
			Name:      "degraded_stages_total",
			Help:      "Total pipeline stages that fell back to a degraded path.",
		},
		[]string{"service", "stage"},
	)
	policyDenials := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "policy",
			Name:      "denials_total",
			Help:      "Total denied queries by endpoint.",
		},
		[]string{"service", "endpoint"},
	)
	generationFailure := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "query",
			Name:      "generation_failures_total",
			Help:      "Total queries answered with the apology fallback.",
		},
		[]string{"service", "endpoint"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		queryTotal,
		queryDuration,
		evidenceItems,
		groundingScore,
		degradedStages,
		policyDenials,
		generationFailure,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		queryTotal:        queryTotal,
		queryDuration:     queryDuration,
		evidenceItems:     evidenceItems,
		groundingScore:    groundingScore,
		degradedStages:    degradedStages,
		policyDenials:     policyDenials,
		generationFailure: generationFailure,
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
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordQuery(service, endpoint, intent string, evidenceCount int, groundingScore float64, duration time.Duration) {
	if intent == "" {
		intent = "unknown"
	}
	m.queryTotal.WithLabelValues(service, endpoint, intent).Inc()
	m.queryDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
	m.evidenceItems.WithLabelValues(service, endpoint).Observe(float64(evidenceCount))
	m.groundingScore.WithLabelValues(service, endpoint).Observe(groundingScore)
}

func (m *HTTPServerMetrics) RecordDegradedStages(service string, stages []string) {
	for _, stage := range stages {
		// Per-scope stages share one series per concern.
		if i := strings.IndexByte(stage, ':'); i > 0 {
			stage = stage[:i]
		}
		m.degradedStages.WithLabelValues(service, stage).Inc()
	}
}

func (m *HTTPServerMetrics) RecordPolicyDenial(service, endpoint string) {
	m.policyDenials.WithLabelValues(service, endpoint).Inc()
}

func (m *HTTPServerMetrics) RecordGenerationFailure(service, endpoint string) {
	m.generationFailure.WithLabelValues(service, endpoint).Inc()
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
