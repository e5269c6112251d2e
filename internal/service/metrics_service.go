package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the portal core.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	broadcastSize   prometheus.Histogram
	submissionTotal *prometheus.CounterVec
}

// NewMetricsService registers the core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	broadcastSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_broadcast_recipients",
		Help:    "Recipients resolved per broadcast fan-out",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	submissionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "submissions_total",
		Help: "Submission operations by outcome",
	}, []string{"operation", "outcome"})

	registry.MustRegister(requestDuration, requestTotal, broadcastSize, submissionTotal)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		broadcastSize:   broadcastSize,
		submissionTotal: submissionTotal,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveBroadcast records the size of a completed fan-out.
func (s *MetricsService) ObserveBroadcast(recipients int) {
	s.broadcastSize.Observe(float64(recipients))
}

// CountSubmission records a submission engine operation outcome.
func (s *MetricsService) CountSubmission(operation, outcome string) {
	s.submissionTotal.WithLabelValues(operation, outcome).Inc()
}
