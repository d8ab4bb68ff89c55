package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the attendance pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	eventsAdmitted  prometheus.Counter
	eventsDuplicate prometheus.Counter
	rowsFinalized   prometheus.Counter
	smsDispatched   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
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

	eventsAdmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_events_admitted_total",
		Help: "Total camera events admitted into the event store",
	})

	eventsDuplicate := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_events_duplicate_total",
		Help: "Total camera events rejected as duplicates",
	})

	rowsFinalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_rows_finalized_total",
		Help: "Total ledger rows resolved by finalize passes",
	})

	smsDispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "absence_sms_dispatched_total",
		Help: "Absence notifications by delivery status",
	}, []string{"status"})

	registry.MustRegister(requestDuration, requestTotal, eventsAdmitted, eventsDuplicate, rowsFinalized, smsDispatched)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		eventsAdmitted:  eventsAdmitted,
		eventsDuplicate: eventsDuplicate,
		rowsFinalized:   rowsFinalized,
		smsDispatched:   smsDispatched,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// CountEventAdmitted increments the admitted-event counter.
func (s *MetricsService) CountEventAdmitted() { s.eventsAdmitted.Inc() }

// CountEventDuplicate increments the duplicate-event counter.
func (s *MetricsService) CountEventDuplicate() { s.eventsDuplicate.Inc() }

// CountFinalized adds resolved rows from one finalize pass.
func (s *MetricsService) CountFinalized(n int) {
	if n > 0 {
		s.rowsFinalized.Add(float64(n))
	}
}

// CountSMSDispatched increments the dispatch counter for a delivery status.
func (s *MetricsService) CountSMSDispatched(status string) {
	s.smsDispatched.WithLabelValues(status).Inc()
}
