package middleware

import (
	"net/http"
	"strconv"

	"github.com/TFMV/tally/pkg/infrastructure/metrics"
)

// MetricsMiddleware provides metrics collection middleware.
type MetricsMiddleware struct {
	collector metrics.Collector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector metrics.Collector) *MetricsMiddleware {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	return &MetricsMiddleware{
		collector: collector,
	}
}

// Handler counts requests by route and status and records their duration.
func (m *MetricsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := m.collector.StartTimer("http_request")
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		duration := timer.Stop()
		m.collector.RecordHistogram(metrics.HTTPRequestDuration, duration, "route", route(r))
		m.collector.IncrementCounter(metrics.HTTPRequestsTotal,
			"route", route(r),
			"method", r.Method,
			"status", strconv.Itoa(rec.Status()))
	})
}
