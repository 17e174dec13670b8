// Package metrics provides metrics collection for the query layer and the
// statistics jobs.
package metrics

import (
	"time"
)

// Metric names recorded by tally.
const (
	QueriesTotal         = "tally_queries_total"
	QueryDuration        = "tally_query_duration_seconds"
	BackendFallbacks     = "tally_backend_fallbacks_total"
	GuardRejections      = "tally_guard_rejections_total"
	InjectionAdvisories  = "tally_injection_advisories_total"
	PairsComputed        = "tally_pairs_computed_total"
	HTTPRequestsTotal    = "tally_http_requests_total"
	HTTPRequestDuration  = "tally_http_request_duration_seconds"
	RelationshipsCurrent = "tally_relationships"
	CacheLookups         = "tally_cache_lookups_total"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncrementCounter increments a counter metric.
	IncrementCounter(name string, labels ...string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(name string, value float64, labels ...string)

	// RecordGauge records a gauge metric value.
	RecordGauge(name string, value float64, labels ...string)

	// StartTimer starts a timer for measuring duration.
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	// Stop stops the timer and returns the duration in seconds.
	Stop() float64
}

// RecordQuery records one executed query: a count by backend and status and
// its duration by backend.
func RecordQuery(c Collector, backend, status string, d time.Duration) {
	c.IncrementCounter(QueriesTotal, "backend", backend, "status", status)
	c.RecordHistogram(QueryDuration, d.Seconds(), "backend", backend)
}

// NoOpCollector is a no-op implementation of Collector.
type NoOpCollector struct{}

// NewNoOpCollector creates a new no-op collector.
func NewNoOpCollector() Collector {
	return &NoOpCollector{}
}

// IncrementCounter does nothing.
func (n *NoOpCollector) IncrementCounter(name string, labels ...string) {}

// RecordHistogram does nothing.
func (n *NoOpCollector) RecordHistogram(name string, value float64, labels ...string) {}

// RecordGauge does nothing.
func (n *NoOpCollector) RecordGauge(name string, value float64, labels ...string) {}

// StartTimer returns a no-op timer.
func (n *NoOpCollector) StartTimer(name string) Timer {
	return &timer{start: time.Now()}
}

type timer struct {
	start time.Time
}

// Stop returns the elapsed time in seconds.
func (t *timer) Stop() float64 {
	return time.Since(t.start).Seconds()
}
