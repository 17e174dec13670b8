package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_IncrementCounter(t *testing.T) {
	collector := NewPrometheusCollector(prometheus.NewRegistry())
	collector.IncrementCounter(QueriesTotal, "backend", "cli", "status", "ok")
	collector.IncrementCounter(QueriesTotal, "backend", "cli", "status", "ok")
	collector.IncrementCounter(QueriesTotal, "backend", "cli", "status", "error")

	counter := collector.counters[QueriesTotal]
	require.NotNil(t, counter)
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("cli", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("cli", "error")))
}

func TestPrometheusCollector_RecordHistogram(t *testing.T) {
	collector := NewPrometheusCollector(prometheus.NewRegistry())
	collector.RecordHistogram(QueryDuration, 0.3, "backend", "embedded")

	histogram := collector.histograms[QueryDuration]
	require.NotNil(t, histogram)
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestPrometheusCollector_RecordGauge(t *testing.T) {
	collector := NewPrometheusCollector(prometheus.NewRegistry())
	collector.RecordGauge(RelationshipsCurrent, 42.0, "metric", "cramers_v")

	gauge := collector.gauges[RelationshipsCurrent]
	require.NotNil(t, gauge)
	assert.Equal(t, 42.0, testutil.ToFloat64(gauge.WithLabelValues("cramers_v")))
}

func TestPrometheusCollector_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusCollector(reg)
	b := NewPrometheusCollector(reg)

	RecordQuery(a, "cli", "ok", 10*time.Millisecond)
	RecordQuery(b, "cli", "ok", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.counters[QueriesTotal].WithLabelValues("cli", "ok")))
}

func TestPrometheusCollector_Concurrent(t *testing.T) {
	collector := NewPrometheusCollector(prometheus.NewRegistry())

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				collector.IncrementCounter(PairsComputed, "metric", "correlation")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, 800.0, testutil.ToFloat64(collector.counters[PairsComputed].WithLabelValues("correlation")))
}

func TestParseLabelPairs(t *testing.T) {
	tests := []struct {
		name       string
		labels     []string
		wantNames  []string
		wantValues []string
	}{
		{"empty labels", []string{}, []string{}, []string{}},
		{"single pair", []string{"key1", "value1"}, []string{"key1"}, []string{"value1"}},
		{"multiple pairs", []string{"key1", "value1", "key2", "value2"}, []string{"key1", "key2"}, []string{"value1", "value2"}},
		{"odd number of labels", []string{"key1", "value1", "key2"}, []string{"key1"}, []string{"value1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, values := parseLabelPairs(tt.labels)
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantValues, values)
		})
	}
}

func TestServer_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewPrometheusCollector(reg)
	RecordQuery(collector, "cli", "ok", 5*time.Millisecond)

	server := NewServer(":0", "", reg)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `tally_queries_total{backend="cli",status="ok"} 1`))
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", "/metrics", prometheus.NewRegistry())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, server.Stop(context.Background()))
	assert.NoError(t, <-errCh)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", "", nil)
	assert.NoError(t, server.Stop(context.Background()))
}
