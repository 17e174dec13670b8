package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/TFMV/tally/pkg/infrastructure/metrics"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories/schema"
)

// mockExecutor implements repositories.Executor
type mockExecutor struct {
	mu           sync.Mutex
	queries      []string
	executeFunc  func(ctx context.Context, sql string) (*models.QueryResult, error)
	queryRowFunc func(ctx context.Context, sql string) (map[string]any, error)
}

func (m *mockExecutor) Execute(ctx context.Context, sql string, timeout time.Duration) (*models.QueryResult, error) {
	m.record(sql)
	if m.executeFunc != nil {
		return m.executeFunc(ctx, sql)
	}
	return &models.QueryResult{Columns: []string{}, Rows: [][]any{}}, nil
}

func (m *mockExecutor) QueryRow(ctx context.Context, sql string, timeout time.Duration) (map[string]any, error) {
	m.record(sql)
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql)
	}
	return map[string]any{}, nil
}

func (m *mockExecutor) record(sql string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, sql)
}

func (m *mockExecutor) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// mockLogger implements Logger
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) log(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, level+": "+msg)
}

func (m *mockLogger) Debug(msg string, keysAndValues ...interface{}) { m.log("debug", msg) }
func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  { m.log("info", msg) }
func (m *mockLogger) Warn(msg string, keysAndValues ...interface{})  { m.log("warn", msg) }
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) { m.log("error", msg) }

func (m *mockLogger) Logged(level string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		if strings.HasPrefix(msg, level+": ") {
			out = append(out, strings.TrimPrefix(msg, level+": "))
		}
	}
	return out
}

// mockMetricsCollector implements metrics.Collector
type mockMetricsCollector struct {
	mu       sync.Mutex
	counters map[string][][]string
	gauges   map[string]float64
}

func newMockMetricsCollector() *mockMetricsCollector {
	return &mockMetricsCollector{
		counters: make(map[string][][]string),
		gauges:   make(map[string]float64),
	}
}

func (m *mockMetricsCollector) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = append(m.counters[name], labels)
}

func (m *mockMetricsCollector) RecordHistogram(name string, value float64, labels ...string) {}

func (m *mockMetricsCollector) RecordGauge(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

func (m *mockMetricsCollector) StartTimer(name string) metrics.Timer {
	return metrics.NewNoOpCollector().StartTimer(name)
}

func (m *mockMetricsCollector) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters[name])
}

func (m *mockMetricsCollector) Labels(name string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func result(columns []string, rows ...[]any) *models.QueryResult {
	if rows == nil {
		rows = [][]any{}
	}
	return &models.QueryResult{Columns: columns, Rows: rows}
}

func testSchema() *schema.FileRepository {
	return schema.New(models.Schema{
		Dataset: models.Dataset{Name: "survey"},
		Columns: []models.Column{
			{Name: "politics", DisplayName: "Politics", LogicalType: models.LogicalCategorical, ApproxCardinality: 3, Tags: []models.CategoryTag{models.TagDemographic}},
			{Name: "biomale", DisplayName: "Biological Sex", LogicalType: models.LogicalBoolean, ApproxCardinality: 2, Tags: []models.CategoryTag{models.TagDemographic}},
			{Name: "age", LogicalType: models.LogicalNumeric, ApproxCardinality: 60, Tags: []models.CategoryTag{models.TagDemographic}},
			{Name: "opennessvariable", LogicalType: models.LogicalNumeric, ApproxCardinality: 40, Tags: []models.CategoryTag{models.TagOcean}},
			{Name: "neuroticismvariable", LogicalType: models.LogicalNumeric, ApproxCardinality: 40, Tags: []models.CategoryTag{models.TagOcean}},
			{Name: "totalfetishcategory", LogicalType: models.LogicalNumeric, ApproxCardinality: 30, Tags: []models.CategoryTag{models.TagDerived}},
			{Name: "receivepain", DisplayName: "Receiving Pain", LogicalType: models.LogicalNumeric, ApproxCardinality: 5, Tags: []models.CategoryTag{models.TagFetish}},
		},
	})
}
