package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/repositories/schema"
	"github.com/TFMV/tally/pkg/services"
)

// MockQueryService is a mock implementation of services.QueryService
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Execute(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueryResponse), args.Error(1)
}

func (m *MockQueryService) Crosstab(ctx context.Context, req *services.CrosstabRequest) (*models.Crosstab, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Crosstab), args.Error(1)
}

func (m *MockQueryService) ColumnStats(ctx context.Context, column string) (*models.ColumnStats, error) {
	args := m.Called(ctx, column)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ColumnStats), args.Error(1)
}

// MockCohortProfiler is a mock implementation of services.CohortProfiler
type MockCohortProfiler struct {
	mock.Mock
	services.CohortProfiler
}

func (m *MockCohortProfiler) Summary(ctx context.Context, filters []models.Filter, metrics, candidates []string) (*models.CohortSummary, error) {
	args := m.Called(ctx, filters, metrics, candidates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CohortSummary), args.Error(1)
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func setup(t *testing.T) (*http.ServeMux, *MockQueryService, *MockCohortProfiler) {
	t.Helper()
	queries := &MockQueryService{}
	cohorts := &MockCohortProfiler{}
	repo := schema.New(models.Schema{
		Dataset: models.Dataset{Name: "survey", RowCount: 10},
		Columns: []models.Column{{Name: "politics", LogicalType: models.LogicalCategorical}},
	})

	h := New(queries, cohorts, repo, nopLogger{})
	h.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	mux := http.NewServeMux()
	h.Register(mux)
	t.Cleanup(func() {
		queries.AssertExpectations(t)
		cohorts.AssertExpectations(t)
	})
	return mux, queries, cohorts
}

func do(t *testing.T, mux *http.ServeMux, method, target, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestQuery(t *testing.T) {
	mux, queries, _ := setup(t)
	queries.On("Execute", mock.Anything, mock.MatchedBy(func(req *models.QueryRequest) bool {
		return req.SQL == "SELECT 1 AS n" && req.Limit != nil && *req.Limit == 5
	})).Return(&models.QueryResponse{
		Columns: []string{"n"},
		Rows:    [][]any{{1.0}},
		Meta:    models.QueryMeta{Limit: 5, RowCount: 1, QueryKind: "SELECT"},
	}, nil)

	status, resp := do(t, mux, http.MethodPost, "/api/query", `{"sql":"SELECT 1 AS n","limit":5}`)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"columns":["n"],"rows":[[1]]}`, string(resp.Data))
	assert.Equal(t, map[string]any{"limit": 5.0, "rowCount": 1.0, "queryKind": "SELECT"}, resp.Meta)
}

func TestQuery_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed json", `{"sql":`, nil, http.StatusBadRequest, errors.CodeInvalidJSON},
		{"empty body", ``, nil, http.StatusBadRequest, errors.CodeInvalidJSON},
		{"wrong type", `{"sql":5}`, nil, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"blank sql", `{"sql":"  "}`, nil, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"fractional limit", `{"sql":"SELECT 1","limit":2.5}`, nil, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"limit too large", `{"sql":"SELECT 1","limit":10001}`, nil, http.StatusBadRequest, errors.CodeInvalidRequest},
		{"guard rejection", `{"sql":"DROP TABLE data"}`, errors.New(errors.CodeReadOnlyRequired, "Only SELECT/WITH/DESCRIBE/EXPLAIN statements are allowed."), http.StatusBadRequest, errors.CodeReadOnlyRequired},
		{"timeout", `{"sql":"SELECT 1"}`, errors.New(errors.CodeQueryTimeout, "Query timed out after 5000ms."), http.StatusRequestTimeout, errors.CodeQueryTimeout},
		{"internal", `{"sql":"SELECT 1"}`, assert.AnError, http.StatusInternalServerError, errors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, queries, _ := setup(t)
			if tt.err != nil {
				queries.On("Execute", mock.Anything, mock.Anything).Return(nil, tt.err)
			}

			status, resp := do(t, mux, http.MethodPost, "/api/query", tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, resp.OK)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, assert.AnError.Error())
		})
	}
}

func TestCrosstab(t *testing.T) {
	mux, queries, _ := setup(t)
	queries.On("Crosstab", mock.Anything, mock.MatchedBy(func(req *services.CrosstabRequest) bool {
		return req.X == "politics" && req.Y == "biomale" && *req.Limit == 50 &&
			len(req.Filters) == 2 &&
			req.Filters[0].Column == "politics" && req.Filters[0].IsSet && len(req.Filters[0].Values) == 2 &&
			req.Filters[1].Column == "age" && req.Filters[1].Value == 30.0
	})).Return(&models.Crosstab{
		X:     "politics",
		Y:     "biomale",
		Rows:  []models.CrosstabCell{{X: "Liberal", Y: 1.0, Count: 12}},
		Limit: 50,
	}, nil)

	filters := url.QueryEscape(`{"politics":["Liberal",null],"age":30}`)
	status, resp := do(t, mux, http.MethodGet, "/api/crosstab?x=politics&y=biomale&limit=50&filters="+filters, "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"x":"politics","y":"biomale","rows":[{"x":"Liberal","y":1,"count":12}]}`, string(resp.Data))
	assert.Equal(t, map[string]any{"limit": 50.0, "rowCount": 1.0}, resp.Meta)
}

func TestCrosstab_Errors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
		code   string
	}{
		{"bad filters json", "x=a&y=b&filters=" + url.QueryEscape(`{"a":`), http.StatusBadRequest, errors.CodeInvalidFilters},
		{"nested filter", "x=a&y=b&filters=" + url.QueryEscape(`{"a":{"b":1}}`), http.StatusBadRequest, errors.CodeInvalidRequest},
		{"missing y", "x=a", http.StatusBadRequest, errors.CodeInvalidRequest},
		{"bad limit", "x=a&y=b&limit=abc", http.StatusBadRequest, errors.CodeInvalidRequest},
		{"limit over crosstab max", "x=a&y=b&limit=1001", http.StatusBadRequest, errors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _, _ := setup(t)
			status, resp := do(t, mux, http.MethodGet, "/api/crosstab?"+tt.query, "")
			assert.Equal(t, tt.status, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCrosstab_ColumnNotFound(t *testing.T) {
	mux, queries, _ := setup(t)
	queries.On("Crosstab", mock.Anything, mock.Anything).Return(nil,
		errors.New(errors.CodeColumnNotFound, "x or y column was not found in schema metadata.").WithDetail("x", "nope"))

	status, resp := do(t, mux, http.MethodGet, "/api/crosstab?x=nope&y=politics", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errors.CodeColumnNotFound, resp.Error.Code)
	assert.Equal(t, "nope", resp.Error.Details["x"])
}

func TestColumnStats(t *testing.T) {
	mux, queries, _ := setup(t)
	queries.On("ColumnStats", mock.Anything, "What's your age?").Return(&models.ColumnStats{
		Column: "What's your age?", Kind: "numeric", TotalCount: 10,
	}, nil)
	queries.On("ColumnStats", mock.Anything, "missing").Return(nil,
		errors.Newf(errors.CodeColumnNotFound, "Column '%s' not found.", "missing"))

	status, resp := do(t, mux, http.MethodGet, "/api/stats/"+url.PathEscape("What's your age?"), "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"kind":"numeric"`)
	assert.Nil(t, resp.Meta)

	status, resp = do(t, mux, http.MethodGet, "/api/stats/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Column 'missing' not found.", resp.Error.Message)
}

func TestCohort(t *testing.T) {
	mux, _, cohorts := setup(t)
	cohorts.On("Summary", mock.Anything,
		[]models.Filter{models.Eq("politics", "Liberal")},
		[]string{"age"},
		[]string{"biomale"},
	).Return(&models.CohortSummary{TotalSize: 100, CohortSize: 25, CohortShare: 25}, nil)

	status, resp := do(t, mux, http.MethodPost, "/api/cohort",
		`{"filters":{"politics":"Liberal"},"metrics":["age"],"candidates":["biomale"]}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"cohortShare":25`)

	status, resp = do(t, mux, http.MethodPost, "/api/cohort", `nope`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errors.CodeInvalidJSON, resp.Error.Code)

	status, resp = do(t, mux, http.MethodPost, "/api/cohort", `{"filters":{"age":{"gt":3}}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errors.CodeInvalidRequest, resp.Error.Code)

	status, resp = do(t, mux, http.MethodPost, "/api/cohort", `{"filters":[1]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errors.CodeInvalidRequest, resp.Error.Code)
}

func TestSchemaAndHealth(t *testing.T) {
	mux, _, _ := setup(t)

	status, resp := do(t, mux, http.MethodGet, "/api/schema", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"name":"politics"`)
	assert.Equal(t, 3600.0, resp.Meta["cacheTtlSeconds"])

	status, resp = do(t, mux, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"healthy","timestamp":"2024-05-01T00:00:00Z"}`, string(resp.Data))
}

func TestParseFilters(t *testing.T) {
	filters, err := ParseFilters([]byte(`{"b":[1,true,null],"a":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, []models.Filter{
		models.OneOf("b", 1.0, true, nil),
		models.Eq("a", "x"),
	}, filters)

	filters, err = ParseFilters([]byte(`{"z":1,"a":2,"z":3}`))
	require.NoError(t, err)
	assert.Equal(t, []models.Filter{models.Eq("z", 3.0), models.Eq("a", 2.0)}, filters)

	filters, err = ParseFilters([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, filters)

	filters, err = ParseFilters([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, filters)

	_, err = ParseFilters([]byte(`[1]`))
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))

	_, err = ParseFilters([]byte(`{"a":[[1]]}`))
	assert.Equal(t, errors.CodeInvalidRequest, errors.GetCode(err))
}
