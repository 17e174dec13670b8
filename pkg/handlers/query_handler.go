package handlers

import (
	"encoding/json"
	stdErrors "errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/TFMV/tally/pkg/errors"
	"github.com/TFMV/tally/pkg/guard"
	"github.com/TFMV/tally/pkg/models"
	"github.com/TFMV/tally/pkg/services"
)

// Request bounds checked before a query reaches the guard.
const (
	MaxQueryLimit    = guard.HardLimit
	MaxCrosstabLimit = 1000
	maxBodyBytes     = 1 << 20
)

type queryMeta struct {
	Limit     int    `json:"limit"`
	RowCount  int    `json:"rowCount"`
	QueryKind string `json:"queryKind,omitempty"`
}

// validLimit reports whether limit is absent or a positive integer <= ceiling.
func validLimit(limit *float64, ceiling float64) bool {
	if limit == nil {
		return true
	}
	v := *limit
	return !math.IsNaN(v) && v == math.Trunc(v) && v >= 1 && v <= ceiling
}

func requestInvalid() *errors.Error {
	return errors.New(errors.CodeInvalidRequest, "Request payload failed validation.")
}

// Query handles POST /api/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stdErrors.As(err, &typeErr) {
			h.fail(w, r, requestInvalid().WithDetail("field", typeErr.Field))
			return
		}
		h.fail(w, r, errors.New(errors.CodeInvalidJSON, "Request body must be valid JSON."))
		return
	}
	if strings.TrimSpace(req.SQL) == "" || !validLimit(req.Limit, MaxQueryLimit) {
		h.fail(w, r, requestInvalid())
		return
	}

	resp, err := h.queries.Execute(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.ok(w,
		models.QueryResult{Columns: resp.Columns, Rows: resp.Rows},
		queryMeta{Limit: resp.Meta.Limit, RowCount: resp.Meta.RowCount, QueryKind: resp.Meta.QueryKind})
}

// Crosstab handles GET /api/crosstab?x=&y=&limit=&filters=.
func (h *Handler) Crosstab(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	filters, err := ParseFilters([]byte(params.Get("filters")))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	req := &services.CrosstabRequest{X: params.Get("x"), Y: params.Get("y"), Filters: filters}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			limit = math.NaN()
		}
		req.Limit = &limit
	}
	if req.X == "" || req.Y == "" || !validLimit(req.Limit, MaxCrosstabLimit) {
		h.fail(w, r, errors.New(errors.CodeInvalidRequest, "Query parameters failed validation."))
		return
	}

	ct, err := h.queries.Crosstab(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, ct, queryMeta{Limit: ct.Limit, RowCount: len(ct.Rows)})
}

// ColumnStats handles GET /api/stats/{column}.
func (h *Handler) ColumnStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.queries.ColumnStats(r.Context(), r.PathValue("column"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, st, nil)
}
