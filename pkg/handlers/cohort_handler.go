package handlers

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"

	"github.com/TFMV/tally/pkg/errors"
)

type cohortRequest struct {
	Filters    filterList `json:"filters"`
	Metrics    []string   `json:"metrics"`
	Candidates []string   `json:"candidates"`
}

// Cohort handles POST /api/cohort: sizes, percentile cards and the
// over-indexing ranking of the cohort selected by filters.
func (h *Handler) Cohort(w http.ResponseWriter, r *http.Request) {
	var req cohortRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var coded *errors.Error
		if stdErrors.As(err, &coded) {
			h.fail(w, r, coded)
			return
		}
		h.fail(w, r, errors.New(errors.CodeInvalidJSON, "Request body must be valid JSON."))
		return
	}

	summary, err := h.cohorts.Summary(r.Context(), req.Filters, req.Metrics, req.Candidates)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, summary, nil)
}
