package handlers

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"

	"github.com/TFMV/tally/pkg/errors"
)

type envelope struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Meta  any           `json:"meta,omitempty"`
	Error *errors.Error `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) ok(w http.ResponseWriter, data, meta any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data, Meta: meta})
}

// fail writes the error envelope. Server-side failures hide their cause.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	apiErr := &errors.Error{Code: errors.GetCode(err), Message: errors.GetMessage(err)}

	var coded *errors.Error
	if stdErrors.As(err, &coded) {
		apiErr.Details = coded.Details
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err, "path", r.URL.Path, "code", apiErr.Code)
		apiErr = errors.New(errors.CodeInternal, "An internal error occurred.")
	} else {
		h.logger.Debug("Request rejected", "path", r.URL.Path, "code", apiErr.Code, "status", status)
	}

	writeJSON(w, status, envelope{OK: false, Error: apiErr})
}
