// Package handlers serves the HTTP JSON boundary of the query layer. Every
// response is an envelope: {ok:true, data, meta} or {ok:false, error}.
package handlers

import (
	"net/http"
	"time"

	"github.com/TFMV/tally/pkg/repositories"
	"github.com/TFMV/tally/pkg/services"
)

// Logger defines the logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Handler routes API requests to the query service and the cohort profiler.
type Handler struct {
	queries services.QueryService
	cohorts services.CohortProfiler
	schema  repositories.SchemaRepository
	logger  Logger
	now     func() time.Time
}

// New creates a Handler.
func New(
	queries services.QueryService,
	cohorts services.CohortProfiler,
	schema repositories.SchemaRepository,
	logger Logger,
) *Handler {
	return &Handler{
		queries: queries,
		cohorts: cohorts,
		schema:  schema,
		logger:  logger,
		now:     time.Now,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Query)
	mux.HandleFunc("GET /api/crosstab", h.Crosstab)
	mux.HandleFunc("GET /api/stats/{column}", h.ColumnStats)
	mux.HandleFunc("POST /api/cohort", h.Cohort)
	mux.HandleFunc("GET /api/schema", h.Schema)
	mux.HandleFunc("GET /api/health", h.Health)
}
