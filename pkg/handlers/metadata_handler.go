package handlers

import (
	"net/http"
	"time"

	"github.com/TFMV/tally/pkg/models"
)

// SchemaCacheTTL is advertised to clients of /api/schema; the column
// metadata only changes on redeploy.
const SchemaCacheTTL = time.Hour

type schemaData struct {
	Dataset models.Dataset  `json:"dataset"`
	Columns []models.Column `json:"columns"`
}

type healthData struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Schema handles GET /api/schema.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	h.ok(w,
		schemaData{Dataset: h.schema.Dataset(), Columns: h.schema.Columns()},
		map[string]any{"cacheTtlSeconds": int(SchemaCacheTTL / time.Second)})
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.ok(w, healthData{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
	}, nil)
}
