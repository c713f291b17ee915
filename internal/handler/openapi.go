package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/fieldwatch/wkauth/internal/openapi"
)

// OpenAPIHandler serves the generated OpenAPI 3.1 document. The document is
// built on first request and reused.
type OpenAPIHandler struct {
	baseURL      string
	apiKeyHeader string

	once sync.Once
	doc  *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(baseURL, apiKeyHeader string) *OpenAPIHandler {
	return &OpenAPIHandler{baseURL: baseURL, apiKeyHeader: apiKeyHeader}
}

// ServeSpec returns the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.doc = openapi.Generate(h.baseURL, h.apiKeyHeader)
	})
	writeJSON(w, http.StatusOK, h.doc)
}
