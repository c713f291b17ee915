package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldwatch/wkauth/internal/audit"
	"github.com/fieldwatch/wkauth/internal/metrics"
	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/server/middleware"
	"github.com/fieldwatch/wkauth/internal/service"
)

// ClientHandler serves admin management of integration clients.
type ClientHandler struct {
	clients *service.ClientService
	overlap time.Duration
	audit   *audit.Logger
}

func NewClientHandler(clients *service.ClientService, overlap time.Duration, aud *audit.Logger) *ClientHandler {
	return &ClientHandler{clients: clients, overlap: overlap, audit: aud}
}

// ---------------------------------------------------------------------------
// Serializers
// ---------------------------------------------------------------------------

func clientToMap(c *model.IntegrationClient) map[string]interface{} {
	return map[string]interface{}{
		"id":                  c.ID,
		"name":                c.Name,
		"client_id":           c.ClientID,
		"is_active":           c.IsActive,
		"rotated_at":          c.RotatedAt,
		"previous_expires_at": c.PreviousExpiresAt,
		"created_at":          c.CreatedAt,
		"updated_at":          c.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// List returns every client. Secrets are never included.
// GET /api/v1/integrations/clients
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.clients.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list integration clients")
		return
	}
	out := make([]map[string]interface{}, 0, len(clients))
	for i := range clients {
		out = append(out, clientToMap(&clients[i]))
	}
	writeSuccess(w, http.StatusOK, "Integration clients", out)
}

type createClientRequest struct {
	Name     string `json:"name"`
	IsActive *bool  `json:"is_active"`
}

// Create registers a client and returns its secret once.
// POST /api/v1/integrations/clients
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	c, plaintext, err := h.clients.Create(r.Context(), req.Name, active)
	if err != nil {
		writeServiceError(w, err, "Failed to create integration client")
		return
	}
	metrics.RecordIssued("client")
	h.audit.Info(r.Context(), "client.created",
		"client_id", c.ClientID, "actor", ownerID(r),
		"request_id", middleware.GetRequestID(r.Context()))

	writeSuccess(w, http.StatusCreated, "Integration client created", map[string]interface{}{
		"id":            c.ID,
		"name":          c.Name,
		"client_id":     c.ClientID,
		"client_secret": plaintext,
	})
}

// Get returns one client.
// GET /api/v1/integrations/clients/{id}
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.clients.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "Failed to load integration client")
		return
	}
	writeSuccess(w, http.StatusOK, "Integration client", clientToMap(c))
}

type updateClientRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

// Update changes a client's name or active flag.
// PATCH /api/v1/integrations/clients/{id}
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateClientRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	c, err := h.clients.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.IsActive)
	if err != nil {
		writeServiceError(w, err, "Failed to update integration client")
		return
	}
	h.audit.Info(r.Context(), "client.updated",
		"client_id", c.ClientID, "is_active", c.IsActive, "actor", ownerID(r),
		"request_id", middleware.GetRequestID(r.Context()))

	writeSuccess(w, http.StatusOK, "Integration client updated", clientToMap(c))
}

// RotateSecret issues a new secret. The old one stays valid for the
// configured overlap window.
// POST /api/v1/integrations/clients/{id}/rotate-secret
func (h *ClientHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	c, plaintext, err := h.clients.RotateSecret(r.Context(), chi.URLParam(r, "id"), h.overlap)
	if err != nil {
		writeServiceError(w, err, "Failed to rotate client secret")
		return
	}
	metrics.RecordIssued("client_secret")
	h.audit.Info(r.Context(), "client.secret_rotated",
		"client_id", c.ClientID, "previous_valid_until", c.PreviousExpiresAt, "actor", ownerID(r),
		"request_id", middleware.GetRequestID(r.Context()))

	writeSuccess(w, http.StatusOK, "Integration client secret rotated", map[string]interface{}{
		"client_id":            c.ClientID,
		"client_secret":        plaintext,
		"previous_valid_until": c.PreviousExpiresAt,
	})
}
