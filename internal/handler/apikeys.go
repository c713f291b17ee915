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

// APIKeyHandler serves owner self-service management of API keys.
type APIKeyHandler struct {
	keys  *service.APIKeyService
	audit *audit.Logger
}

func NewAPIKeyHandler(keys *service.APIKeyService, aud *audit.Logger) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, audit: aud}
}

type apiKeyView struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Scope      model.Scope `json:"scope"`
	Prefix     string      `json:"prefix"`
	Last4      string      `json:"last4"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  *time.Time  `json:"expires_at"`
	RevokedAt  *time.Time  `json:"revoked_at"`
	LastUsedAt *time.Time  `json:"last_used_at"`
	APIKey     *string     `json:"api_key,omitempty"`
}

func toAPIKeyView(k *model.APIKey, plaintext string) apiKeyView {
	v := apiKeyView{
		ID:         k.ID,
		Name:       k.Name,
		Scope:      k.Scope,
		Prefix:     k.Prefix,
		Last4:      k.Last4,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		RevokedAt:  k.RevokedAt,
		LastUsedAt: k.LastUsedAt,
	}
	if plaintext != "" {
		v.APIKey = &plaintext
	}
	return v
}

func ownerID(r *http.Request) string {
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		return p.Subject
	}
	return ""
}

// requireOwner returns the caller's owner id. An empty id would widen store
// lookups to every owner, so it is answered with 401.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := ownerID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return "", false
	}
	return id, true
}

// List returns the caller's keys. Secrets are never included.
// GET /api/v1/api-keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	keys, err := h.keys.List(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err, "Failed to list API keys")
		return
	}
	out := make([]apiKeyView, 0, len(keys))
	for i := range keys {
		out = append(out, toAPIKeyView(&keys[i], ""))
	}
	writeSuccess(w, http.StatusOK, "API keys", out)
}

type createAPIKeyRequest struct {
	Name      string      `json:"name"`
	Scope     model.Scope `json:"scope"`
	ExpiresAt *time.Time  `json:"expires_at"`
}

// Create issues a key and returns its plaintext once.
// POST /api/v1/api-keys
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, plaintext, err := h.keys.Create(r.Context(), owner, req.Name, req.Scope, req.ExpiresAt)
	if err != nil {
		writeServiceError(w, err, "Failed to create API key")
		return
	}
	metrics.RecordIssued("api_key")
	h.audit.Info(r.Context(), "api_key.created",
		"owner_id", key.OwnerID, "key_id", key.ID, "scope", key.Scope,
		"request_id", middleware.GetRequestID(r.Context()), "ip", audit.ClientIP(r))

	writeSuccess(w, http.StatusCreated, "API key created", toAPIKeyView(key, plaintext))
}

// Revoke retires one of the caller's keys. Revoking twice is not an error.
// DELETE /api/v1/api-keys/{keyId}
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	key, err := h.keys.Get(r.Context(), owner, chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, err, "Failed to load API key")
		return
	}
	already, err := h.keys.Revoke(r.Context(), key)
	if err != nil {
		writeServiceError(w, err, "Failed to revoke API key")
		return
	}
	h.audit.Info(r.Context(), "api_key.revoked",
		"owner_id", key.OwnerID, "key_id", key.ID, "already_revoked", already,
		"request_id", middleware.GetRequestID(r.Context()), "ip", audit.ClientIP(r))

	writeSuccess(w, http.StatusOK, "API key revoked", nil)
}

type rotateAPIKeyRequest struct {
	Name      *string      `json:"name"`
	Scope     *model.Scope `json:"scope"`
	ExpiresAt nullableTime `json:"expires_at"`
}

// Rotate revokes a key and issues its replacement.
// POST /api/v1/api-keys/{keyId}/rotate
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req rotateAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, err := h.keys.Get(r.Context(), owner, chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, err, "Failed to load API key")
		return
	}

	opts := service.RotateOptions{Name: req.Name, Scope: req.Scope}
	if req.ExpiresAt.Set {
		opts.ExpiresAt = &req.ExpiresAt.Value
	}
	res, err := h.keys.Rotate(r.Context(), key, opts)
	if err != nil {
		writeServiceError(w, err, "Failed to rotate API key")
		return
	}
	metrics.RecordIssued("api_key")
	h.audit.Info(r.Context(), "api_key.rotated",
		"owner_id", key.OwnerID, "old_key_id", res.Old.ID, "new_key_id", res.New.ID,
		"rotated_from_revoked", res.AlreadyRevoked, "scope", res.New.Scope,
		"request_id", middleware.GetRequestID(r.Context()), "ip", audit.ClientIP(r))

	writeSuccess(w, http.StatusCreated, "API key rotated", toAPIKeyView(res.New, res.Plaintext))
}
