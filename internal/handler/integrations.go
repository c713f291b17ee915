package handler

import (
	"net/http"

	"github.com/fieldwatch/wkauth/internal/audit"
	"github.com/fieldwatch/wkauth/internal/metrics"
	"github.com/fieldwatch/wkauth/internal/server/middleware"
	"github.com/fieldwatch/wkauth/internal/service"
)

// IntegrationHandler serves the endpoints called by integrated services.
type IntegrationHandler struct {
	tokens *service.TokenService
	audit  *audit.Logger
}

func NewIntegrationHandler(tokens *service.TokenService, aud *audit.Logger) *IntegrationHandler {
	return &IntegrationHandler{tokens: tokens, audit: aud}
}

// Ping confirms an API key works and echoes what it resolved to.
// GET /api/v1/integrations/ping
func (h *IntegrationHandler) Ping(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeSuccess(w, http.StatusOK, "pong", map[string]interface{}{
		"ok":          true,
		"auth":        "api_key",
		"user_id":     key.OwnerID,
		"key_id":      key.ID,
		"scope":       key.Scope,
		"server_time": serverTime(),
	})
}

// Token exchanges a signed, API-key-authenticated request for a short-lived
// bearer token carrying the key's owner and scope.
// POST /api/v1/integrations/token
func (h *IntegrationHandler) Token(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	access, expiresIn, err := h.tokens.Mint(key.OwnerID, string(key.Scope))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}
	metrics.RecordIssued("token")
	h.audit.Info(r.Context(), "token.issued",
		"owner_id", key.OwnerID, "key_id", key.ID, "scope", key.Scope,
		"client_id", middleware.GetHMACClientID(r.Context()),
		"request_id", middleware.GetRequestID(r.Context()), "ip", audit.ClientIP(r))

	writeSuccess(w, http.StatusOK, "Integration token issued", map[string]interface{}{
		"access":     access,
		"token_type": "Bearer",
		"expires_in": expiresIn,
	})
}

// WhoAmI echoes the claims of the presented integration token.
// GET /api/v1/integrations/whoami
func (h *IntegrationHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeSuccess(w, http.StatusOK, "Integration identity", map[string]interface{}{
		"sub":         p.Subject,
		"scope":       p.Scope,
		"server_time": serverTime(),
	})
}

// NextcloudPing is reachable with a valid request signature alone.
// GET /api/v1/integrations/nextcloud/ping
func (h *IntegrationHandler) NextcloudPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"client_id": middleware.GetHMACClientID(r.Context()),
	})
}
