package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fieldwatch/wkauth/internal/audit"
	"github.com/fieldwatch/wkauth/internal/config"
	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/service"
	"github.com/fieldwatch/wkauth/internal/signing"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
	// APIKeyKey is the context key for the authenticated API key record.
	APIKeyKey contextKeyAuth = "api_key"
	// HMACClientKey is the context key for the verified HMAC client id.
	HMACClientKey contextKeyAuth = "hmac_client"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidSignature   = "Invalid request signature"
)

// OwnerDirectory looks up owners by id.
type OwnerDirectory interface {
	GetOwner(ctx context.Context, id string) (*model.Owner, error)
}

// APIKey authenticates the request by the API key in header. The key's owner
// must exist and be active. Every failure is answered with the same 401 body;
// the audit log records the reason. Successful requests refresh the key's
// last_used_at, at most once per touch interval.
func APIKey(keys *service.APIKeyService, owners OwnerDirectory, header string, aud *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				aud.Failure(r.Context(), audit.NewEvent(r, audit.KindAPIKey, string(service.ReasonInvalid), GetRequestID(r.Context())))
				writeAuthError(w, http.StatusUnauthorized, msgInvalidCredentials)
				return
			}

			key, reason, err := keys.Authenticate(r.Context(), raw)
			if err != nil || reason != service.ReasonOK {
				e := audit.NewEvent(r, audit.KindAPIKey, string(reason), GetRequestID(r.Context()))
				e.KeyPrefix = audit.MaskKey(raw)
				aud.Failure(r.Context(), e)
				if err != nil {
					aud.Info(r.Context(), "api_key.lookup_error", "error", err)
				}
				writeAuthError(w, http.StatusUnauthorized, msgInvalidCredentials)
				return
			}

			owner, err := owners.GetOwner(r.Context(), key.OwnerID)
			if err != nil && !errors.Is(err, config.ErrNotFound) {
				aud.Info(r.Context(), "api_key.owner_lookup_error", "key_id", key.ID, "error", err)
				writeAuthError(w, http.StatusServiceUnavailable, "Service unavailable")
				return
			}
			if err != nil || !owner.IsActive {
				e := audit.NewEvent(r, audit.KindAPIKey, "owner_inactive", GetRequestID(r.Context()))
				e.KeyPrefix = audit.MaskKey(raw)
				aud.Failure(r.Context(), e)
				writeAuthError(w, http.StatusUnauthorized, msgInvalidCredentials)
				return
			}

			if _, err := keys.TouchLastUsed(r.Context(), key); err != nil {
				aud.Info(r.Context(), "api_key.touch_error", "key_id", key.ID, "error", err)
			}

			principal := &service.Principal{
				Kind:    service.KindAPIKey,
				Subject: key.OwnerID,
				Scope:   string(key.Scope),
				KeyID:   key.ID,
			}
			annotate(r.Context(), principal)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			ctx = context.WithValue(ctx, APIKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects API key principals whose scope does not allow the
// request method. It must run after APIKey.
func RequireScope() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.CheckScope(GetPrincipal(r.Context()), r.Method) {
				writeAuthError(w, http.StatusForbidden, "Insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// OwnerSession authenticates owner management calls by a session bearer
// token and loads the owner, who must be active.
func OwnerSession(tokens *service.TokenService, owners OwnerDirectory, aud *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason string) {
				aud.Failure(r.Context(), audit.NewEvent(r, audit.KindToken, reason, GetRequestID(r.Context())))
				writeAuthError(w, http.StatusUnauthorized, msgInvalidCredentials)
			}

			claims, err := tokens.Verify(bearerToken(r))
			if err != nil {
				reject("invalid")
				return
			}
			if claims.Scope != service.SessionScope {
				reject("wrong_scope")
				return
			}
			owner, err := owners.GetOwner(r.Context(), claims.Subject)
			if err != nil || !owner.IsActive {
				reject("owner_inactive")
				return
			}

			principal := &service.Principal{
				Kind:    service.KindOwner,
				Subject: owner.ID,
				Scope:   claims.Scope,
				IsAdmin: owner.IsAdmin,
			}
			annotate(r.Context(), principal)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IntegrationToken authenticates by a minted integration access token.
// Owner session tokens are not accepted here.
func IntegrationToken(tokens *service.TokenService, aud *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := tokens.Verify(bearerToken(r))
			if err != nil || claims.Scope == service.SessionScope {
				aud.Failure(r.Context(), audit.NewEvent(r, audit.KindToken, "invalid", GetRequestID(r.Context())))
				writeAuthError(w, http.StatusUnauthorized, msgInvalidCredentials)
				return
			}
			principal := &service.Principal{
				Kind:    service.KindIntegration,
				Subject: claims.Subject,
				Scope:   claims.Scope,
			}
			annotate(r.Context(), principal)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin enforces admin-level access. It must be used after
// OwnerSession in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HMAC verifies the request signature. The body is read up to maxBody bytes
// and restored for the handler. Verification failures get a uniform 403; a
// failing client or nonce backend gets 503.
func HMAC(v *signing.Verifier, opts signing.Options, maxBody int64, aud *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body []byte
			if r.Body != nil {
				b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
				if err != nil {
					var tooLarge *http.MaxBytesError
					if errors.As(err, &tooLarge) {
						writeAuthError(w, http.StatusRequestEntityTooLarge, "Request body too large")
						return
					}
					writeAuthError(w, http.StatusBadRequest, "Unreadable request body")
					return
				}
				body = b
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			res, err := v.Verify(r.Context(), r, body, opts)
			if err != nil {
				code := signing.CodeOf(err)
				if code == "" {
					aud.Info(r.Context(), "hmac.backend_error", "error", err)
					writeAuthError(w, http.StatusServiceUnavailable, "Service unavailable")
					return
				}
				e := audit.NewEvent(r, audit.KindHMAC, string(code), GetRequestID(r.Context()))
				e.ClientID = signing.ClientIDFromHeaders(r.Header)
				aud.Failure(r.Context(), e)
				writeAuthError(w, http.StatusForbidden, msgInvalidSignature)
				return
			}
			if res.Previous {
				aud.Info(r.Context(), "hmac.previous_secret_used", "client_id", res.ClientID)
			}

			ctx := r.Context()
			if GetPrincipal(ctx) == nil {
				principal := &service.Principal{Kind: service.KindHMAC, Subject: res.ClientID}
				annotate(ctx, principal)
				ctx = context.WithValue(ctx, AuthPrincipalKey, principal)
			}
			ctx = context.WithValue(ctx, HMACClientKey, res.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// GetAPIKey returns the API key that authenticated the request, if any.
func GetAPIKey(ctx context.Context) *model.APIKey {
	if k, ok := ctx.Value(APIKeyKey).(*model.APIKey); ok {
		return k
	}
	return nil
}

// GetHMACClientID returns the verified HMAC client id, if any.
func GetHMACClientID(ctx context.Context) string {
	if id, ok := ctx.Value(HMACClientKey).(string); ok {
		return id
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"` + message + `"}}`))
}
