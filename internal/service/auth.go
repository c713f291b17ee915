package service

import (
	"errors"
	"net/http"

	"github.com/fieldwatch/wkauth/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidName        = errors.New("name must be 1-128 characters")
	ErrInvalidScope       = errors.New("scope must be one of read, write, admin")
	ErrInvalidExpiry      = errors.New("expiration must be in the future")
	ErrNotOwner           = errors.New("key belongs to another owner")
	ErrClientDisabled     = errors.New("integration client is disabled")
	ErrInvalidToken       = errors.New("invalid token")
)

const maxNameLength = 128

// PrincipalKind identifies how a request was authenticated.
type PrincipalKind string

const (
	KindAPIKey      PrincipalKind = "api_key"
	KindOwner       PrincipalKind = "owner"
	KindIntegration PrincipalKind = "integration"
	KindHMAC        PrincipalKind = "hmac"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Kind PrincipalKind
	// Subject is the owner id for API keys and sessions, the token subject for
	// integration tokens, and the client id for signed requests.
	Subject string
	Scope   string
	KeyID   string
	IsAdmin bool
}

// CheckScope reports whether p may perform an HTTP method. Only API key
// principals are restricted: admin passes everything, read and write pass
// safe methods, and only write or admin pass unsafe methods.
func CheckScope(p *Principal, method string) bool {
	if p == nil || p.Kind != KindAPIKey {
		return true
	}
	scope := model.Scope(p.Scope)
	if scope == model.ScopeAdmin {
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return scope == model.ScopeRead || scope == model.ScopeWrite
	default:
		return scope == model.ScopeWrite
	}
}
