package server

import (
	"errors"
	"fmt"

	"github.com/fieldwatch/wkauth/internal/config"
	"github.com/fieldwatch/wkauth/internal/nonce"
	"github.com/fieldwatch/wkauth/internal/secret"
	"github.com/fieldwatch/wkauth/internal/service"
	"github.com/fieldwatch/wkauth/internal/signing"
)

// Deps are the services the HTTP server routes requests to.
type Deps struct {
	Store    *config.Store
	Nonces   nonce.Store
	Keys     *service.APIKeyService
	Clients  *service.ClientService
	Tokens   *service.TokenService
	Verifier *signing.Verifier
	// Static holds clients configured by hmac.static_clients_json. It may be
	// nil.
	Static signing.StaticClients
}

// NewDeps builds the services described by settings on top of store and
// nonces. Integration clients in the store shadow static clients with the
// same id.
func NewDeps(s *config.Settings, store *config.Store, nonces nonce.Store) (*Deps, error) {
	hasher, err := secret.NewHasher(s.APIKeys.Pepper, s.APIKeys.Hasher)
	if err != nil {
		return nil, fmt.Errorf("api key hasher: %w", err)
	}
	sealer, err := secret.NewSealerFromBase64(s.Clients.SealingKey)
	if err != nil {
		return nil, fmt.Errorf("client secret sealer: %w", err)
	}

	raw, err := s.StaticClientsSource()
	if err != nil {
		return nil, err
	}
	static, err := signing.ParseStaticClients(raw)
	if err != nil {
		var ce *signing.ConfigError
		if !errors.As(err, &ce) || ce.Code != signing.ConfigMissing {
			return nil, err
		}
		static = nil
	}

	clients := service.NewClientService(store, sealer, s.Clients.RotationOverlap)
	verifier := signing.NewVerifier(
		signing.ChainResolver{clients, static},
		nonces,
		signing.Config{
			Mode:     signing.Mode(s.HMAC.Mode),
			MaxSkew:  s.HMAC.MaxSkew,
			NonceTTL: s.HMAC.NonceTTL,
		},
	)

	return &Deps{
		Store:    store,
		Nonces:   nonces,
		Keys:     service.NewAPIKeyService(store, hasher, s.APIKeys.TouchInterval),
		Clients:  clients,
		Tokens:   service.NewTokenService(s.Tokens),
		Verifier: verifier,
		Static:   static,
	}, nil
}

// OpenNonceStore returns the nonce backend selected by settings.
func OpenNonceStore(s *config.Settings) (nonce.Store, error) {
	switch s.Nonce.Backend {
	case config.NonceRedis:
		return nonce.NewRedis(s.Nonce.RedisURL)
	case config.NonceMemory, "":
		return nonce.NewMemory(s.Nonce.MaxSize, s.Nonce.MaxTTL), nil
	default:
		return nil, fmt.Errorf("unknown nonce backend %q", s.Nonce.Backend)
	}
}
