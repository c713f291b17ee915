package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldwatch/wkauth/internal/config"
	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/secret"
)

// Reason is the outcome of an API key authentication attempt.
type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonInvalid      Reason = "invalid"
	ReasonHashMismatch Reason = "hash_mismatch"
	ReasonRevoked      Reason = "revoked"
	ReasonExpired      Reason = "expired"
)

// APIKeyService issues, authenticates, and retires API keys.
type APIKeyService struct {
	store         *config.Store
	hasher        *secret.Hasher
	touchInterval time.Duration
	now           func() time.Time
}

func NewAPIKeyService(store *config.Store, hasher *secret.Hasher, touchInterval time.Duration) *APIKeyService {
	return &APIKeyService{
		store:         store,
		hasher:        hasher,
		touchInterval: touchInterval,
		now:           time.Now,
	}
}

// SetClock replaces the service's time source.
func (s *APIKeyService) SetClock(now func() time.Time) {
	s.now = now
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// Create issues a new key for ownerID and returns it together with the
// plaintext, which is never recoverable afterwards. An empty scope defaults
// to read.
func (s *APIKeyService) Create(ctx context.Context, ownerID, name string, scope model.Scope, expiresAt *time.Time) (*model.APIKey, string, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, "", err
	}
	if scope == "" {
		scope = model.ScopeRead
	}
	if !scope.Valid() {
		return nil, "", ErrInvalidScope
	}
	now := s.now().UTC()
	if expiresAt != nil {
		if !expiresAt.After(now) {
			return nil, "", ErrInvalidExpiry
		}
		utc := expiresAt.UTC()
		expiresAt = &utc
	}

	plaintext, err := secret.GeneratePlaintextKey()
	if err != nil {
		return nil, "", err
	}
	prefix, last4, _ := secret.SplitKey(plaintext)
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("hash api key: %w", err)
	}

	key := &model.APIKey{
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   hash,
		Prefix:    prefix,
		Last4:     last4,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, plaintext, nil
}

// Authenticate resolves a presented plaintext to its key. It never writes.
// A store failure is returned as an error with ReasonInvalid.
func (s *APIKeyService) Authenticate(ctx context.Context, raw string) (*model.APIKey, Reason, error) {
	prefix, last4, ok := secret.SplitKey(raw)
	if !ok {
		return nil, ReasonInvalid, nil
	}

	candidates, err := s.store.FindAPIKeyCandidates(ctx, prefix, last4)
	if err != nil {
		return nil, ReasonInvalid, err
	}
	if len(candidates) == 0 {
		return nil, ReasonInvalid, nil
	}

	now := s.now()
	for i := range candidates {
		key := &candidates[i]
		match, err := s.hasher.Verify(raw, key.KeyHash)
		if err != nil || !match {
			continue
		}
		switch {
		case key.IsRevoked():
			return key, ReasonRevoked, nil
		case key.IsExpired(now):
			return key, ReasonExpired, nil
		}
		return key, ReasonOK, nil
	}
	return nil, ReasonHashMismatch, nil
}

// Revoke marks key revoked. alreadyRevoked is true when it was revoked
// before this call.
func (s *APIKeyService) Revoke(ctx context.Context, key *model.APIKey) (alreadyRevoked bool, err error) {
	at := s.now().UTC()
	changed, err := s.store.RevokeAPIKey(ctx, key.ID, at)
	if err != nil {
		return false, err
	}
	if changed {
		key.RevokedAt = &at
	}
	return !changed, nil
}

// RotateOptions override fields inherited from the key being rotated.
type RotateOptions struct {
	Name      *string
	Scope     *model.Scope
	ExpiresAt **time.Time
}

// RotateResult is the outcome of Rotate.
type RotateResult struct {
	Old            *model.APIKey
	New            *model.APIKey
	Plaintext      string
	AlreadyRevoked bool
}

// Rotate revokes key and issues a replacement carrying its name, scope, and
// expiry unless overridden. The replacement is validated before the old key
// is touched.
func (s *APIKeyService) Rotate(ctx context.Context, key *model.APIKey, opts RotateOptions) (*RotateResult, error) {
	name, scope, expiresAt := key.Name, key.Scope, key.ExpiresAt
	if opts.Name != nil {
		name = *opts.Name
	}
	if opts.Scope != nil {
		scope = *opts.Scope
	}
	if opts.ExpiresAt != nil {
		expiresAt = *opts.ExpiresAt
	}

	if _, err := validateName(name); err != nil {
		return nil, err
	}
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, ErrInvalidExpiry
	}

	already, err := s.Revoke(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("revoke rotated key: %w", err)
	}
	created, plaintext, err := s.Create(ctx, key.OwnerID, name, scope, expiresAt)
	if err != nil {
		return nil, err
	}
	return &RotateResult{Old: key, New: created, Plaintext: plaintext, AlreadyRevoked: already}, nil
}

// TouchLastUsed records use of key unless it was recorded within the touch
// interval.
func (s *APIKeyService) TouchLastUsed(ctx context.Context, key *model.APIKey) (bool, error) {
	now := s.now().UTC()
	updated, err := s.store.TouchAPIKeyLastUsed(ctx, key.ID, now, now.Add(-s.touchInterval))
	if err != nil {
		return false, err
	}
	if updated {
		key.LastUsedAt = &now
	}
	return updated, nil
}

// List returns the keys of ownerID, or every key when ownerID is empty.
func (s *APIKeyService) List(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx, ownerID)
}

// Get returns key id if it belongs to ownerID. An empty ownerID skips the
// ownership check.
func (s *APIKeyService) Get(ctx context.Context, ownerID, id string) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && key.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return key, nil
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, config.ErrNotFound)
}
