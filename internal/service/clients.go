package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldwatch/wkauth/internal/config"
	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/secret"
	"github.com/fieldwatch/wkauth/internal/signing"
)

// DefaultRotationOverlap is how long a rotated-out client secret stays valid.
const DefaultRotationOverlap = 72 * time.Hour

// ClientService manages integration clients and their shared secrets.
// Secrets are sealed at rest when a Sealer is configured.
type ClientService struct {
	store   *config.Store
	sealer  *secret.Sealer
	overlap time.Duration
	now     func() time.Time
}

func NewClientService(store *config.Store, sealer *secret.Sealer, overlap time.Duration) *ClientService {
	if overlap <= 0 {
		overlap = DefaultRotationOverlap
	}
	return &ClientService{store: store, sealer: sealer, overlap: overlap, now: time.Now}
}

// SetClock replaces the service's time source.
func (s *ClientService) SetClock(now func() time.Time) {
	s.now = now
}

// GenerateSecret returns a fresh shared secret.
func (s *ClientService) GenerateSecret() (string, error) {
	return secret.GenerateClientSecret()
}

// Create registers a client and returns it with its secret. The secret is
// only available from this call.
func (s *ClientService) Create(ctx context.Context, name string, isActive bool) (*model.IntegrationClient, string, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, "", err
	}
	plain, err := s.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return nil, "", fmt.Errorf("seal client secret: %w", err)
	}

	now := s.now().UTC()
	c := &model.IntegrationClient{
		Name:      name,
		Secret:    sealed,
		IsActive:  isActive,
		CreatedAt: now,
	}
	if err := s.store.CreateClient(ctx, c); err != nil {
		return nil, "", err
	}
	return c, plain, nil
}

// RotateSecret replaces the secret of client id. The old secret stays valid
// for overlap (the service default when zero). Disabled clients cannot be
// rotated.
func (s *ClientService) RotateSecret(ctx context.Context, id string, overlap time.Duration) (*model.IntegrationClient, string, error) {
	if overlap <= 0 {
		overlap = s.overlap
	}
	plain, err := s.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return nil, "", fmt.Errorf("seal client secret: %w", err)
	}

	c, err := s.store.UpdateClientLocked(ctx, id, func(c *model.IntegrationClient) error {
		if !c.IsActive {
			return ErrClientDisabled
		}
		now := s.now().UTC()
		expires := now.Add(overlap)
		previous := c.Secret
		c.PreviousSecret = &previous
		c.PreviousExpiresAt = &expires
		c.Secret = sealed
		c.RotatedAt = &now
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return c, plain, nil
}

// Update changes the name and/or active flag of client id.
func (s *ClientService) Update(ctx context.Context, id string, name *string, isActive *bool) (*model.IntegrationClient, error) {
	var newName string
	if name != nil {
		n, err := validateName(*name)
		if err != nil {
			return nil, err
		}
		newName = n
	}
	return s.store.UpdateClientLocked(ctx, id, func(c *model.IntegrationClient) error {
		if name != nil {
			c.Name = newName
		}
		if isActive != nil {
			c.IsActive = *isActive
		}
		return nil
	})
}

func (s *ClientService) List(ctx context.Context) ([]model.IntegrationClient, error) {
	return s.store.ListClients(ctx)
}

func (s *ClientService) Get(ctx context.Context, id string) (*model.IntegrationClient, error) {
	return s.store.GetClient(ctx, id)
}

func (s *ClientService) GetByClientID(ctx context.Context, clientID string) (*model.IntegrationClient, error) {
	return s.store.GetClientByClientID(ctx, clientID)
}

// PurgeExpiredPrevious drops previous secrets whose overlap has ended.
func (s *ClientService) PurgeExpiredPrevious(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredPrevious(ctx, s.now())
}

// CandidateSecrets returns the unsealed secrets a signature from c may be
// checked against at now, current first.
func (s *ClientService) CandidateSecrets(c *model.IntegrationClient, now time.Time) ([][]byte, error) {
	open := *c
	cur, err := s.sealer.Open(c.Secret)
	if err != nil {
		return nil, fmt.Errorf("open client secret: %w", err)
	}
	open.Secret = cur
	if c.PreviousValid(now) {
		prev, err := s.sealer.Open(*c.PreviousSecret)
		if err != nil {
			return nil, fmt.Errorf("open previous client secret: %w", err)
		}
		open.PreviousSecret = &prev
	}
	return open.CandidateSecrets(now), nil
}

// ResolveClient implements signing.ClientResolver over the database.
func (s *ClientService) ResolveClient(ctx context.Context, clientID string) (*signing.ResolvedClient, error) {
	c, err := s.store.GetClientByClientID(ctx, clientID)
	if errors.Is(err, config.ErrNotFound) {
		return nil, signing.ErrUnknownClient
	}
	if err != nil {
		return nil, err
	}
	secrets, err := s.CandidateSecrets(c, s.now())
	if err != nil {
		return nil, err
	}
	return &signing.ResolvedClient{ClientID: c.ClientID, Active: c.IsActive, Secrets: secrets}, nil
}
