package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fieldwatch/wkauth/internal/config"
)

// SessionScope marks owner management tokens.
const SessionScope = "session"

// TokenClaims are the verified claims of a bearer token.
type TokenClaims struct {
	Subject   string
	Scope     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService mints and verifies HS256 bearer tokens.
type TokenService struct {
	key        []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

func NewTokenService(cfg config.TokenSettings) *TokenService {
	return &TokenService{
		key:        []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		sessionTTL: cfg.SessionTTL,
		now:        time.Now,
	}
}

// SetClock replaces the service's time source.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
}

// Mint issues an integration access token for subject and returns it with
// its lifetime in seconds.
func (s *TokenService) Mint(subject, scope string) (string, int, error) {
	return s.issue(subject, scope, s.accessTTL)
}

// MintOwnerSession issues a management session token for an owner.
func (s *TokenService) MintOwnerSession(ownerID string) (string, int, error) {
	return s.issue(ownerID, SessionScope, s.sessionTTL)
}

func (s *TokenService) issue(subject, scope string, ttl time.Duration) (string, int, error) {
	if subject == "" {
		return "", 0, errors.New("token subject is required")
	}
	now := s.now()
	claims := tokenClaims{
		Scope: &scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, int(ttl / time.Second), nil
}

// Verify checks signature, expiry, issuer, and audience. The subject may be
// carried as sub or user_id; scope is required.
func (s *TokenService) Verify(tokenStr string) (*TokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}
	if claims.Scope == nil {
		return nil, fmt.Errorf("%w: missing scope claim", ErrInvalidToken)
	}

	out := &TokenClaims{
		Subject: subject,
		Scope:   *claims.Scope,
		ID:      claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

type tokenClaims struct {
	Scope  *string `json:"scope,omitempty"`
	UserID string  `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}
