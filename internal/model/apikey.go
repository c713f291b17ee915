package model

import "time"

// Scope is the permission level carried by an API key. Levels are ordered:
// read < write < admin.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// Valid reports whether s is one of the known scope levels.
func (s Scope) Valid() bool {
	switch s {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return true
	}
	return false
}

// APIKey is an opaque credential owned by an Owner. The plaintext is shown
// once at creation and never stored; only a peppered slow hash plus the
// prefix/last4 lookup pair are persisted.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	Prefix     string     `json:"prefix" db:"prefix"`
	Last4      string     `json:"last4" db:"last4"`
	Scope      Scope      `json:"scope" db:"scope"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at" db:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at" db:"last_used_at"`
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired reports whether the key has an expiry at or before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// IsActive reports whether the key is neither revoked nor expired.
func (k *APIKey) IsActive(now time.Time) bool {
	return !k.IsRevoked() && !k.IsExpired(now)
}

// Masked returns the display form "wk_live_XXXX…last4".
func (k *APIKey) Masked() string {
	return k.Prefix + "…" + k.Last4
}
