package model

import "time"

// IntegrationClient is a service-to-service caller that signs requests with
// a shared secret. During a rotation overlap window the previous secret is
// also accepted.
type IntegrationClient struct {
	ID                string     `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	ClientID          string     `json:"client_id" db:"client_id"`
	Secret            string     `json:"-" db:"secret"`
	PreviousSecret    *string    `json:"-" db:"previous_secret"`
	PreviousExpiresAt *time.Time `json:"previous_expires_at" db:"previous_expires_at"`
	RotatedAt         *time.Time `json:"rotated_at" db:"rotated_at"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// PreviousValid reports whether the previous secret is still inside its
// overlap window at now.
func (c *IntegrationClient) PreviousValid(now time.Time) bool {
	return c.PreviousSecret != nil && *c.PreviousSecret != "" &&
		c.PreviousExpiresAt != nil && c.PreviousExpiresAt.After(now)
}

// CandidateSecrets returns the secrets a signature may be checked against,
// current first.
func (c *IntegrationClient) CandidateSecrets(now time.Time) [][]byte {
	out := [][]byte{[]byte(c.Secret)}
	if c.PreviousValid(now) {
		out = append(out, []byte(*c.PreviousSecret))
	}
	return out
}
