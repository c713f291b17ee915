package config

import "github.com/google/uuid"

// newID returns a time-ordered UUIDv7 so primary keys sort by insertion.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// uuid4 returns a random UUID for externally visible identifiers.
func uuid4() string {
	return uuid.NewString()
}
