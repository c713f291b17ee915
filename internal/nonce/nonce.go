// Package nonce records consumed request nonces so a signed request can be
// accepted at most once.
package nonce

import (
	"context"
	"time"
)

// Store is an atomic insert-if-absent set with per-entry expiry.
type Store interface {
	// Add records key for ttl. It returns false, with no error, when key is
	// already present and unexpired.
	Add(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// Key returns the marker key for a client's nonce.
func Key(clientID, nonce string) string {
	return "hmac:nonce:" + clientID + ":" + nonce
}
