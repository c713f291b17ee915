// Package secret generates, hashes, and seals the credentials issued by the
// service: API key plaintexts, integration client secrets, and the at-rest
// encryption of stored shared secrets.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// KeyMarker starts every API key plaintext.
	KeyMarker = "wk_live_"

	// PrefixLength is the number of leading plaintext characters stored for
	// candidate lookup ("wk_live_" plus four random characters).
	PrefixLength = 12

	// Last4Length is the number of trailing plaintext characters stored for
	// candidate lookup and display.
	Last4Length = 4

	randomBytes = 32
)

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GeneratePlaintextKey returns a fresh API key plaintext.
func GeneratePlaintextKey() (string, error) {
	tok, err := RandomToken(randomBytes)
	if err != nil {
		return "", err
	}
	return KeyMarker + tok, nil
}

// GenerateClientSecret returns a fresh integration client secret.
func GenerateClientSecret() (string, error) {
	return RandomToken(randomBytes)
}

// SplitKey returns the lookup prefix and last4 of a plaintext key. ok is
// false when the key lacks the marker or is too short to carry both.
func SplitKey(plaintext string) (prefix, last4 string, ok bool) {
	if !strings.HasPrefix(plaintext, KeyMarker) || len(plaintext) < PrefixLength+Last4Length {
		return "", "", false
	}
	return plaintext[:PrefixLength], plaintext[len(plaintext)-Last4Length:], true
}
