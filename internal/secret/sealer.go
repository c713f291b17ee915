package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
)

// sealedPrefix marks a stored value produced by Sealer.Seal so plaintext rows
// written before a sealing key was configured still open.
const sealedPrefix = "enc:"

// Sealer encrypts stored shared secrets with AES-256-GCM. A nil *Sealer is
// valid and passes values through unchanged.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// NewSealerFromBase64 decodes a standard base64 key. An empty string yields
// a nil Sealer.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return NewSealer(key)
}

// Seal returns "enc:" + hex(nonce || ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil {
		return plaintext, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + hex.EncodeToString(ct), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as-is.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if s == nil {
		return "", ErrDecryption
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", ErrDecryption
	}
	n := s.gcm.NonceSize()
	if len(raw) < n {
		return "", ErrDecryption
	}
	pt, err := s.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(pt), nil
}
