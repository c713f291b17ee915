package secret

import "errors"

var (
	// ErrUnknownFormat is returned when a stored hash does not match any
	// supported encoding.
	ErrUnknownFormat = errors.New("unknown hash format")

	// ErrInvalidKey is returned when a sealing key is not exactly 32 bytes.
	ErrInvalidKey = errors.New("sealing key must be 32 bytes")

	// ErrDecryption is returned when a sealed value cannot be opened.
	ErrDecryption = errors.New("failed to open sealed value")
)
