package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Supported hash algorithms.
const (
	AlgoPBKDF2   = "pbkdf2_sha256"
	AlgoArgon2id = "argon2id"
)

const (
	saltLength = 16
	hashLength = 32
)

// HasherConfig selects the slow hash and its cost parameters.
type HasherConfig struct {
	Algorithm  string `mapstructure:"algorithm" yaml:"algorithm"`
	Iterations int    `mapstructure:"iterations" yaml:"iterations"`
	MemoryKiB  uint32 `mapstructure:"memory_kib" yaml:"memory_kib"`
	Time       uint32 `mapstructure:"time" yaml:"time"`
	Threads    uint8  `mapstructure:"threads" yaml:"threads"`
}

// DefaultHasherConfig returns PBKDF2-SHA256 at 600000 iterations.
func DefaultHasherConfig() HasherConfig {
	return HasherConfig{
		Algorithm:  AlgoPBKDF2,
		Iterations: 600000,
		MemoryKiB:  64 * 1024,
		Time:       3,
		Threads:    2,
	}
}

// Hasher derives peppered, salted slow hashes. Each credential family gets
// its own Hasher so their peppers rotate independently.
type Hasher struct {
	pepper string
	cfg    HasherConfig
}

// NewHasher returns a Hasher. Zero cost parameters fall back to defaults.
func NewHasher(pepper string, cfg HasherConfig) (*Hasher, error) {
	def := DefaultHasherConfig()
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	switch cfg.Algorithm {
	case AlgoPBKDF2, AlgoArgon2id:
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.MemoryKiB == 0 {
		cfg.MemoryKiB = def.MemoryKiB
	}
	if cfg.Time == 0 {
		cfg.Time = def.Time
	}
	if cfg.Threads == 0 {
		cfg.Threads = def.Threads
	}
	return &Hasher{pepper: pepper, cfg: cfg}, nil
}

func (h *Hasher) material(plaintext string) []byte {
	return []byte(h.pepper + ":" + plaintext)
}

// Hash returns the encoded hash of plaintext using the configured algorithm.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	enc := base64.RawStdEncoding
	switch h.cfg.Algorithm {
	case AlgoArgon2id:
		sum := argon2.IDKey(h.material(plaintext), salt, h.cfg.Time, h.cfg.MemoryKiB, h.cfg.Threads, hashLength)
		return fmt.Sprintf("%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
			AlgoArgon2id, argon2.Version, h.cfg.MemoryKiB, h.cfg.Time, h.cfg.Threads,
			enc.EncodeToString(salt), enc.EncodeToString(sum)), nil
	default:
		sum := pbkdf2.Key(h.material(plaintext), salt, h.cfg.Iterations, hashLength, sha256.New)
		return fmt.Sprintf("%s$%d$%s$%s",
			AlgoPBKDF2, h.cfg.Iterations, enc.EncodeToString(salt), enc.EncodeToString(sum)), nil
	}
}

// Verify recomputes the hash of plaintext with the parameters embedded in
// stored and compares in constant time.
func (h *Hasher) Verify(plaintext, stored string) (bool, error) {
	p, err := parseHash(stored)
	if err != nil {
		return false, err
	}

	var sum []byte
	switch p.algo {
	case AlgoArgon2id:
		sum = argon2.IDKey(h.material(plaintext), p.salt, p.time, p.memory, p.threads, uint32(len(p.sum)))
	case AlgoPBKDF2:
		sum = pbkdf2.Key(h.material(plaintext), p.salt, p.iterations, len(p.sum), sha256.New)
	}
	return subtle.ConstantTimeCompare(sum, p.sum) == 1, nil
}

// NeedsRehash reports whether stored was produced with different parameters
// than the Hasher is configured for.
func (h *Hasher) NeedsRehash(stored string) bool {
	p, err := parseHash(stored)
	if err != nil || p.algo != h.cfg.Algorithm {
		return true
	}
	if p.algo == AlgoPBKDF2 {
		return p.iterations != h.cfg.Iterations
	}
	return p.memory != h.cfg.MemoryKiB || p.time != h.cfg.Time || p.threads != h.cfg.Threads
}

type parsedHash struct {
	algo       string
	iterations int
	memory     uint32
	time       uint32
	threads    uint8
	salt       []byte
	sum        []byte
}

func parseHash(stored string) (*parsedHash, error) {
	parts := strings.Split(stored, "$")
	enc := base64.RawStdEncoding

	switch {
	case len(parts) == 4 && parts[0] == AlgoPBKDF2:
		iter, err := strconv.Atoi(parts[1])
		if err != nil || iter <= 0 {
			return nil, ErrUnknownFormat
		}
		salt, err1 := enc.DecodeString(parts[2])
		sum, err2 := enc.DecodeString(parts[3])
		if err1 != nil || err2 != nil || len(sum) == 0 {
			return nil, ErrUnknownFormat
		}
		return &parsedHash{algo: AlgoPBKDF2, iterations: iter, salt: salt, sum: sum}, nil

	case len(parts) == 5 && parts[0] == AlgoArgon2id:
		var version int
		if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil || version != argon2.Version {
			return nil, ErrUnknownFormat
		}
		p := &parsedHash{algo: AlgoArgon2id}
		if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
			return nil, ErrUnknownFormat
		}
		salt, err1 := enc.DecodeString(parts[3])
		sum, err2 := enc.DecodeString(parts[4])
		if err1 != nil || err2 != nil || len(sum) == 0 {
			return nil, ErrUnknownFormat
		}
		p.salt, p.sum = salt, sum
		return p, nil
	}
	return nil, ErrUnknownFormat
}
