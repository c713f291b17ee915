// Package signing implements the HMAC request signature scheme used by
// integration clients: canonicalization, verification with replay
// protection, and the client-side signer.
package signing

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fieldwatch/wkauth/internal/nonce"
)

// Mode selects whether signatures are enforced.
type Mode string

const (
	ModeEnforced Mode = "enforced"
	ModeDisabled Mode = "disabled"
)

// ResolvedClient is a client as seen by the verifier.
type ResolvedClient struct {
	ClientID string
	Active   bool
	// Secrets are tried in order; the current secret comes first.
	Secrets [][]byte
}

// ClientResolver looks up a client by its public id. It returns
// ErrUnknownClient when no such client exists.
type ClientResolver interface {
	ResolveClient(ctx context.Context, clientID string) (*ResolvedClient, error)
}

// ChainResolver consults each resolver in turn until one knows the client.
type ChainResolver []ClientResolver

func (c ChainResolver) ResolveClient(ctx context.Context, clientID string) (*ResolvedClient, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		rc, err := r.ResolveClient(ctx, clientID)
		if errors.Is(err, ErrUnknownClient) {
			continue
		}
		return rc, err
	}
	return nil, ErrUnknownClient
}

// Config holds verifier settings.
type Config struct {
	Mode     Mode
	MaxSkew  time.Duration
	NonceTTL time.Duration
}

// Options are per-endpoint verification settings.
type Options struct {
	// AllowedMethods feeds the method_mismatch diagnostic.
	AllowedMethods []string
	// NonceTTL overrides Config.NonceTTL when set.
	NonceTTL time.Duration
}

// Result describes a successfully verified request.
type Result struct {
	ClientID string
	// Previous is true when the request matched a rotated-out secret.
	Previous bool
	// Skipped is true when verification is disabled.
	Skipped bool
}

// Verifier checks signed requests.
type Verifier struct {
	clients ClientResolver
	nonces  nonce.Store
	cfg     Config
	now     func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(clients ClientResolver, nonces nonce.Store, cfg Config) *Verifier {
	if cfg.Mode == "" {
		cfg.Mode = ModeEnforced
	}
	return &Verifier{clients: clients, nonces: nonces, cfg: cfg, now: time.Now}
}

// SetClock replaces the verifier's time source.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// Mode returns the configured enforcement mode.
func (v *Verifier) Mode() Mode {
	return v.cfg.Mode
}

// Verify authenticates r whose body has already been read into body.
// Verification failures are returned as *Error; any other error comes from
// the client resolver or nonce store.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte, opts Options) (*Result, error) {
	if v.cfg.Mode == ModeDisabled {
		return &Result{ClientID: ClientIDFromHeaders(r.Header), Skipped: true}, nil
	}

	hd, err := ParseHeaders(r.Header)
	if err != nil {
		return nil, err
	}

	client, err := v.clients.ResolveClient(ctx, hd.ClientID)
	if errors.Is(err, ErrUnknownClient) {
		return nil, fail(CodeUnknownClientID, "client is not registered")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve client: %w", err)
	}
	if !client.Active {
		return nil, fail(CodeClientDisabled, "client is disabled")
	}

	now := v.now().Unix()
	skew := int64(v.cfg.MaxSkew / time.Second)
	switch delta := hd.Timestamp - now; {
	case delta < -skew:
		return nil, fail(CodeTimestampTooOld, "timestamp outside allowed skew")
	case delta > skew:
		return nil, fail(CodeTimestampTooNew, "timestamp outside allowed skew")
	}

	base := Canonical{
		Method:    strings.ToUpper(r.Method),
		Path:      r.URL.EscapedPath(),
		RawQuery:  r.URL.RawQuery,
		Timestamp: hd.Timestamp,
		Nonce:     hd.Nonce,
		BodyHash:  BodyHash(r.Method, body),
	}

	given, err := hex.DecodeString(hd.Signature)
	if err != nil {
		return nil, fail(CodeInvalidSignature, "signature is not hex")
	}

	matched := -1
	for i, secret := range client.Secrets {
		if hmac.Equal(mac(secret, base.String()), given) {
			matched = i
			break
		}
	}
	if matched < 0 {
		return nil, v.diagnose(client.Secrets, base, body, given, opts)
	}

	added, err := v.nonces.Add(ctx, nonce.Key(client.ClientID, hd.Nonce), v.nonceTTL(opts))
	if err != nil {
		return nil, fmt.Errorf("record nonce: %w", err)
	}
	if !added {
		return nil, fail(CodeNonceReplay, "nonce already used")
	}

	return &Result{ClientID: client.ClientID, Previous: matched > 0}, nil
}

// nonceTTL never drops below twice the skew window, so a nonce cannot be
// forgotten while its timestamp is still acceptable.
func (v *Verifier) nonceTTL(opts Options) time.Duration {
	ttl := v.cfg.NonceTTL
	if opts.NonceTTL > 0 {
		ttl = opts.NonceTTL
	}
	if floor := 2 * v.cfg.MaxSkew; ttl < floor {
		ttl = floor
	}
	return ttl
}

// ----------------------------------------------------------------------------
// Diagnostics
// ----------------------------------------------------------------------------

// diagnostic is one hypothesis about how the caller's canonical string
// differed from ours. Hypotheses are tried in order and the first that
// reproduces the signature names the failure.
type diagnostic struct {
	code     Code
	variants func(base Canonical, body []byte, opts Options) []Canonical
}

var diagnostics = []diagnostic{
	{code: CodeMethodMismatch, variants: methodVariants},
	{code: CodePathMismatch, variants: pathVariants},
	{code: CodeBodyHashMismatch, variants: bodyVariants},
}

func methodVariants(base Canonical, body []byte, opts Options) []Canonical {
	var out []Canonical
	for _, m := range opts.AllowedMethods {
		m = strings.ToUpper(m)
		if m == base.Method {
			continue
		}
		c := base
		c.Method = m
		c.BodyHash = BodyHash(m, body)
		out = append(out, c)
	}
	return out
}

func pathVariants(base Canonical, _ []byte, _ Options) []Canonical {
	c := base
	if strings.HasSuffix(base.Path, "/") {
		c.Path = strings.TrimRight(base.Path, "/")
	} else {
		c.Path = base.Path + "/"
	}
	return []Canonical{c}
}

func bodyVariants(base Canonical, body []byte, _ Options) []Canonical {
	c := base
	if base.Method == "GET" {
		if len(body) == 0 {
			return nil
		}
		c.BodyHash = BodyHash("POST", body)
	} else {
		c.BodyHash = EmptyBodyHash
	}
	return []Canonical{c}
}

func (v *Verifier) diagnose(secrets [][]byte, base Canonical, body, given []byte, opts Options) error {
	for _, d := range diagnostics {
		for _, c := range d.variants(base, body, opts) {
			s := c.String()
			for _, secret := range secrets {
				if hmac.Equal(mac(secret, s), given) {
					return fail(d.code, "signature matches a different canonical request")
				}
			}
		}
	}
	return fail(CodeInvalidSignature, "signature does not match")
}
