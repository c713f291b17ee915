package signing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Signer adds signature headers to outgoing requests.
type Signer struct {
	ClientID string
	Secret   []byte

	Now      func() time.Time
	NewNonce func() string
}

// Headers computes the signature headers for a request with the given parts.
func (s *Signer) Headers(method, path, rawQuery string, body []byte) Headers {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	nonce := uuid.NewString
	if s.NewNonce != nil {
		nonce = s.NewNonce
	}

	c := Canonical{
		Method:    method,
		Path:      path,
		RawQuery:  rawQuery,
		Timestamp: now().Unix(),
		Nonce:     nonce(),
		BodyHash:  BodyHash(method, body),
	}
	return Headers{
		ClientID:  s.ClientID,
		Timestamp: c.Timestamp,
		Nonce:     c.Nonce,
		Signature: Sign(s.Secret, c.String()),
	}
}

// SignRequest sets the signature headers on r. body must be the exact bytes
// that will be sent.
func (s *Signer) SignRequest(r *http.Request, body []byte) {
	s.Headers(r.Method, r.URL.EscapedPath(), r.URL.RawQuery, body).Set(r.Header)
}
