package signing

import (
	"net/http"
	"strconv"
	"strings"
)

// Header names. Callers may use either set; the legacy names are consulted
// first.
const (
	HeaderClientID  = "X-Client-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"

	LegacyHeaderClientID  = "X-NC-Client-Id"
	LegacyHeaderTimestamp = "X-NC-Timestamp"
	LegacyHeaderNonce     = "X-NC-Nonce"
	LegacyHeaderSignature = "X-NC-Signature"
)

// Headers are the signature headers of one request.
type Headers struct {
	ClientID  string
	Timestamp int64
	Nonce     string
	Signature string
}

func firstHeader(h http.Header, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(h.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

// ClientIDFromHeaders returns the client id a request claims, if any.
func ClientIDFromHeaders(h http.Header) string {
	return firstHeader(h, LegacyHeaderClientID, HeaderClientID)
}

// ParseHeaders extracts the four signature headers. A missing header or a
// timestamp that is not an integer is reported as missing_headers.
func ParseHeaders(h http.Header) (Headers, error) {
	clientID := ClientIDFromHeaders(h)
	ts := firstHeader(h, LegacyHeaderTimestamp, HeaderTimestamp)
	nonce := firstHeader(h, LegacyHeaderNonce, HeaderNonce)
	sig := firstHeader(h, LegacyHeaderSignature, HeaderSignature)

	if clientID == "" || ts == "" || nonce == "" || sig == "" {
		return Headers{}, fail(CodeMissingHeaders, "signature headers are incomplete")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Headers{}, fail(CodeMissingHeaders, "timestamp is not an integer")
	}
	return Headers{
		ClientID:  clientID,
		Timestamp: unix,
		Nonce:     nonce,
		Signature: strings.ToLower(sig),
	}, nil
}

// Set writes the current header names onto h.
func (hd Headers) Set(h http.Header) {
	h.Set(HeaderClientID, hd.ClientID)
	h.Set(HeaderTimestamp, strconv.FormatInt(hd.Timestamp, 10))
	h.Set(HeaderNonce, hd.Nonce)
	h.Set(HeaderSignature, hd.Signature)
}
