package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// EmptyBodyHash is the SHA-256 hex digest of an empty body.
var EmptyBodyHash = BodyHash("GET", nil)

// Canonical holds the six fields covered by a request signature.
type Canonical struct {
	Method    string
	Path      string
	RawQuery  string
	Timestamp int64
	Nonce     string
	BodyHash  string
}

// String joins the fields with newlines, with no trailing newline.
func (c Canonical) String() string {
	return strings.Join([]string{
		strings.ToUpper(c.Method),
		c.Path,
		CanonicalQuery(c.RawQuery),
		strconv.FormatInt(c.Timestamp, 10),
		c.Nonce,
		c.BodyHash,
	}, "\n")
}

// BodyHash returns the SHA-256 hex digest of body. GET bodies are hashed as
// empty regardless of content.
func BodyHash(method string, body []byte) string {
	if strings.EqualFold(method, "GET") {
		body = nil
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign returns the lower-case hex HMAC-SHA256 of canonical under secret.
func Sign(secret []byte, canonical string) string {
	return hex.EncodeToString(mac(secret, canonical))
}

func mac(secret []byte, canonical string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(canonical))
	return h.Sum(nil)
}

type queryPair struct {
	key, value string
}

// CanonicalQuery parses raw keeping duplicate and blank parameters,
// percent-decodes each key and value ('+' as space), re-encodes them with
// only ALPHA / DIGIT / "-_.~" left bare, sorts by (key, value), and joins
// with '&'.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}

	var pairs []queryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		pairs = append(pairs, queryPair{
			key:   encode(decode(k)),
			value: encode(decode(v)),
		})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String()
}

// decode is a lenient form-value unescape: '+' becomes a space and
// malformed percent sequences are kept literally. Decoded bytes that are not
// valid UTF-8 are replaced with U+FFFD, one per invalid byte.
func decode(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			out = append(out, ' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
		default:
			out = append(out, c)
		}
	}
	if utf8.Valid(out) {
		return out
	}
	valid := make([]byte, 0, len(out)+8)
	for len(out) > 0 {
		r, n := utf8.DecodeRune(out)
		valid = utf8.AppendRune(valid, r)
		out = out[n:]
	}
	return valid
}

func encode(b []byte) string {
	const upperHex = "0123456789ABCDEF"
	var sb strings.Builder
	for _, c := range b {
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0x0f])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
