// Package audit records credential events. Failures are logged at WARN and
// counted in wkauth_auth_failures_total. Plaintext keys and signatures are
// never logged; presented keys appear only as prefix…last4.
package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/fieldwatch/wkauth/internal/metrics"
	"github.com/fieldwatch/wkauth/internal/secret"
)

// Credential kinds.
const (
	KindAPIKey = "api_key"
	KindHMAC   = "hmac"
	KindToken  = "token"
)

// Event describes one authentication failure.
type Event struct {
	Kind      string
	Reason    string
	Path      string
	Method    string
	IP        string
	UserAgent string
	KeyPrefix string
	ClientID  string
	RequestID string
}

// NewEvent fills the request fields of an event.
func NewEvent(r *http.Request, kind, reason, requestID string) Event {
	return Event{
		Kind:      kind,
		Reason:    reason,
		Path:      r.URL.Path,
		Method:    r.Method,
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: requestID,
	}
}

// Logger writes audit records.
type Logger struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{log: log.With("component", "audit")}
}

// Failure logs and counts a rejected credential.
func (a *Logger) Failure(ctx context.Context, e Event) {
	metrics.RecordAuthFailure(e.Kind, e.Reason)

	attrs := []any{
		"kind", e.Kind,
		"reason", e.Reason,
		"path", e.Path,
		"method", e.Method,
		"ip", e.IP,
		"user_agent", e.UserAgent,
		"request_id", e.RequestID,
	}
	if e.KeyPrefix != "" {
		attrs = append(attrs, "key_prefix", e.KeyPrefix)
	}
	if e.ClientID != "" {
		attrs = append(attrs, "client_id", e.ClientID)
	}
	a.log.WarnContext(ctx, "auth.failure", attrs...)
}

// Info logs a successful credential lifecycle event such as
// api_key.created or client.rotated.
func (a *Logger) Info(ctx context.Context, event string, args ...any) {
	a.log.InfoContext(ctx, event, args...)
}

// MaskKey returns the prefix…last4 form of a presented key, or "" when the
// value does not look like a key.
func MaskKey(raw string) string {
	prefix, last4, ok := secret.SplitKey(raw)
	if !ok {
		return ""
	}
	return prefix + "…" + last4
}

// ClientIP returns the request's remote address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
