package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldwatch/wkauth/internal/service"
)

type logKey struct{}

// logFields collects values discovered deeper in the chain, such as the
// authenticated principal, for the request log line.
type logFields struct {
	kind    service.PrincipalKind
	subject string
}

func annotate(ctx context.Context, p *service.Principal) {
	if f, ok := ctx.Value(logKey{}).(*logFields); ok {
		f.kind = p.Kind
		f.subject = p.Subject
	}
}

// Logger returns an HTTP middleware that logs every request using structured
// logging: method, path, status, size, duration, request ID, remote address,
// and the authenticated principal when there is one.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			fields := &logFields{}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), logKey{}, fields)))

			level := slog.LevelInfo
			if ww.status >= 500 {
				level = slog.LevelError
			} else if ww.status >= 400 {
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", ww.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if fields.kind != "" {
				attrs = append(attrs, "auth", string(fields.kind), "subject", fields.subject)
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying ResponseWriter to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
