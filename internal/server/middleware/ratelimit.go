package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/fieldwatch/wkauth/internal/audit"
	"github.com/fieldwatch/wkauth/internal/signing"
)

func limitExceeded(w http.ResponseWriter, _ *http.Request) {
	writeAuthError(w, http.StatusTooManyRequests, "Request was throttled")
}

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByAPIKey limits requests per authenticated API key. It must run
// after APIKey; unauthenticated requests share one bucket per IP.
func RateLimitByAPIKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if k := GetAPIKey(r.Context()); k != nil {
				return "key:" + k.ID, nil
			}
			return "ip:" + audit.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByClient limits signed requests by the client id they claim, or
// by IP when no client id header is present. It runs before verification so
// that floods of bad signatures are throttled too.
func RateLimitByClient(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := signing.ClientIDFromHeaders(r.Header); id != "" {
				return "client:" + id, nil
			}
			return "ip:" + audit.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}
