// Package metrics provides Prometheus metrics for the credential service.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wkauth"

var (
	requestsTotal     atomic.Pointer[prometheus.CounterVec]
	requestDuration   atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal atomic.Pointer[prometheus.CounterVec]
	issuedTotal       atomic.Pointer[prometheus.CounterVec]
)

// Init creates the collectors and registers them with reg. Calling Init
// again with a fresh registry replaces the collectors used by the Record
// functions.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "route", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	// kind is api_key, hmac, or token; reason is the audit code.
	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"kind", "reason"},
	)
	if err := reg.Register(authFailuresTotalVec); err != nil {
		return fmt.Errorf("failed to register authFailuresTotal: %w", err)
	}

	issuedTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Total number of credentials issued, by kind",
		},
		[]string{"kind"},
	)
	if err := reg.Register(issuedTotalVec); err != nil {
		return fmt.Errorf("failed to register issuedTotal: %w", err)
	}

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	issuedTotal.Store(issuedTotalVec)
	return nil
}

// RecordRequest counts one handled request.
func RecordRequest(method, route, status string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, route, status).Inc()
	}
}

// RecordRequestDuration observes request latency in seconds.
func RecordRequestDuration(method, route, status string, seconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, route, status).Observe(seconds)
	}
}

// RecordAuthFailure counts a rejected credential.
func RecordAuthFailure(kind, reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(kind, reason).Inc()
	}
}

// RecordIssued counts an issued credential: api_key, client_secret,
// access_token, or session_token.
func RecordIssued(kind string) {
	if counter := issuedTotal.Load(); counter != nil {
		counter.WithLabelValues(kind).Inc()
	}
}

// Handler serves the metrics gathered by g in Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// GetMetricsText returns the text exposition of g.
func GetMetricsText(g prometheus.Gatherer) (string, error) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(g).ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}
	return string(body), nil
}
