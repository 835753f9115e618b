// Package metrics provides Prometheus metrics for the chatbot backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parishbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parishbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Authorization flow metrics
	authStatesIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parishbot_auth_states_issued_total",
			Help: "Total number of authorization states issued",
		},
	)

	authExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parishbot_auth_exchanges_total",
			Help: "Total number of authorization code exchanges",
		},
		[]string{"status"}, // "success", "invalid_state", "exchange_failed"
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parishbot_token_refreshes_total",
			Help: "Total number of refresh token exchanges",
		},
		[]string{"status"}, // "success", "failure"
	)

	// Session token metrics
	sessionTokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parishbot_session_tokens_issued_total",
			Help: "Total number of session tokens issued",
		},
	)

	sessionVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parishbot_session_verifications_total",
			Help: "Total number of session token verifications",
		},
		[]string{"result"}, // "ok" or the rejection reason
	)

	// Rate limiting metrics
	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parishbot_rate_limit_rejections_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"route"},
	)

	rateLimitStoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parishbot_rate_limit_store_errors_total",
			Help: "Total number of rate limit checks that failed open on store errors",
		},
	)
)

// RecordAuthStateIssued records a new authorization state being issued.
func RecordAuthStateIssued() {
	authStatesIssuedTotal.Inc()
}

// RecordAuthExchange records the outcome of a code exchange.
func RecordAuthExchange(status string) {
	authExchangesTotal.WithLabelValues(status).Inc()
}

// RecordTokenRefresh records the outcome of a refresh exchange.
func RecordTokenRefresh(status string) {
	tokenRefreshesTotal.WithLabelValues(status).Inc()
}

// RecordSessionTokenIssued records a session token being minted.
func RecordSessionTokenIssued() {
	sessionTokensIssuedTotal.Inc()
}

// RecordSessionVerification records the result of a bearer token check.
func RecordSessionVerification(result string) {
	sessionVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitRejection records a rate limited request.
func RecordRateLimitRejection(route string) {
	rateLimitRejectionsTotal.WithLabelValues(route).Inc()
}

// RecordRateLimitStoreError records a rate limit check that failed open.
func RecordRateLimitStoreError() {
	rateLimitStoreErrorsTotal.Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes the path for metrics to avoid high cardinality.
func normalizePath(path string) string {
	knownPaths := []string{
		"/healthz",
		"/readyz",
		"/metrics",
		"/auth/start",
		"/auth/callback",
		"/auth/refresh",
		"/chat",
		"/people/search",
		"/groups",
		"/events",
		"/me",
	}

	for _, known := range knownPaths {
		if path == known {
			return path
		}
	}

	// Normalize unknown paths to prevent high cardinality
	return "/other"
}
