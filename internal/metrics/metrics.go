// Package metrics exposes Prometheus collectors for the auth flow and the API client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
	ResultMissing = "missing_verifier"
)

var (
	// AuthInitiated counts authorize redirects started.
	AuthInitiated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eighttrack_auth_initiated_total",
			Help: "The total number of authorization flows started.",
		},
	)

	// TokenExchanges counts authorization code exchanges by result.
	TokenExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eighttrack_token_exchanges_total",
			Help: "The total number of authorization code exchanges.",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh grants by result.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eighttrack_token_refreshes_total",
			Help: "The total number of refresh token grants sent to the provider.",
		},
		[]string{"result"},
	)

	// APIRequests counts authenticated API responses by status code.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eighttrack_api_requests_total",
			Help: "The total number of authenticated API responses.",
		},
		[]string{"code"},
	)

	// APIRetries counts requests retried after a refresh.
	APIRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eighttrack_api_retries_total",
			Help: "The total number of API requests retried with a refreshed token.",
		},
	)

	// APIDuration is a histogram of authenticated request latency.
	APIDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eighttrack_api_request_duration_seconds",
			Help:    "A histogram of authenticated API request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
