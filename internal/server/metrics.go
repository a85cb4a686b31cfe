// Package server contains HTTP handlers for the agent identity service.
// This file implements Prometheus metrics exposure endpoints.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for handshake and registry operations
var (
	// Counter for challenge issuance
	challengeIssuanceCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentid_challenges_issued_total",
			Help: "Total number of challenges issued.",
		},
	)

	// Counter for authentication attempts
	authenticationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_authentications_total",
			Help: "Total number of authentication attempts, by result.",
		},
		[]string{"result"}, // success or the error code
	)

	// Counter for session token redemptions
	redemptionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_token_redemptions_total",
			Help: "Total number of session token redemptions, by result.",
		},
		[]string{"result"},
	)

	// Counter for public key registrations
	keyRegistrationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_key_registrations_total",
			Help: "Total number of public key registrations, by result.",
		},
		[]string{"result"},
	)

	// Counter for ledger round trips
	registryOperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentid_registry_operations_total",
			Help: "Total number of identity registry operations, by operation and result.",
		},
		[]string{"op", "result"},
	)

	rateLimitedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentid_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
	)
)

// metricsHandler exposes Prometheus metrics through the main HTTP server.
//
// The metrics include:
// - HTTP request count and duration (from middleware)
// - Go runtime metrics (automatically collected by Prometheus client)
// - Handshake and registry counters
func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// NewMetricsHandler creates a standalone HTTP handler for Prometheus metrics.
// This is used to create a separate metrics server that can listen on a
// different port, providing operational isolation between application
// traffic and metrics scraping.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

func incrementChallengeIssuance() {
	challengeIssuanceCount.Inc()
}

func incrementAuthentication(result string) {
	authenticationCount.WithLabelValues(result).Inc()
}

func incrementRedemption(result string) {
	redemptionCount.WithLabelValues(result).Inc()
}

func incrementKeyRegistration(result string) {
	keyRegistrationCount.WithLabelValues(result).Inc()
}

// incrementRegistryOperation increments the registry operation counter
func incrementRegistryOperation(op, result string) {
	registryOperationCount.WithLabelValues(op, result).Inc()
}

func incrementRateLimited() {
	rateLimitedCount.Inc()
}
