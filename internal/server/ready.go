// Package server contains HTTP handlers for the agent identity service.
// This file implements the readiness check endpoint.
package server

import (
	"context"
	"net/http"
	"time"
)

// readyHandler returns 200 OK if the service is ready to serve requests.
// This endpoint is used by load balancers and orchestration systems
// to determine when the service is healthy and ready to receive traffic.
//
// Readiness checks:
// 1. Ledger connectivity (for backends that can report it)
//
// Returns 200 OK if all checks pass, 503 Service Unavailable if any check fails.
func (h *Handler) readyHandler(w http.ResponseWriter, r *http.Request) {
	// Create a context with timeout to prevent hanging readiness checks
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.registry.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		correlationID := h.ensureCorrelationID(w, r)
		w.Header().Set(headerContentType, contentTypeJSON)
		h.writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "ledger not ready", correlationID, nil)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
