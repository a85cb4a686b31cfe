// Package server contains HTTP handlers and middleware for the agent identity service.
// This file implements CORS middleware for handling Cross-Origin Resource Sharing.
package server

import (
	"net/http"
)

// corsMiddleware adds CORS headers to responses to enable cross-origin requests.
// This middleware handles both simple and preflight CORS requests.
// Browser agents need X-Challenge on /authenticate, so it is allowed explicitly.
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-Id, Idempotency-Key, X-Challenge")
		w.Header().Set("Access-Control-Expose-Headers", "X-Correlation-Id, ETag")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
