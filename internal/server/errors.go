package server

import (
	"errors"
	"net/http"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/document"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/gateway"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/registry"
)

// classify returns the HTTP status, stable reason code and client message
// for err. Order matters: more specific errors come first.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, gateway.ErrMissingField):
		return http.StatusBadRequest, "MISSING_FIELD", err.Error()
	case errors.Is(err, gateway.ErrInvalidKeyFormat), errors.Is(err, keys.ErrKeyFormat):
		return http.StatusBadRequest, "KEY_FORMAT", "invalid public key format"
	case errors.Is(err, did.ErrMalformed),
		errors.Is(err, registry.ErrInvalidDocument),
		errors.Is(err, document.ErrNoVerificationMethod):
		return http.StatusBadRequest, "DOCUMENT_FORMAT", "invalid identifier or document"
	case errors.Is(err, gateway.ErrUnknownIdentifier):
		return http.StatusUnauthorized, "UNKNOWN_IDENTIFIER", "no public key registered for identifier"
	case errors.Is(err, gateway.ErrSignatureInvalid):
		return http.StatusUnauthorized, "PROOF_INVALID", "possession proof did not verify"
	case errors.Is(err, gateway.ErrChallenge):
		return http.StatusUnauthorized, "CHALLENGE_INVALID", "challenge unknown, expired or already used"
	case errors.Is(err, gateway.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired"
	case errors.Is(err, gateway.ErrTokenInvalid):
		return http.StatusUnauthorized, "TOKEN_INVALID", "token invalid"
	case errors.Is(err, gateway.ErrScope):
		return http.StatusForbidden, "SCOPE_FORBIDDEN", "scope not permitted"
	case errors.Is(err, registry.ErrUnavailable):
		return http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", "identity registry unavailable"
	case errors.Is(err, gateway.ErrClosed):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service shutting down"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal server error"
	}
}
