package server

import (
	"net/http"
	"strings"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/gateway"
)

// handleChallenge issues a fresh challenge. This is the first step in the
// challenge-response authentication flow.
func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.gateway.IssueChallenge(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	incrementChallengeIssuance()
	h.writeJSON(w, r, http.StatusOK, map[string]string{"challenge": ch.Value})
}

// handleAuthenticate validates a possession proof and issues a session
// token. The challenge travels in the X-Challenge header.
func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		DID      string         `json:"did"`       // Identifier whose registered key signed the proof
		ZKP      string         `json:"zkp"`       // Hex signature over "<access>:<challenge>"
		VCClaims map[string]any `json:"vc_claims"` // Claim set; "access" names the scope
	}
	if !h.decodeJSON(w, r, &input) {
		incrementAuthentication("INVALID_REQUEST")
		return
	}
	challenge := strings.TrimSpace(r.Header.Get(headerChallenge))

	var missing string
	switch {
	case strings.TrimSpace(input.DID) == "":
		missing = "did"
	case strings.TrimSpace(input.ZKP) == "":
		missing = "zkp"
	case input.VCClaims == nil:
		missing = "vc_claims"
	case challenge == "":
		missing = headerChallenge
	}
	if missing != "" {
		incrementAuthentication(h.writeDomainError(w, r, &gateway.FieldError{Field: missing}))
		return
	}

	claims, err := gateway.ParseClaims(input.VCClaims)
	if err != nil {
		incrementAuthentication(h.writeDomainError(w, r, err))
		return
	}

	session, err := h.gateway.Authenticate(r.Context(), gateway.AuthRequest{
		DID:       strings.TrimSpace(input.DID),
		Proof:     strings.TrimSpace(input.ZKP),
		Claims:    claims,
		Challenge: challenge,
	})
	if err != nil {
		code := h.writeDomainError(w, r, err)
		incrementAuthentication(code)
		h.logger.Info("authentication rejected", "did", input.DID, "code", code, "correlationId", correlationIDFrom(r.Context()))
		return
	}
	incrementAuthentication("success")
	h.writeJSON(w, r, http.StatusOK, map[string]string{"jwt": session.Token})
}

// handleToken redeems a session token for an access token.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var input struct {
		JWT string `json:"jwt"`
	}
	if !h.decodeJSON(w, r, &input) {
		incrementRedemption("INVALID_REQUEST")
		return
	}
	access, err := h.gateway.Redeem(r.Context(), strings.TrimSpace(input.JWT))
	if err != nil {
		incrementRedemption(h.writeDomainError(w, r, err))
		return
	}
	incrementRedemption("success")
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"access_token": access.Token,
		"resource":     access.Resource,
	})
}

// handleRegisterKey stores the public key the gateway verifies proofs with.
func (h *Handler) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var input struct {
		DID       string `json:"did"`
		PublicKey string `json:"public_key"` // PEM or base58 PKIX
	}
	if !h.decodeJSON(w, r, &input) {
		incrementKeyRegistration("INVALID_REQUEST")
		return
	}
	if err := h.gateway.RegisterPublicKey(r.Context(), input.DID, input.PublicKey); err != nil {
		incrementKeyRegistration(h.writeDomainError(w, r, err))
		return
	}
	incrementKeyRegistration("success")
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "public key registered for " + strings.TrimSpace(input.DID),
	})
}
