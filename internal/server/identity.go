package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/document"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/gateway"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/registry"
)

// handleIdentityCreate registers a self-signed identity document. The
// signature must verify against the document's first key and the identifier
// must be derived from that key.
func (h *Handler) handleIdentityCreate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Document  *model.DIDDocument `json:"document"`
		Signature string             `json:"signature"` // hex signature over the canonical document
	}
	if !h.decodeJSON(w, r, &input) {
		return
	}
	switch {
	case input.Document == nil || input.Document.ID == "":
		h.writeDomainError(w, r, &gateway.FieldError{Field: "document"})
		return
	case strings.TrimSpace(input.Signature) == "":
		h.writeDomainError(w, r, &gateway.FieldError{Field: "signature"})
		return
	}
	doc := *input.Document

	id, err := did.Parse(doc.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := document.CheckDerivation(doc); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "DOCUMENT_FORMAT", "identifier is not derived from the document key", nil)
		return
	}
	if !document.Verify(doc, strings.TrimSpace(input.Signature)) {
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "PROOF_INVALID", "document signature did not verify", nil)
		return
	}

	committed, err := h.registry.Register(r.Context(), id, doc)
	if err != nil {
		incrementRegistryOperation("register", "error")
		h.writeDomainError(w, r, err)
		return
	}
	if !committed {
		incrementRegistryOperation("register", "rejected")
		h.writeErrorWithRequest(w, r, http.StatusConflict, "REGISTRY_REJECTED", "ledger did not commit the document", nil)
		return
	}
	incrementRegistryOperation("register", "committed")

	payload := h.writeSuccess(w, http.StatusCreated, map[string]any{
		"did":        id.String(),
		"registered": true,
	}, nil, r)
	h.remember(r, w, http.StatusCreated, payload)
	h.logger.Info("identity registered", "did", id.String(), "correlationId", correlationIDFrom(r.Context()))
}

// handleIdentityResolve returns the registered document for a DID.
func (h *Handler) handleIdentityResolve(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "did"))
	if err != nil || raw == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "INVALID_REQUEST", "did is required", nil)
		return
	}
	id, err := did.Parse(raw)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), contextKeyDID, id.String()))

	doc, found, err := h.registry.Resolve(r.Context(), id)
	if err != nil {
		result := "error"
		if errors.Is(err, registry.ErrInvalidDocument) {
			result = "corrupt"
		}
		incrementRegistryOperation("resolve", result)
		h.writeDomainError(w, r, err)
		return
	}
	if !found {
		incrementRegistryOperation("resolve", "not_found")
		h.writeErrorWithRequest(w, r, http.StatusNotFound, "IDENTITY_NOT_FOUND", "identity not found", nil)
		return
	}
	incrementRegistryOperation("resolve", "found")

	body := mustJSON(responseEnvelope{Data: map[string]any{"document": doc}})
	w.Header().Set(headerCacheControl, cacheControlResolve)
	w.Header().Set(headerETag, generateETag(body))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	h.logger.Info("identity resolved", "did", r.Context().Value(contextKeyDID), "correlationId", correlationIDFrom(r.Context()))
}
