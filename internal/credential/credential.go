// Package credential issues verifiable credentials and attaches or checks
// their detached proofs. The proof covers the canonical credential with the
// proof member removed, so any change to the claims after signing makes
// verification fail.
package credential

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/canonical"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

const (
	ProofType    = "EcdsaSecp256r1Signature2019"
	ProofPurpose = "assertionMethod"
)

var (
	// ErrMissingProof is returned when verifying a credential that was never
	// signed.
	ErrMissingProof = errors.New("credential has no proof")
	// ErrReservedClaim is returned when signing a credential whose claims use
	// "id", which the wire form reserves for the subject.
	ErrReservedClaim = errors.New(`claim "id" is reserved for the subject`)
)

const reservedClaim = "id"

// Service issues, signs and verifies credentials.
type Service struct {
	clock func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for proof timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// New returns a Service using the wall clock unless overridden.
func New(opts ...Option) *Service {
	s := &Service{clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue returns an unsigned credential. claims is copied at the top level.
func (s *Service) Issue(issuer, subject did.Identifier, claims map[string]any) model.Credential {
	c := make(map[string]any, len(claims))
	for k, v := range claims {
		c[k] = v
	}
	return model.Credential{
		Context: append([]string(nil), model.CredentialContext...),
		Type:    append([]string(nil), model.CredentialTypes...),
		Issuer:  issuer.String(),
		Subject: subject.String(),
		Claims:  c,
	}
}

// Sign returns a copy of vc carrying a proof made with issuerKey.
func (s *Service) Sign(vc model.Credential, issuerKey *ecdsa.PrivateKey) (model.Credential, error) {
	if _, ok := vc.Claims[reservedClaim]; ok {
		return model.Credential{}, ErrReservedClaim
	}
	payload, err := unsignedPayload(vc)
	if err != nil {
		return model.Credential{}, err
	}
	sig, err := keys.Sign(issuerKey, payload)
	if err != nil {
		return model.Credential{}, err
	}
	vc.Proof = &model.Proof{
		Type:               ProofType,
		Created:            s.clock().UTC().Format(time.RFC3339),
		VerificationMethod: did.Identifier(vc.Issuer).KeyID(1),
		ProofPurpose:       ProofPurpose,
		ProofValue:         hex.EncodeToString(sig),
	}
	return vc, nil
}

// Verify checks vc's proof against issuerKey. ErrMissingProof is the only
// error; every other failure is reported as false.
func (s *Service) Verify(vc model.Credential, issuerKey *ecdsa.PublicKey) (bool, error) {
	if vc.Proof == nil {
		return false, ErrMissingProof
	}
	// A claim named "id" never reaches the signed payload.
	if _, ok := vc.Claims[reservedClaim]; ok {
		return false, nil
	}
	sig, err := hex.DecodeString(vc.Proof.ProofValue)
	if err != nil {
		return false, nil
	}
	payload, err := unsignedPayload(vc)
	if err != nil {
		return false, nil
	}
	return keys.Verify(issuerKey, payload, sig), nil
}

func unsignedPayload(vc model.Credential) ([]byte, error) {
	vc.Proof = nil
	payload, err := canonical.MarshalWithout(vc, "proof")
	if err != nil {
		return nil, fmt.Errorf("canonicalize credential: %w", err)
	}
	return payload, nil
}
