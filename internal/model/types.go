// Package model defines internal and external data shapes for the agent
// identity service. Document and credential types are serialized on the wire
// and into the ledger, so their JSON field names are part of the contract.
package model

import (
	"bytes"
	"crypto"
	"encoding/json"
	"fmt"
	"time"
)

// Default JSON-LD contexts stamped on new documents and credentials.
var (
	DIDContext        = []string{"https://www.w3.org/ns/did/v1", "https://example.org/agent-context/v1"}
	CredentialContext = []string{"https://www.w3.org/2018/credentials/v1", "https://example.org/agent-credentials/v1"}
	CredentialTypes   = []string{"VerifiableCredential", "AgentCredential"}
)

// DIDDocument is the identity document registered on the ledger for a DID.
type DIDDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Service            []Service            `json:"service"`
}

// VerificationMethod references a public key controlled by the DID.
// PublicKeyBase58 is the base58 encoding of the PKIX DER public key.
type VerificationMethod struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller"`
	PublicKeyBase58 string `json:"publicKeyBase58"`
}

// Service is an opaque service endpoint descriptor copied verbatim into
// documents.
type Service map[string]any

// Proof is a detached signature over the canonical form of the enclosing
// payload with the proof itself removed.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"` // hex
}

// Credential is a verifiable claim set binding an issuer DID to a subject DID.
// On the wire the subject and claims are merged into credentialSubject.
type Credential struct {
	Context []string
	Type    []string
	Issuer  string
	Subject string
	Claims  map[string]any
	Proof   *Proof
}

type credentialJSON struct {
	Context           []string       `json:"@context"`
	Type              []string       `json:"type"`
	Issuer            string         `json:"issuer"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *Proof         `json:"proof,omitempty"`
}

// MarshalJSON renders the W3C credential shape. "id" is reserved for the
// subject DID; signing refuses claims that use it.
func (c Credential) MarshalJSON() ([]byte, error) {
	subject := make(map[string]any, len(c.Claims)+1)
	for k, v := range c.Claims {
		subject[k] = v
	}
	subject["id"] = c.Subject
	return json.Marshal(credentialJSON{
		Context:           c.Context,
		Type:              c.Type,
		Issuer:            c.Issuer,
		CredentialSubject: subject,
		Proof:             c.Proof,
	})
}

// UnmarshalJSON splits credentialSubject back into Subject and Claims.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var raw credentialJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	subject, _ := raw.CredentialSubject["id"].(string)
	if subject == "" {
		return fmt.Errorf("credentialSubject.id is required")
	}
	claims := make(map[string]any, len(raw.CredentialSubject))
	for k, v := range raw.CredentialSubject {
		if k == "id" {
			continue
		}
		claims[k] = v
	}
	*c = Credential{
		Context: raw.Context,
		Type:    raw.Type,
		Issuer:  raw.Issuer,
		Subject: subject,
		Claims:  claims,
		Proof:   raw.Proof,
	}
	return nil
}

// PublicKeyEntry is a key registered with the authentication gateway for
// possession-proof verification.
type PublicKeyEntry struct {
	DID          string
	Key          crypto.PublicKey
	PEM          string
	RegisteredAt time.Time
}

// Challenge is a server-issued random value tracked only when single-use
// challenges are enabled.
type Challenge struct {
	Value     string
	ExpiresAt time.Time
	Used      bool
}

// LedgerReceipt is the collaborator's answer to a registration.
type LedgerReceipt struct {
	Committed bool
	TxRef     string
}
