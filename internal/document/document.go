// Package document builds identity documents and produces detached
// signatures over their canonical JSON form.
package document

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/canonical"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

// VerificationKeyType labels P-256 verification methods.
const VerificationKeyType = "EcdsaSecp256r1VerificationKey2019"

// ErrNoVerificationMethod is returned when a document carries no key.
var ErrNoVerificationMethod = errors.New("document has no verification method")

// Create builds a document with exactly one verification method. services is
// copied verbatim; nil becomes an empty list.
func Create(id did.Identifier, publicKeyEncoded string, services []model.Service) model.DIDDocument {
	svc := make([]model.Service, len(services))
	copy(svc, services)
	return model.DIDDocument{
		Context: append([]string(nil), model.DIDContext...),
		ID:      id.String(),
		VerificationMethod: []model.VerificationMethod{{
			ID:              id.KeyID(1),
			Type:            VerificationKeyType,
			Controller:      id.String(),
			PublicKeyBase58: publicKeyEncoded,
		}},
		Service: svc,
	}
}

// AddVerificationMethod appends another owner key and returns the new method.
// The caller is expected to re-sign the document afterwards.
func AddVerificationMethod(doc *model.DIDDocument, publicKeyEncoded string) (model.VerificationMethod, error) {
	if _, err := keys.DecodePublicKey(publicKeyEncoded); err != nil {
		return model.VerificationMethod{}, err
	}
	id := did.Identifier(doc.ID)
	vm := model.VerificationMethod{
		ID:              id.KeyID(len(doc.VerificationMethod) + 1),
		Type:            VerificationKeyType,
		Controller:      doc.ID,
		PublicKeyBase58: publicKeyEncoded,
	}
	doc.VerificationMethod = append(doc.VerificationMethod, vm)
	return vm, nil
}

// Canonicalize returns the exact bytes that Sign and Verify operate on.
func Canonicalize(doc model.DIDDocument) ([]byte, error) {
	return canonical.Marshal(doc)
}

// Sign returns the hex ECDSA signature of the canonical document.
func Sign(doc model.DIDDocument, priv *ecdsa.PrivateKey) (string, error) {
	payload, err := Canonicalize(doc)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}
	sig, err := keys.Sign(priv, payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks signature against the key in the document's first
// verification method. Any malformed input yields false; false means "not
// trusted", never "retry".
func Verify(doc model.DIDDocument, signature string) bool {
	pub, err := FirstKey(doc)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	payload, err := Canonicalize(doc)
	if err != nil {
		return false
	}
	return keys.Verify(pub, payload, sig)
}

// FirstKey decodes the ECDSA key of the first verification method.
func FirstKey(doc model.DIDDocument) (*ecdsa.PublicKey, error) {
	if len(doc.VerificationMethod) == 0 {
		return nil, ErrNoVerificationMethod
	}
	pub, err := keys.DecodePublicKey(doc.VerificationMethod[0].PublicKeyBase58)
	if err != nil {
		return nil, err
	}
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: verification key is %T", keys.ErrKeyFormat, pub)
	}
	return ec, nil
}

// CheckDerivation reports whether doc.ID is the identifier derived from the
// first verification method's key.
func CheckDerivation(doc model.DIDDocument) error {
	pub, err := FirstKey(doc)
	if err != nil {
		return err
	}
	derived, err := did.Derive(pub)
	if err != nil {
		return err
	}
	if !derived.Equal(did.Identifier(doc.ID)) || derived.String() != doc.ID {
		return fmt.Errorf("%w: %s is not derived from its first key", did.ErrMalformed, doc.ID)
	}
	return nil
}
