// Package did derives and parses the decentralized identifiers used for agent
// identities. An identifier embeds the base58 encoding of the public key it
// was derived from, so the key can always be recovered from the identifier.
package did

import (
	"crypto"
	"errors"
	"fmt"
	"strings"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
)

// Method is the DID method for identifiers minted by this service.
const Method = "example"

// ErrMalformed indicates a string that is not a usable identifier.
var ErrMalformed = errors.New("malformed did")

// Identifier is an immutable "did:<method>:<encoded-public-key>" string.
type Identifier string

// Derive formats the identifier for pub. Pure and deterministic: the same key
// always yields the same identifier.
func Derive(pub crypto.PublicKey) (Identifier, error) {
	encoded, err := keys.EncodePublicKey(pub)
	if err != nil {
		return "", err
	}
	return Identifier("did:" + Method + ":" + encoded), nil
}

// Valid reports whether s has the general "did:<method>:<id>" shape.
func Valid(s string) bool {
	parts := strings.SplitN(s, ":", 3)
	return len(parts) == 3 && parts[0] == "did" && parts[1] != "" && parts[2] != ""
}

// Parse validates s and returns it as an Identifier.
func Parse(s string) (Identifier, error) {
	if !Valid(s) {
		return "", fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Identifier(s), nil
}

func (id Identifier) String() string { return string(id) }

// Method returns the method segment, or "" for a malformed identifier.
func (id Identifier) Method() string {
	parts := strings.SplitN(string(id), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// EncodedKey returns the method-specific segment.
func (id Identifier) EncodedKey() string {
	parts := strings.SplitN(string(id), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// PublicKey decodes the key embedded in the identifier.
func (id Identifier) PublicKey() (crypto.PublicKey, error) {
	if !Valid(string(id)) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, string(id))
	}
	return keys.DecodePublicKey(id.EncodedKey())
}

// Equal compares the encoded-key segments byte for byte.
func (id Identifier) Equal(other Identifier) bool {
	a, b := id.EncodedKey(), other.EncodedKey()
	return a != "" && a == b
}

// KeyID returns the verification method id "<did>#key-<n>".
func (id Identifier) KeyID(n int) string {
	return fmt.Sprintf("%s#key-%d", id, n)
}
