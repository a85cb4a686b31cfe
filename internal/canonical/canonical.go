// Package canonical produces the deterministic JSON serialization that every
// signature in the service is computed over: the RFC 8785 JSON
// Canonicalization Scheme. Signing and verifying must both go through Marshal
// or signatures stop being reproducible.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal serializes v canonically. v is first encoded with encoding/json, so
// struct tags and custom marshalers decide which fields participate.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return transform(raw)
}

// MarshalWithout canonicalizes v after dropping the named top-level member.
// Used to exclude an embedded proof from the signed payload.
func MarshalWithout(v any, member string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("canonical: payload is not an object: %w", err)
	}
	delete(obj, member)
	if raw, err = json.Marshal(obj); err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return transform(raw)
}

func transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return out, nil
}
