package did

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
)

func TestDerive_Format(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)

	id, err := Derive(kp.PublicKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id.String(), "did:example:"))
	assert.Equal(t, Method, id.Method())

	enc, err := keys.EncodePublicKey(kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, enc, id.EncodedKey())
}

func TestDerive_DeterministicAndRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		_ = rapid.Int().Draw(t, "run")
		kp, err := keys.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		first, err := Derive(kp.PublicKey)
		if err != nil {
			t.Fatalf("derive: %v", err)
		}
		second, err := Derive(kp.PublicKey)
		if err != nil {
			t.Fatalf("derive again: %v", err)
		}
		if first != second || !first.Equal(second) {
			t.Fatalf("derivation not stable: %s vs %s", first, second)
		}
		pub, err := first.PublicKey()
		if err != nil {
			t.Fatalf("recover key: %v", err)
		}
		if !kp.PublicKey.Equal(pub) {
			t.Fatalf("recovered key differs")
		}
		again, err := Derive(pub)
		if err != nil || again != first {
			t.Fatalf("re-derivation from recovered key differs: %s vs %s (%v)", again, first, err)
		}
	})
}

func TestDerive_RejectsBadKey(t *testing.T) {
	_, err := Derive(nil)
	assert.ErrorIs(t, err, keys.ErrKeyFormat)

	_, err = Derive("not a key")
	assert.ErrorIs(t, err, keys.ErrKeyFormat)
}

func TestParseAndValid(t *testing.T) {
	for _, s := range []string{"did:example:abc", "did:web:example.com:agents:1"} {
		id, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, id.String())
	}
	for _, s := range []string{"", "did", "did:example", "did::x", "urn:example:x", "did:example:"} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrMalformed, s)
	}
}

func TestEqual_ComparesEncodedKey(t *testing.T) {
	a := Identifier("did:example:abc")
	assert.True(t, a.Equal(Identifier("did:other:abc")))
	assert.False(t, a.Equal(Identifier("did:example:abd")))
	assert.False(t, Identifier("bogus").Equal(Identifier("bogus")))
}

func TestPublicKey_Malformed(t *testing.T) {
	_, err := Identifier("nope").PublicKey()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Identifier("did:example:0000").PublicKey()
	assert.ErrorIs(t, err, keys.ErrKeyFormat)
}

func TestKeyID(t *testing.T) {
	assert.Equal(t, "did:example:abc#key-1", Identifier("did:example:abc").KeyID(1))
}
