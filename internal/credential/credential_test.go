package credential

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

func fixedClock() time.Time {
	return time.Date(2024, 8, 20, 12, 0, 0, 0, time.UTC)
}

func newParty(t require.TestingT) (*keys.KeyPair, did.Identifier) {
	kp, err := keys.Generate()
	require.NoError(t, err)
	id, err := did.Derive(kp.PublicKey)
	require.NoError(t, err)
	return kp, id
}

func TestIssue_Unsigned(t *testing.T) {
	_, issuer := newParty(t)
	_, subject := newParty(t)
	claims := map[string]any{"certification": "Certified AI Agent"}

	vc := New().Issue(issuer, subject, claims)
	assert.Nil(t, vc.Proof)
	assert.Equal(t, issuer.String(), vc.Issuer)
	assert.Equal(t, subject.String(), vc.Subject)

	claims["certification"] = "changed"
	assert.Equal(t, "Certified AI Agent", vc.Claims["certification"])
}

func TestSign_PopulatesProof(t *testing.T) {
	issuerKP, issuer := newParty(t)
	_, subject := newParty(t)
	svc := New(WithClock(fixedClock))

	vc, err := svc.Sign(svc.Issue(issuer, subject, map[string]any{"access": "premium"}), issuerKP.PrivateKey)
	require.NoError(t, err)
	require.NotNil(t, vc.Proof)
	assert.Equal(t, ProofType, vc.Proof.Type)
	assert.Equal(t, "2024-08-20T12:00:00Z", vc.Proof.Created)
	assert.Equal(t, issuer.String()+"#key-1", vc.Proof.VerificationMethod)
	assert.Equal(t, ProofPurpose, vc.Proof.ProofPurpose)
	assert.NotEmpty(t, vc.Proof.ProofValue)
}

func TestVerify_RoundTripAndClaimTamper(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		issuerKP, issuer := newParty(t)
		_, subject := newParty(t)
		svc := New(WithClock(fixedClock))

		claims := rapid.MapOfN(rapid.StringMatching(`c[a-z]{1,8}`), rapid.String(), 1, 5).Draw(t, "claims")
		in := make(map[string]any, len(claims))
		for k, v := range claims {
			in[k] = v
		}

		signed, err := svc.Sign(svc.Issue(issuer, subject, in), issuerKP.PrivateKey)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		ok, err := svc.Verify(signed, issuerKP.PublicKey)
		if err != nil || !ok {
			t.Fatalf("verify signed credential: ok=%v err=%v", ok, err)
		}

		for k := range signed.Claims {
			signed.Claims[k] = signed.Claims[k].(string) + "!"
			break
		}
		ok, err = svc.Verify(signed, issuerKP.PublicKey)
		if err != nil || ok {
			t.Fatalf("tampered credential verified: ok=%v err=%v", ok, err)
		}
	})
}

func TestSign_RejectsReservedClaim(t *testing.T) {
	issuerKP, issuer := newParty(t)
	_, subject := newParty(t)
	svc := New()

	_, err := svc.Sign(svc.Issue(issuer, subject, map[string]any{"id": "original", "access": "premium"}), issuerKP.PrivateKey)
	assert.ErrorIs(t, err, ErrReservedClaim)
}

func TestVerify_ReservedClaimAddedAfterSigning(t *testing.T) {
	issuerKP, issuer := newParty(t)
	_, subject := newParty(t)
	svc := New()

	signed, err := svc.Sign(svc.Issue(issuer, subject, map[string]any{"access": "premium"}), issuerKP.PrivateKey)
	require.NoError(t, err)

	signed.Claims["id"] = "mutated-after-signing"
	ok, err := svc.Verify(signed, issuerKP.PublicKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_WrongKeyAndBadProof(t *testing.T) {
	issuerKP, issuer := newParty(t)
	otherKP, subject := newParty(t)
	svc := New()

	signed, err := svc.Sign(svc.Issue(issuer, subject, map[string]any{"compliance": "GDPR"}), issuerKP.PrivateKey)
	require.NoError(t, err)

	ok, err := svc.Verify(signed, otherKP.PublicKey)
	require.NoError(t, err)
	assert.False(t, ok)

	broken := signed
	proof := *signed.Proof
	proof.ProofValue = "not-hex"
	broken.Proof = &proof
	ok, err = svc.Verify(broken, issuerKP.PublicKey)
	require.NoError(t, err)
	assert.False(t, ok)

	retargeted := signed
	retargeted.Subject = issuer.String()
	ok, err = svc.Verify(retargeted, issuerKP.PublicKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_MissingProof(t *testing.T) {
	issuerKP, issuer := newParty(t)
	_, subject := newParty(t)
	svc := New()

	_, err := svc.Verify(svc.Issue(issuer, subject, nil), issuerKP.PublicKey)
	assert.ErrorIs(t, err, ErrMissingProof)
}

func TestVerify_SurvivesJSONTransport(t *testing.T) {
	issuerKP, issuer := newParty(t)
	_, subject := newParty(t)
	svc := New()

	signed, err := svc.Sign(svc.Issue(issuer, subject, map[string]any{
		"access": "premium",
		"toolset": []any{map[string]any{"name": "web-search", "version": "1.0"}},
		"quota":   int64(9007199254740993),
	}), issuerKP.PrivateKey)
	require.NoError(t, err)

	wire, err := json.Marshal(signed)
	require.NoError(t, err)
	var received model.Credential
	require.NoError(t, json.Unmarshal(wire, &received))

	assert.Equal(t, subject.String(), received.Subject)
	assert.Equal(t, json.Number("9007199254740993"), received.Claims["quota"])
	ok, err := svc.Verify(received, issuerKP.PublicKey)
	require.NoError(t, err)
	assert.True(t, ok)
}
