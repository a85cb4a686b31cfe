package gateway

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PossessionMessage is the exact byte string a client signs.
func PossessionMessage(scope, challenge string) []byte {
	return []byte(scope + ":" + challenge)
}

// VerifyPossession checks a hex signature over message. RSA keys must use
// PSS with SHA-256, MGF1-SHA-256 and the maximum salt length; ECDSA keys use
// ASN.1 signatures over SHA-256. Anything else is rejected.
func VerifyPossession(pub crypto.PublicKey, message []byte, proofHex string) bool {
	sig, err := hex.DecodeString(proofHex)
	if err != nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(message)
	switch k := pub.(type) {
	case *rsa.PublicKey:
		opts := &rsa.PSSOptions{SaltLength: maxPSSSaltLength(k), Hash: crypto.SHA256}
		return rsa.VerifyPSS(k, crypto.SHA256, digest[:], sig, opts) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, digest[:], sig)
	default:
		return false
	}
}

// SignPossession produces the proof a client submits with Authenticate.
func SignPossession(signer crypto.Signer, scope, challenge string) (string, error) {
	digest := sha256.Sum256(PossessionMessage(scope, challenge))
	var opts crypto.SignerOpts = crypto.SHA256
	if _, ok := signer.Public().(*rsa.PublicKey); ok {
		// Auto picks the largest salt when signing.
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
	}
	sig, err := signer.Sign(rand.Reader, digest[:], opts)
	if err != nil {
		return "", fmt.Errorf("sign possession: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func maxPSSSaltLength(pub *rsa.PublicKey) int {
	emLen := (pub.N.BitLen() - 1 + 7) / 8
	return emLen - sha256.Size - 2
}
