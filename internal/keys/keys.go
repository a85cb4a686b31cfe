// Package keys generates and encodes the elliptic-curve key pairs that back
// agent identities. Public keys travel as base58 text of their PKIX DER form
// or as PEM; private keys travel as PKCS#8 PEM.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mr-tron/base58"
)

// ErrKeyFormat is returned when key material cannot be parsed into, or
// marshalled from, its canonical byte form.
var ErrKeyFormat = errors.New("key format")

// KeyPair holds a P-256 key pair. The private half is owned by whoever
// generated or loaded it and must not be mutated after creation.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// Generate produces a fresh P-256 key pair from crypto/rand.
func Generate() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate p256 key: %w", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// LogValue keeps key material out of structured logs.
func (kp *KeyPair) LogValue() slog.Value {
	if kp == nil || kp.PublicKey == nil {
		return slog.StringValue("<nil>")
	}
	enc, err := EncodePublicKey(kp.PublicKey)
	if err != nil {
		return slog.StringValue("<invalid>")
	}
	return slog.GroupValue(slog.String("public", enc), slog.String("private", "REDACTED"))
}

// PublicKeyBytes returns the canonical PKIX DER bytes of pub.
func PublicKeyBytes(pub crypto.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrKeyFormat)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return der, nil
}

// EncodePublicKey returns base58(PKIX DER) of pub.
func EncodePublicKey(pub crypto.PublicKey) (string, error) {
	der, err := PublicKeyBytes(pub)
	if err != nil {
		return "", err
	}
	return base58.Encode(der), nil
}

// DecodePublicKey reverses EncodePublicKey.
func DecodePublicKey(encoded string) (crypto.PublicKey, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty key", ErrKeyFormat)
	}
	der, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base58: %v", ErrKeyFormat, err)
	}
	return parseDER(der)
}

// MarshalPublicKeyPEM encodes pub as a "PUBLIC KEY" PEM block.
func MarshalPublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := PublicKeyBytes(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKey accepts either a PEM "PUBLIC KEY" block or the base58 text
// produced by EncodePublicKey. Only RSA and ECDSA keys are accepted.
func ParsePublicKey(text string) (crypto.PublicKey, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "-----BEGIN") {
		block, _ := pem.Decode([]byte(text))
		if block == nil {
			return nil, fmt.Errorf("%w: invalid PEM", ErrKeyFormat)
		}
		return parseDER(block.Bytes)
	}
	return DecodePublicKey(text)
}

func parseDER(der []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	switch pub.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrKeyFormat, pub)
	}
}

// MarshalPrivateKeyPEM encodes priv as a PKCS#8 "PRIVATE KEY" block.
func MarshalPrivateKeyPEM(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ParsePrivateKeyPEM loads a PKCS#8 encoded ECDSA private key.
func ParsePrivateKeyPEM(text string) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return nil, fmt.Errorf("%w: invalid PEM", ErrKeyFormat)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected ECDSA private key, got %T", ErrKeyFormat, key)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// Sign returns an ASN.1 ECDSA signature over SHA-256(message).
func Sign(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrKeyFormat)
	}
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return sig, nil
}

// Verify checks an ASN.1 ECDSA signature over SHA-256(message). Returns false
// for any malformed input.
func Verify(pub *ecdsa.PublicKey, message, sig []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
