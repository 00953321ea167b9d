// Package crypto adapts the asymmetric primitives SOCP relies on:
// RSA-4096 keypairs in PEM, OAEP-SHA256 encryption with chunking for long
// plaintexts, and PSS-SHA256 signatures. Verification never panics and
// never returns an error: bad input is simply an invalid signature.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

const DefaultKeyBits = 4096

// GenerateKeypair returns (private PKCS8 PEM, public SPKI PEM).
func GenerateKeypair(bits int) (privPEM, pubPEM []byte, err error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return privPEM, pubPEM, nil
}

// LoadPrivateKey parses an unencrypted PKCS8 PEM block.
func LoadPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("crypto: no PEM block in private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Tolerate PKCS1 keys produced by older tooling.
		if k1, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			return k1, nil
		}
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: not an RSA private key: %T", key)
	}
	return rsaKey, nil
}

// LoadPublicKey parses an SPKI PEM block.
func LoadPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("crypto: no PEM block in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: not an RSA public key: %T", key)
	}
	return rsaKey, nil
}

// EncodePublicKey renders a public key back to SPKI PEM, as carried in
// SERVER_WELCOME and USER_ADVERTISE payloads.
func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// LoadOrCreateKeypair reads the node keypair from privPath/pubPath, creating
// both files on first boot.
func LoadOrCreateKeypair(privPath, pubPath string, bits int) (*rsa.PrivateKey, error) {
	if raw, err := os.ReadFile(privPath); err == nil {
		return LoadPrivateKey(raw)
	}

	privPEM, pubPEM, err := GenerateKeypair(bits)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return nil, err
	}
	return LoadPrivateKey(privPEM)
}
