package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// OAEPMaxPlaintext is the largest plaintext a single OAEP-SHA256 block can
// carry: k - 2*hLen - 2, which is 446 bytes for a 4096-bit key.
func OAEPMaxPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// OAEPEncrypt encrypts one block. Fails when the plaintext exceeds the
// single-block limit; use OAEPEncryptLarge for longer data.
func OAEPEncrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if len(plaintext) > OAEPMaxPlaintext(pub) {
		return nil, fmt.Errorf("crypto: plaintext %d bytes exceeds OAEP limit %d", len(plaintext), OAEPMaxPlaintext(pub))
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

// OAEPDecrypt is the inverse of OAEPEncrypt.
func OAEPDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
}

// OAEPEncryptLarge splits data into maximum-size chunks and encrypts each.
// Each ciphertext block is exactly pub.Size() bytes.
func OAEPEncryptLarge(pub *rsa.PublicKey, data []byte) ([][]byte, error) {
	max := OAEPMaxPlaintext(pub)
	var out [][]byte
	for len(data) > 0 {
		n := len(data)
		if n > max {
			n = max
		}
		ct, err := OAEPEncrypt(pub, data[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
		data = data[n:]
	}
	return out, nil
}

// OAEPDecryptLarge decrypts each chunk and concatenates in order.
func OAEPDecryptLarge(priv *rsa.PrivateKey, chunks [][]byte) ([]byte, error) {
	var out []byte
	for i, ct := range chunks {
		pt, err := OAEPDecrypt(priv, ct)
		if err != nil {
			return nil, fmt.Errorf("crypto: chunk %d: %w", i, err)
		}
		out = append(out, pt...)
	}
	return out, nil
}
