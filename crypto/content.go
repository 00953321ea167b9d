package crypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"strconv"
)

// Content signatures bind a ciphertext to its sender and addressing across
// hops, independently of the per-hop transport signature. For direct
// messages the digest covers ciphertext||from||to||ts; the public channel
// has no single recipient so the digest omits `to`.

func directDigest(ciphertext []byte, from, to string, ts int64) []byte {
	h := sha256.New()
	h.Write(ciphertext)
	h.Write([]byte(from))
	h.Write([]byte(to))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	return h.Sum(nil)
}

func publicDigest(ciphertext []byte, from string, ts int64) []byte {
	h := sha256.New()
	h.Write(ciphertext)
	h.Write([]byte(from))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	return h.Sum(nil)
}

// SignDirectContent signs the DM digest.
func SignDirectContent(priv *rsa.PrivateKey, ciphertext []byte, from, to string, ts int64) ([]byte, error) {
	return PSSSign(priv, directDigest(ciphertext, from, to, ts))
}

// VerifyDirectContent checks a DM content signature; false on any failure.
func VerifyDirectContent(pub *rsa.PublicKey, sig, ciphertext []byte, from, to string, ts int64) bool {
	return PSSVerify(pub, directDigest(ciphertext, from, to, ts), sig)
}

// SignPublicContent signs the public-channel digest.
func SignPublicContent(priv *rsa.PrivateKey, ciphertext []byte, from string, ts int64) ([]byte, error) {
	return PSSSign(priv, publicDigest(ciphertext, from, ts))
}

// VerifyPublicContent checks a public-channel content signature.
func VerifyPublicContent(pub *rsa.PublicKey, sig, ciphertext []byte, from string, ts int64) bool {
	return PSSVerify(pub, publicDigest(ciphertext, from, ts), sig)
}
