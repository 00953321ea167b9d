package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
)

var pssOpts = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto, // maximum salt length, matching PSS.MAX_LENGTH peers
	Hash:       crypto.SHA256,
}

// PSSSign signs msg with RSASSA-PSS over SHA-256.
func PSSSign(priv *rsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], pssOpts)
}

// PSSVerify reports whether sig is a valid signature over msg. It never
// returns an error; any failure is false.
func PSSVerify(pub *rsa.PublicKey, msg, sig []byte) bool {
	if pub == nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOpts) == nil
}
