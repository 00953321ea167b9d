package wire

import (
	"crypto/rsa"
	"strings"

	"github.com/WillLehmann04/secure-programming/canon"
	"github.com/WillLehmann04/secure-programming/crypto"
)

// SignPayload returns b64u(PSS(canonical(payload))).
func SignPayload(payload map[string]interface{}, priv *rsa.PrivateKey) (string, error) {
	b, err := canon.Marshal(payload)
	if err != nil {
		return "", err
	}
	sig, err := crypto.PSSSign(priv, b)
	if err != nil {
		return "", err
	}
	return canon.B64u(sig), nil
}

// VerifyPayload checks a transport signature; any underlying failure is false.
func VerifyPayload(pub *rsa.PublicKey, payload map[string]interface{}, sigB64u string) bool {
	b, err := canon.Marshal(payload)
	if err != nil {
		return false
	}
	sig, err := canon.B64uDecode(sigB64u)
	if err != nil {
		return false
	}
	return crypto.PSSVerify(pub, b, sig)
}

// Sign attaches the transport signature and algorithm to an envelope.
func (e *Envelope) Sign(priv *rsa.PrivateKey) error {
	sig, err := SignPayload(e.Payload, priv)
	if err != nil {
		return err
	}
	e.Sig = sig
	e.Alg = AlgPS256
	return nil
}

// Handshake frames may omit the transport signature. Heartbeats are treated
// as handshake-equivalent, and SERVER_WELCOME carries its own key: its
// handler verifies against the enclosed pubkey, so the generic lookup must
// not reject it first.
var unsignedPrefixes = []string{"USER_HELLO", "SERVER_HELLO", "BOOTSTRAP", TypeHeartbeat, TypeServerWelcome}

// SigRequired reports whether the signing policy demands a signature for the
// given frame type.
func SigRequired(frameType string) bool {
	for _, p := range unsignedPrefixes {
		if strings.HasPrefix(frameType, p) {
			return false
		}
	}
	return true
}

// PubKeyLookup resolves a sender id to its public key; nil when unknown.
type PubKeyLookup func(id string) *rsa.PublicKey

// Verifier is the transport's signature policy: a total function over
// envelopes.
type Verifier func(env *Envelope) bool

// MakeVerifier builds the policy used by the transport server: handshake
// frames pass unsigned; everything else needs a known sender key and a valid
// signature over the canonical payload bytes.
func MakeVerifier(lookup PubKeyLookup) Verifier {
	return func(env *Envelope) bool {
		if !SigRequired(env.Type) {
			return true
		}
		if env.Sig == "" {
			return false
		}
		pub := lookup(env.From)
		if pub == nil {
			return false
		}
		return VerifyPayload(pub, env.Payload, env.Sig)
	}
}
