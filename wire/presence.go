package wire

import "crypto/rsa"

// Presence gossip: USER_ADVERTISE installs a user→home-node mapping,
// USER_REMOVE retracts it. Advertise payloads are self-certifying: the
// advertised pubkey verifies the payload wherever the frame lands.

// AdvertiseUserSig is the payload field that carries the advertising user's
// own signature through the home node's re-stamp.
const AdvertiseUserSig = "user_sig"

// NewUserAdvertise builds the advertise payload for a user. Sent by the user
// to its home node with from=userID; the home node re-stamps from to its own
// server id before gossiping so that receivers can install the location
// straight from the envelope.
func NewUserAdvertise(from, to, userID, pubkeyPEM, privkeyStore, pakePassword string, meta map[string]interface{}, version int64) *Envelope {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return New(TypeUserAdvertise, from, to, map[string]interface{}{
		"user_id":       userID,
		"pubkey":        pubkeyPEM,
		"privkey_store": privkeyStore,
		"pake_password": pakePassword,
		"meta":          meta,
		"version":       version,
	})
}

// RestampAdvertise rebuilds a user's advertise as home-node gossip: from
// becomes the server id, to becomes broadcast, and the user's envelope
// signature moves into the payload so every receiver can still bind the
// payload to the advertised pubkey. The caller hop-signs the result.
func RestampAdvertise(env *Envelope, serverID string) *Envelope {
	payload := make(map[string]interface{}, len(env.Payload)+1)
	for k, v := range env.Payload {
		payload[k] = v
	}
	payload[AdvertiseUserSig] = env.Sig
	return New(TypeUserAdvertise, serverID, Broadcast, payload)
}

// VerifyAdvertisePayload checks the user's own signature on an advertise
// payload. The signature covers the payload without the user_sig field
// itself.
func VerifyAdvertisePayload(payload map[string]interface{}, userSig string, pub *rsa.PublicKey) bool {
	if userSig == "" {
		return false
	}
	base := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == AdvertiseUserSig {
			continue
		}
		base[k] = v
	}
	return VerifyPayload(pub, base, userSig)
}

// NewUserRemove retracts a presence record. location is "local" at the home
// node; receivers resolve "local" to the sending server's id.
func NewUserRemove(from, userID, location string) *Envelope {
	return New(TypeUserRemove, from, "", map[string]interface{}{
		"user_id":  userID,
		"location": location,
	})
}
