package wire

// Delivery frames. MSG_DIRECT enters at the sender's edge node; the router
// re-wraps it as PEER_DELIVER between servers and USER_DELIVER at the last
// hop. Ciphertext and content_sig are opaque to every server.

// NewMsgDirect builds an end-to-end encrypted direct message. The payload
// repeats from/to/ts so the content signature survives re-wrapping.
func NewMsgDirect(from, to string, ts int64, ciphertextB64u, contentSigB64u string) *Envelope {
	e := New(TypeMsgDirect, from, to, map[string]interface{}{
		"ciphertext":  ciphertextB64u,
		"from":        from,
		"to":          to,
		"ts":          ts,
		"content_sig": contentSigB64u,
	})
	e.Ts = ts
	return e
}

// NewMsgPublic builds a public-channel broadcast. The nonce/ciphertext pair
// is AEAD output under the shared channel key; servers never hold that key.
func NewMsgPublic(from string, ts int64, nonceB64u, ciphertextB64u, contentSigB64u string) *Envelope {
	e := New(TypeMsgPublic, from, Broadcast, map[string]interface{}{
		"nonce":       nonceB64u,
		"ciphertext":  ciphertextB64u,
		"from":        from,
		"to":          Broadcast,
		"ts":          ts,
		"content_sig": contentSigB64u,
	})
	e.Ts = ts
	return e
}

// NewPeerDeliver wraps a frame for the peer hosting the target user: the
// original payload plus user_id, hop-signed by the forwarding server.
func NewPeerDeliver(serverID, peerID, userID string, payload map[string]interface{}) *Envelope {
	fwd := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		fwd[k] = v
	}
	fwd["user_id"] = userID
	return New(TypePeerDeliver, serverID, peerID, fwd)
}

// NewUserDeliver relays the inner payload to a locally attached user.
func NewUserDeliver(serverID, userID string, payload map[string]interface{}) *Envelope {
	inner := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		inner[k] = v
	}
	return New(TypeUserDeliver, serverID, userID, inner)
}
