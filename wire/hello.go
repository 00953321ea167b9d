package wire

// Handshake frames: the first frame on any connection is a SERVER_HELLO_JOIN
// (peer link) or USER_HELLO (user link).

// PeerInfo is one entry of the peer snapshot in SERVER_WELCOME.
type PeerInfo struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewServerHelloJoin greets an introducer so it can register us and connect
// back. pubkeyPEM is our SPKI public key.
func NewServerHelloJoin(from, to, host string, port int, pubkeyPEM string) *Envelope {
	return New(TypeServerHelloJoin, from, to, map[string]interface{}{
		"host":   host,
		"port":   port,
		"pubkey": pubkeyPEM,
	})
}

// NewServerWelcome replies to a join with the current peer snapshot.
func NewServerWelcome(from, to string, peers []PeerInfo, pubkeyPEM string) *Envelope {
	list := make([]interface{}, 0, len(peers))
	for _, p := range peers {
		list = append(list, map[string]interface{}{
			"id":   p.ID,
			"host": p.Host,
			"port": p.Port,
		})
	}
	return New(TypeServerWelcome, from, to, map[string]interface{}{
		"assigned_id": to,
		"peers":       list,
		"pubkey":      pubkeyPEM,
	})
}

// WelcomePeers decodes the peer snapshot out of a SERVER_WELCOME payload.
func (e *Envelope) WelcomePeers() []PeerInfo {
	raw, _ := e.Payload["peers"].([]interface{})
	out := make([]PeerInfo, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		p := PeerInfo{}
		p.ID, _ = m["id"].(string)
		p.Host, _ = m["host"].(string)
		if f, ok := m["port"].(float64); ok {
			p.Port = int(f)
		}
		if p.ID != "" && p.Host != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewServerAnnounce tells the rest of the mesh where we listen.
func NewServerAnnounce(from, host string, port int) *Envelope {
	return New(TypeServerAnnounce, from, Broadcast, map[string]interface{}{
		"host": host,
		"port": port,
	})
}

// NewUserHello is the first frame a user sends to its home node. Both PEMs
// are the user's: pubkey signs, enc_pubkey receives.
func NewUserHello(userID, serverID, client, pubkeyPEM, encPubkeyPEM string) *Envelope {
	return New(TypeUserHello, userID, serverID, map[string]interface{}{
		"client":     client,
		"pubkey":     pubkeyPEM,
		"enc_pubkey": encPubkeyPEM,
	})
}
