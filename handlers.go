package socp

import (
	"context"
	"net"
	"strconv"

	"github.com/WillLehmann04/secure-programming/canon"
	"github.com/WillLehmann04/secure-programming/crypto"
	"github.com/WillLehmann04/secure-programming/directory"
	"github.com/WillLehmann04/secure-programming/store"
	"github.com/WillLehmann04/secure-programming/wire"
)

// handlerFn is a typed frame handler. Handlers are the sole mutators of the
// directory from the network side; they never hold its lock across a send.
type handlerFn func(c *conn, env *wire.Envelope)

func (n *Node) handlerTable() map[string]handlerFn {
	return map[string]handlerFn{
		wire.TypeServerHelloJoin: n.handleServerHelloJoin,
		wire.TypeServerWelcome:   n.handleServerWelcome,
		wire.TypeServerAnnounce:  n.handleServerAnnounce,
		wire.TypeHeartbeat:       n.handleHeartbeat,
		wire.TypeUserHello:       n.handleUserHello,
		wire.TypeUserAdvertise:   n.handleUserAdvertise,
		wire.TypeUserRemove:      n.handleUserRemove,
		wire.TypePeerDeliver:     n.handlePeerDeliver,
		wire.TypeMsgDirect:       n.handleMsgDirect,
		wire.TypeMsgPublic:       n.handleMsgPublic,
		wire.TypeFileStart:       n.handleFileRelay,
		wire.TypeFileChunk:       n.handleFileRelay,
		wire.TypeFileEnd:         n.handleFileRelay,
		wire.TypeCmdList:         n.handleCmdList,
		wire.TypeAck:             n.handleAck,
		wire.TypeError:           n.handleError,
	}
}

// ---- mesh handshake ----

// handleServerHelloJoin registers an inbound peer. On a duplicate link the
// connection initiated by the lexicographically lesser server id survives.
func (n *Node) handleServerHelloJoin(c *conn, env *wire.Envelope) {
	peerID := env.From
	if !wire.IsUUID4(peerID) || peerID == n.id.ServerID {
		c.sendError(wire.ErrBadKey, "bad server id")
		c.Close(wire.CloseNormal, "bad hello")
		return
	}

	pub, err := crypto.LoadPublicKey([]byte(env.PayloadString("pubkey")))
	if err != nil {
		c.sendError(wire.ErrBadKey, "unparseable pubkey")
		c.Close(wire.CloseNormal, "bad pubkey")
		return
	}
	// handshake frames may be unsigned; a present signature must verify
	if env.Sig != "" && !wire.VerifyPayload(pub, env.Payload, env.Sig) {
		c.sendError(wire.ErrInvalidSig, "hello signature")
		c.Close(wire.CloseNormal, "bad hello sig")
		return
	}

	if old, dup := n.dir.PeerLink(peerID); dup {
		if n.id.ServerID < peerID {
			// our outbound link wins; refuse this one
			c.Close(wire.CloseNormal, "tie-break")
			return
		}
		_ = old.Close(wire.CloseNormal, "tie-break")
	}

	addr := directory.Addr{
		Host: env.PayloadString("host"),
		Port: int(env.PayloadInt("port")),
	}
	n.dir.SetPeerKey(peerID, pub)
	n.dir.AttachPeer(peerID, c, addr)
	c.remoteID = peerID
	c.state = stateActive
	n.log.Infow("peer joined", "peer", peerID, "host", addr.Host, "port", addr.Port)

	welcome := wire.NewServerWelcome(n.id.ServerID, peerID, n.dir.SnapshotPeers(), n.id.PubPEM)
	if err := welcome.Sign(n.id.Key); err == nil {
		_ = c.Send(welcome)
	}

	announce := wire.NewServerAnnounce(n.id.ServerID, n.cfg.advertisedHost(), n.cfg.ListenPort)
	if err := announce.Sign(n.id.Key); err == nil {
		n.fanToPeers(announce, c)
	}

	n.streamAdvertises(c, "")
}

// handleServerWelcome completes an outbound connect: the peer's key arrives
// inside the frame, so the frame is self-certifying.
func (n *Node) handleServerWelcome(c *conn, env *wire.Envelope) {
	peerID := env.From
	if !wire.IsUUID4(peerID) || peerID == n.id.ServerID {
		c.Close(wire.CloseNormal, "bad welcome")
		return
	}
	pub, err := crypto.LoadPublicKey([]byte(env.PayloadString("pubkey")))
	if err != nil {
		c.Close(wire.CloseNormal, "bad welcome pubkey")
		return
	}
	if env.Sig == "" || !wire.VerifyPayload(pub, env.Payload, env.Sig) {
		c.Close(wire.CloseNormal, "bad welcome sig")
		return
	}

	n.dir.SetPeerKey(peerID, pub)
	if old := n.dir.AttachPeer(peerID, c, addrFromHostPort(c.dialAddr)); old != nil {
		_ = old.Close(wire.CloseNormal, "replaced")
	}
	c.remoteID = peerID
	c.state = stateActive
	n.log.Infow("welcomed by peer", "peer", peerID)

	// learn the rest of the mesh; the reconnector dials anyone we miss
	for _, p := range env.WelcomePeers() {
		if p.ID == n.id.ServerID {
			continue
		}
		if _, connected := n.dir.PeerLink(p.ID); !connected {
			n.dir.SetPeerAddr(p.ID, directory.Addr{Host: p.Host, Port: p.Port})
		}
	}

	n.streamAdvertises(c, "")
}

func (n *Node) handleServerAnnounce(c *conn, env *wire.Envelope) {
	n.dir.SetPeerAddr(env.From, directory.Addr{
		Host: env.PayloadString("host"),
		Port: int(env.PayloadInt("port")),
	})
	n.rtr.NotePeerSeen(env.From)
}

// Heartbeats are signature-exempt, so the sender id must match the link:
// a link may only refresh its own liveness entry.
func (n *Node) handleHeartbeat(c *conn, env *wire.Envelope) {
	if c.kind != linkPeer || env.From != c.remoteID {
		return
	}
	n.rtr.NotePeerSeen(env.From)
}

// ---- user lifecycle ----

// handleUserHello attaches a user link. Default policy is last-login-wins;
// strict mode rejects a second hello for a live id with NAME_IN_USE.
func (n *Node) handleUserHello(c *conn, env *wire.Envelope) {
	uid := env.From
	pub, err := crypto.LoadPublicKey([]byte(env.PayloadString("pubkey")))
	if err != nil {
		c.sendError(wire.ErrBadKey, "unparseable pubkey")
		c.Close(wire.CloseNormal, "bad pubkey")
		return
	}

	if _, live := n.dir.LocalUserLink(uid); live && n.cfg.StrictUserHello {
		c.sendError(wire.ErrNameInUse, uid)
		c.Close(wire.CloseNormal, "name in use")
		return
	}

	if old := n.dir.AttachUser(uid, c); old != nil {
		_ = old.Close(wire.CloseNormal, "replaced")
	}
	n.dir.SetUserKey(uid, pub)
	c.remoteID = uid
	c.state = stateActive
	n.log.Infow("user connected", "user", uid, "client", env.PayloadString("client"))

	if n.reg != nil {
		ctx := context.Background()
		if err := n.reg.RegisterUser(ctx, store.User{
			UserID: uid,
			Pubkey: env.PayloadString("pubkey"),
		}); err != nil {
			n.log.Warnw("registry update failed", "user", uid, "err", err)
		}
		_ = n.reg.EnsurePublicGroup(ctx, n.id.ServerID)
		_ = n.reg.AddMember(ctx, store.PublicGroupID, store.Member{MemberID: uid})
	}

	ack := wire.NewAck(n.id.ServerID, uid, env)
	if err := ack.Sign(n.id.Key); err == nil {
		_ = c.Send(ack)
	}

	// seed the newcomer with everyone we already know about
	n.streamAdvertises(c, uid)
}

// handleUserAdvertise installs presence. From a local user the frame is
// self-certifying (the enclosed pubkey verifies the envelope); the node
// re-stamps it with its own id and hop signature before gossiping, carrying
// the user's signature inside the payload so every receiver can still bind
// the payload to the advertised key. From a peer the frame is forwarded
// unchanged, which keeps one fingerprint mesh-wide.
func (n *Node) handleUserAdvertise(c *conn, env *wire.Envelope) {
	uid := env.PayloadString("user_id")
	if uid == "" {
		return
	}

	if c.kind == linkUser {
		if env.From != uid || c.remoteID != uid {
			c.sendError(wire.ErrInvalidSig, "advertise for another user")
			return
		}
		pub, err := crypto.LoadPublicKey([]byte(env.PayloadString("pubkey")))
		if err != nil {
			c.sendError(wire.ErrBadKey, "unparseable pubkey")
			return
		}
		if env.Sig == "" || !wire.VerifyPayload(pub, env.Payload, env.Sig) {
			c.sendError(wire.ErrInvalidSig, "advertise signature")
			return
		}
		n.dir.SetUserKey(uid, pub)
		n.updateRegistry(uid, env)

		gossip := wire.RestampAdvertise(env, n.id.ServerID)
		if err := gossip.Sign(n.id.Key); err != nil {
			n.log.Warnw("advertise signing failed", "user", uid, "err", err)
			return
		}
		n.rtr.Remember(gossip) // our own gossip echoed back must not reinstall
		n.dir.CacheAdvertise(uid, gossip)
		n.fanToPeers(gossip, nil)
		n.fanToLocalUsers(gossip, uid)

		ack := wire.NewAck(n.id.ServerID, uid, env)
		if err := ack.Sign(n.id.Key); err == nil {
			_ = c.Send(ack)
		}
		return
	}

	// peer gossip path
	if n.rtr.AlreadySeen(env) {
		return
	}
	home := env.From
	if home == n.id.ServerID {
		return
	}
	// the payload must certify itself against the advertised pubkey; a hop
	// signature alone never installs presence
	pub, err := crypto.LoadPublicKey([]byte(env.PayloadString("pubkey")))
	if err != nil {
		n.log.Warnw("advertise dropped: unparseable pubkey", "user", uid, "home", home)
		return
	}
	if !wire.VerifyAdvertisePayload(env.Payload, env.PayloadString(wire.AdvertiseUserSig), pub) {
		n.log.Warnw("advertise dropped: bad user signature", "user", uid, "home", home)
		return
	}
	n.dir.SetUserKey(uid, pub)
	n.rtr.RecordPresence(uid, home)
	n.dir.CacheAdvertise(uid, env)
	n.log.Infow("user advertised", "user", uid, "home", home)

	n.fanToPeers(env, c)
	n.fanToLocalUsers(env, "")
}

// handleUserRemove retracts presence when the advertised location still
// matches. "local" in the payload means the sending server itself.
func (n *Node) handleUserRemove(c *conn, env *wire.Envelope) {
	if n.rtr.AlreadySeen(env) {
		return
	}
	uid := env.PayloadString("user_id")
	loc := env.PayloadString("location")
	if loc == directory.Local {
		loc = env.From
	}
	if n.dir.RemoveUserLocation(uid, loc) {
		n.dir.DropAdvertise(uid)
		n.log.Infow("user removed", "user", uid, "location", loc)
	}
	n.fanToPeers(env, c)
}

// ---- message routing ----

func (n *Node) handlePeerDeliver(c *conn, env *wire.Envelope) {
	if n.rtr.AlreadySeen(env) {
		return
	}
	target := env.PayloadString("user_id")
	n.rtr.RouteToUser(target, env, true)
}

// handleMsgDirect runs only at the sender's edge node, which is the one
// place both the transport and the content signature are checked. The
// ciphertext itself stays opaque.
func (n *Node) handleMsgDirect(c *conn, env *wire.Envelope) {
	if n.rtr.AlreadySeen(env) {
		return
	}
	if c.kind == linkUser {
		if !n.verifyDirectContent(env) {
			c.sendError(wire.ErrInvalidSig, "content signature")
			return
		}
	}
	n.rtr.RouteToUser(env.To, env, true)
}

func (n *Node) verifyDirectContent(env *wire.Envelope) bool {
	pub := n.dir.LookupKey(env.From)
	if pub == nil {
		return false
	}
	ct, err := canon.B64uDecode(env.PayloadString("ciphertext"))
	if err != nil {
		return false
	}
	sig, err := canon.B64uDecode(env.PayloadString("content_sig"))
	if err != nil {
		return false
	}
	return crypto.VerifyDirectContent(pub, sig, ct,
		env.PayloadString("from"), env.PayloadString("to"), env.PayloadInt("ts"))
}

// handleMsgPublic fans a broadcast out to every local user except the
// sender, then to every peer except the ingress link.
func (n *Node) handleMsgPublic(c *conn, env *wire.Envelope) {
	if n.rtr.AlreadySeen(env) {
		return
	}
	sender := env.PayloadString("from")
	if sender == "" {
		sender = env.From
	}
	n.fanToLocalUsersExceptLink(env, sender, c)
	n.fanToPeers(env, c)
}

// handleFileRelay routes file frames like direct messages: no reassembly,
// no inspection.
func (n *Node) handleFileRelay(c *conn, env *wire.Envelope) {
	if n.rtr.AlreadySeen(env) {
		return
	}
	n.rtr.RouteToUser(env.To, env, true)
}

// ---- local services ----

func (n *Node) handleCmdList(c *conn, env *wire.Envelope) {
	if c.kind != linkUser {
		return
	}
	list := wire.NewUserList(n.id.ServerID, env.From, n.dir.LocalUsers())
	if err := list.Sign(n.id.Key); err == nil {
		_ = c.Send(list)
	}
}

func (n *Node) handleAck(c *conn, env *wire.Envelope) {
	n.log.Debugw("ack", "from", env.From, "msg_ref", env.PayloadString("msg_ref"))
}

func (n *Node) handleError(c *conn, env *wire.Envelope) {
	n.log.Warnw("remote error", "from", env.From,
		"code", env.PayloadString("code"), "detail", env.PayloadString("detail"))
}

// ---- fan-out helpers ----

func (n *Node) fanToPeers(env *wire.Envelope, except directory.Link) {
	for sid, link := range n.dir.PeerLinks() {
		if link == except {
			continue
		}
		if err := link.Send(env); err != nil {
			n.log.Debugw("peer send failed", "peer", sid, "err", err)
		}
	}
}

func (n *Node) fanToLocalUsers(env *wire.Envelope, exceptUID string) {
	n.fanToLocalUsersExceptLink(env, exceptUID, nil)
}

func (n *Node) fanToLocalUsersExceptLink(env *wire.Envelope, exceptUID string, except directory.Link) {
	for uid, link := range n.dir.LocalUserLinks() {
		if uid == exceptUID || link == except {
			continue
		}
		if err := link.Send(env); err != nil {
			n.log.Debugw("user send failed", "user", uid, "err", err)
		}
	}
}

// streamAdvertises replays the cached advertise envelopes in insertion
// order, seeding a fresh peer or user link with current presence.
func (n *Node) streamAdvertises(link directory.Link, exceptUID string) {
	for _, adv := range n.dir.Advertises() {
		if adv.PayloadString("user_id") == exceptUID {
			continue
		}
		if err := link.Send(adv); err != nil {
			return
		}
	}
}

// gossipUserRemove tells the mesh a local user is gone.
func (n *Node) gossipUserRemove(uid string) {
	rm := wire.NewUserRemove(n.id.ServerID, uid, directory.Local)
	if err := rm.Sign(n.id.Key); err != nil {
		return
	}
	n.rtr.Remember(rm)
	n.fanToPeers(rm, nil)
}

func (n *Node) updateRegistry(uid string, env *wire.Envelope) {
	if n.reg == nil {
		return
	}
	ctx := context.Background()
	meta, err := canon.Marshal(env.Payload["meta"])
	if err != nil {
		meta = []byte("{}")
	}
	if err := n.reg.RegisterUser(ctx, store.User{
		UserID:       uid,
		Pubkey:       env.PayloadString("pubkey"),
		PrivkeyStore: env.PayloadString("privkey_store"),
		PakePassword: env.PayloadString("pake_password"),
		Meta:         string(meta),
	}); err != nil {
		n.log.Warnw("registry update failed", "user", uid, "err", err)
	}
}

func addrFromHostPort(hostport string) directory.Addr {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return directory.Addr{Host: hostport}
	}
	port, _ := strconv.Atoi(portStr)
	return directory.Addr{Host: host, Port: port}
}
