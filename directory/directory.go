// Package directory holds the in-memory state a node keeps about the mesh:
// peer links and addresses, peer liveness, locally attached users, the
// user→home-node map, known public keys and the cached advertise envelopes
// used to seed newcomers. One RW mutex guards all tables; every invariant
// between them is maintained inside this package.
package directory

import (
	"crypto/rsa"
	"sort"
	"sync"
	"time"

	"github.com/WillLehmann04/secure-programming/wire"
)

// Local marks a user hosted on this node in the location map.
const Local = "local"

// Link is a connection handle the directory can write to and close. The
// transport's connection type implements it; tests use fakes.
type Link interface {
	Send(env *wire.Envelope) error
	Close(code int, reason string) error
}

// Addr is a peer's advertised listen address.
type Addr struct {
	Host string
	Port int
}

type Directory struct {
	mu sync.RWMutex

	peers        map[string]Link
	serverAddrs  map[string]Addr
	peerLastSeen map[string]time.Time
	peerKeys     map[string]*rsa.PublicKey

	localUsers    map[string]Link
	userLocations map[string]string
	userKeys      map[string]*rsa.PublicKey

	advertises  map[string]*wire.Envelope
	advertOrder []string
}

func New() *Directory {
	return &Directory{
		peers:         make(map[string]Link),
		serverAddrs:   make(map[string]Addr),
		peerLastSeen:  make(map[string]time.Time),
		peerKeys:      make(map[string]*rsa.PublicKey),
		localUsers:    make(map[string]Link),
		userLocations: make(map[string]string),
		userKeys:      make(map[string]*rsa.PublicKey),
		advertises:    make(map[string]*wire.Envelope),
	}
}

// ---- peers ----

// AttachPeer registers a peer link, its address and a fresh last-seen in one
// step. Returns the previous link when the peer was already connected.
func (d *Directory) AttachPeer(sid string, link Link, addr Addr) (old Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	old = d.peers[sid]
	d.peers[sid] = link
	d.serverAddrs[sid] = addr
	d.peerLastSeen[sid] = time.Now()
	return old
}

// DetachPeer removes a peer and its liveness entry, but only while the
// stored link is still the caller's: a replaced link tearing down later must
// not detach its successor. The address book entry survives so the
// reconnector can dial again.
func (d *Directory) DetachPeer(sid string, link Link) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.peers[sid]
	if !ok || (link != nil && cur != link) {
		return false
	}
	delete(d.peers, sid)
	delete(d.peerLastSeen, sid)
	return true
}

func (d *Directory) PeerLink(sid string) (Link, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.peers[sid]
	return l, ok
}

// PeerIDs returns the currently connected peers.
func (d *Directory) PeerIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.peers))
	for sid := range d.peers {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// PeerLinks snapshots the peer map for fan-out outside the lock.
func (d *Directory) PeerLinks() map[string]Link {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Link, len(d.peers))
	for sid, l := range d.peers {
		out[sid] = l
	}
	return out
}

func (d *Directory) SetPeerAddr(sid string, addr Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.serverAddrs[sid] = addr
}

func (d *Directory) PeerAddr(sid string) (Addr, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.serverAddrs[sid]
	return a, ok
}

// LinkedPeerAddrs returns the address-book entries of currently connected
// peers, so the dialer can skip addresses that already have a live link.
func (d *Directory) LinkedPeerAddrs() []Addr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Addr, 0, len(d.peers))
	for sid := range d.peers {
		if a, ok := d.serverAddrs[sid]; ok {
			out = append(out, a)
		}
	}
	return out
}

// SnapshotPeers renders the address book for a SERVER_WELCOME reply.
func (d *Directory) SnapshotPeers() []wire.PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]wire.PeerInfo, 0, len(d.serverAddrs))
	for sid, a := range d.serverAddrs {
		out = append(out, wire.PeerInfo{ID: sid, Host: a.Host, Port: a.Port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NotePeerSeen refreshes liveness for a connected peer.
func (d *Directory) NotePeerSeen(sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[sid]; ok {
		d.peerLastSeen[sid] = time.Now()
	}
}

// SetPeerSeen pins an explicit last-seen instant. Tests and the reaper use it.
func (d *Directory) SetPeerSeen(sid string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerLastSeen[sid] = at
}

// ReapPeers removes every peer silent for longer than deadAfter from the
// peer map and the liveness table atomically, returning ids and links so the
// caller can close them outside the lock.
func (d *Directory) ReapPeers(deadAfter time.Duration) ([]string, []Link) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	var links []Link
	for sid, last := range d.peerLastSeen {
		if now.Sub(last) > deadAfter {
			ids = append(ids, sid)
			if l, ok := d.peers[sid]; ok {
				links = append(links, l)
			}
			delete(d.peers, sid)
			delete(d.peerLastSeen, sid)
		}
	}
	sort.Strings(ids)
	return ids, links
}

// ---- public keys ----

func (d *Directory) SetPeerKey(sid string, pub *rsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerKeys[sid] = pub
}

func (d *Directory) SetUserKey(uid string, pub *rsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userKeys[uid] = pub
}

// LookupKey resolves an id to a public key, peers first. nil when unknown.
// This is the verifier's lookup function.
func (d *Directory) LookupKey(id string) *rsa.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if k, ok := d.peerKeys[id]; ok {
		return k
	}
	return d.userKeys[id]
}

// ---- local users & locations ----

// AttachUser registers a local user link and marks the location "local".
// Returns the replaced link when the user was already attached.
func (d *Directory) AttachUser(uid string, link Link) (old Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	old = d.localUsers[uid]
	d.localUsers[uid] = link
	d.userLocations[uid] = Local
	return old
}

// DetachUser drops the link and the "local" location together, keeping the
// invariant localUsers[uid] exists ⇔ userLocations[uid]=="local".
// The location is only cleared while it still points at this node.
func (d *Directory) DetachUser(uid string, link Link) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.localUsers[uid]
	if !ok || (link != nil && cur != link) {
		return false
	}
	delete(d.localUsers, uid)
	if d.userLocations[uid] == Local {
		delete(d.userLocations, uid)
	}
	return true
}

func (d *Directory) LocalUserLink(uid string) (Link, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.localUsers[uid]
	return l, ok
}

// LocalUsers lists connected local users, sorted.
func (d *Directory) LocalUsers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.localUsers))
	for uid := range d.localUsers {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// LocalUserLinks snapshots the user links for fan-out outside the lock.
func (d *Directory) LocalUserLinks() map[string]Link {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Link, len(d.localUsers))
	for uid, l := range d.localUsers {
		out[uid] = l
	}
	return out
}

// SetUserLocation installs a remote location. Refused while the user is
// attached locally: the home node is authoritative for its own users.
func (d *Directory) SetUserLocation(uid, location string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, local := d.localUsers[uid]; local && location != Local {
		return false
	}
	if location == Local {
		if _, local := d.localUsers[uid]; !local {
			return false
		}
	}
	d.userLocations[uid] = location
	return true
}

func (d *Directory) UserLocation(uid string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.userLocations[uid]
	return loc, ok
}

// RemoveUserLocation deletes the mapping only while it still equals expected.
func (d *Directory) RemoveUserLocation(uid, expected string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userLocations[uid] != expected {
		return false
	}
	delete(d.userLocations, uid)
	return true
}

// ---- advertise cache ----

// CacheAdvertise stores the last valid USER_ADVERTISE for a user. First
// insertion fixes the streaming order; later updates replace in place.
func (d *Directory) CacheAdvertise(uid string, env *wire.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.advertises[uid]; !ok {
		d.advertOrder = append(d.advertOrder, uid)
	}
	d.advertises[uid] = env
}

// DropAdvertise forgets a user's cached advertise (after USER_REMOVE).
func (d *Directory) DropAdvertise(uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.advertises[uid]; !ok {
		return
	}
	delete(d.advertises, uid)
	for i, id := range d.advertOrder {
		if id == uid {
			d.advertOrder = append(d.advertOrder[:i], d.advertOrder[i+1:]...)
			break
		}
	}
}

// Advertises returns the cached envelopes in insertion order.
func (d *Directory) Advertises() []*wire.Envelope {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*wire.Envelope, 0, len(d.advertOrder))
	for _, uid := range d.advertOrder {
		if env, ok := d.advertises[uid]; ok {
			out = append(out, env)
		}
	}
	return out
}
