// Package router is the mesh routing engine: it decides local vs remote
// delivery, suppresses gossip loops with a bounded fingerprint cache, holds
// frames for users whose location is not yet known, and drives heartbeat
// fan-out and dead-peer reaping.
package router

import (
	"crypto/rsa"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/WillLehmann04/secure-programming/dedupe"
	"github.com/WillLehmann04/secure-programming/directory"
	"github.com/WillLehmann04/secure-programming/wire"
)

// DefaultQueuePerUser is Q_PER_USER.
const DefaultQueuePerUser = 100

// SendFn delivers an envelope to a peer server or a local user. Implemented
// by the transport; injected at construction so the router never imports its
// caller.
type SendFn func(id string, env *wire.Envelope) error

type Config struct {
	ServerID    string
	SignKey     *rsa.PrivateKey // optional; hop frames are signed when set
	Directory   *directory.Directory
	SendToPeer  SendFn
	SendToLocal SendFn
	DedupeSize  int
	QueueSize   int // per-user hold queue bound
	Log         *zap.SugaredLogger
}

type Router struct {
	serverID    string
	signKey     *rsa.PrivateKey
	dir         *directory.Directory
	sendToPeer  SendFn
	sendToLocal SendFn
	seen        *dedupe.Cache
	log         *zap.SugaredLogger

	mu        sync.Mutex
	pending   map[string]*deque.Deque[*wire.Envelope]
	queueSize int
}

func New(cfg Config) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueuePerUser
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	return &Router{
		serverID:    cfg.ServerID,
		signKey:     cfg.SignKey,
		dir:         cfg.Directory,
		sendToPeer:  cfg.SendToPeer,
		sendToLocal: cfg.SendToLocal,
		seen:        dedupe.New(cfg.DedupeSize),
		log:         cfg.Log,
		pending:     make(map[string]*deque.Deque[*wire.Envelope]),
		queueSize:   cfg.QueueSize,
	}
}

// AlreadySeen reports whether the frame's fingerprint is in the dedupe
// window; new fingerprints are remembered. Unfingerprintable frames are
// treated as duplicates so they are dropped rather than looped.
func (r *Router) AlreadySeen(env *wire.Envelope) bool {
	fp, err := env.Fingerprint()
	if err != nil {
		return true
	}
	if r.seen.Seen(fp) {
		dedupeHits.Inc()
		return true
	}
	r.seen.Remember(fp)
	return false
}

// Remember force-marks a frame as processed.
func (r *Router) Remember(env *wire.Envelope) {
	if fp, err := env.Fingerprint(); err == nil {
		r.seen.Remember(fp)
	}
}

// RecordPresence installs a location and drains the user's hold queue.
// Drained frames that still cannot be routed are dropped; re-queuing would
// loop.
func (r *Router) RecordPresence(uid, location string) {
	r.dir.SetUserLocation(uid, location)

	r.mu.Lock()
	q := r.pending[uid]
	delete(r.pending, uid)
	r.mu.Unlock()
	if q == nil {
		return
	}

	for q.Len() > 0 {
		frame := q.PopFront()
		if !r.RouteToUser(uid, frame, false) {
			droppedFrames.WithLabelValues("undeliverable").Inc()
			r.log.Debugw("dropped held frame", "user", uid, "type", frame.Type)
		}
	}
}

// RouteToUser is the routing core: local users get a USER_DELIVER, remote
// users a PEER_DELIVER to their home node, unknown users a slot in the hold
// queue when allowQueue permits. Returns whether the frame left this node.
func (r *Router) RouteToUser(uid string, frame *wire.Envelope, allowQueue bool) bool {
	if uid == "" {
		return false
	}

	loc, known := r.dir.UserLocation(uid)
	if known && loc == directory.Local {
		deliver := wire.NewUserDeliver(r.serverID, uid, frame.Payload)
		r.sign(deliver)
		if err := r.sendToLocal(uid, deliver); err != nil {
			r.log.Debugw("local deliver failed", "user", uid, "err", err)
		}
		routedFrames.WithLabelValues("local").Inc()
		return true
	}

	if known {
		if _, connected := r.dir.PeerLink(loc); connected {
			fwd := wire.NewPeerDeliver(r.serverID, loc, uid, frame.Payload)
			r.sign(fwd)
			if err := r.sendToPeer(loc, fwd); err != nil {
				r.log.Debugw("peer deliver failed", "peer", loc, "err", err)
			}
			routedFrames.WithLabelValues("remote").Inc()
			return true
		}
	}

	if allowQueue {
		r.enqueue(uid, frame)
	}
	return false
}

func (r *Router) enqueue(uid string, frame *wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.pending[uid]
	if q == nil {
		q = &deque.Deque[*wire.Envelope]{}
		r.pending[uid] = q
	}
	if q.Len() >= r.queueSize {
		q.PopFront() // drop oldest
		droppedFrames.WithLabelValues("queue_overflow").Inc()
	}
	q.PushBack(frame)
	queuedFrames.Inc()
}

// QueueLen is the current hold-queue depth for a user.
func (r *Router) QueueLen(uid string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q := r.pending[uid]; q != nil {
		return q.Len()
	}
	return 0
}

// BroadcastHeartbeat fires one HEARTBEAT to every connected peer
// concurrently. Send failures are swallowed; the reaper deals with dead
// peers.
func (r *Router) BroadcastHeartbeat() {
	hb := wire.NewHeartbeat(r.serverID)
	r.sign(hb)

	var wg sync.WaitGroup
	for _, sid := range r.dir.PeerIDs() {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			_ = r.sendToPeer(sid, hb)
		}(sid)
	}
	wg.Wait()
	heartbeatsSent.Inc()
}

// NotePeerSeen refreshes a peer's liveness clock.
func (r *Router) NotePeerSeen(sid string) {
	r.dir.NotePeerSeen(sid)
}

// ReapPeers drops peers silent for longer than deadAfter and closes their
// links. Returns the removed server ids.
func (r *Router) ReapPeers(deadAfter time.Duration) []string {
	ids, links := r.dir.ReapPeers(deadAfter)
	for _, l := range links {
		_ = l.Close(wire.CloseNormal, "reaped")
	}
	if len(ids) > 0 {
		peersReaped.Add(float64(len(ids)))
		r.log.Infow("reaped peers", "peers", ids)
	}
	return ids
}

func (r *Router) sign(env *wire.Envelope) {
	if r.signKey == nil {
		return
	}
	if err := env.Sign(r.signKey); err != nil {
		r.log.Warnw("hop signing failed", "type", env.Type, "err", err)
	}
}
