// Package socp implements a SOCP mesh node: a WebSocket server that peers
// with other nodes over persistent JSON-framed connections, hosts user
// links, gossips presence, and routes end-to-end encrypted frames it cannot
// read. The heavy lifting lives in the subpackages; this package wires the
// transport, the protocol handlers and the mesh maintenance loops together.
package socp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WillLehmann04/secure-programming/directory"
	"github.com/WillLehmann04/secure-programming/router"
	"github.com/WillLehmann04/secure-programming/store"
	"github.com/WillLehmann04/secure-programming/wire"
)

// Node is one server in the mesh.
type Node struct {
	cfg Config
	id  *Identity
	log *zap.SugaredLogger

	dir      *directory.Directory
	rtr      *router.Router
	reg      *store.Store
	verify   wire.Verifier
	handlers map[string]handlerFn

	mu       sync.Mutex
	conns    map[*conn]struct{}
	outbound map[string]*conn // dial address -> live outbound link

	upgrader websocket.Upgrader
}

// NewNode assembles a node from its parts. reg may be nil when no durable
// registry is configured.
func NewNode(cfg Config, id *Identity, reg *store.Store, log *zap.SugaredLogger) *Node {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	n := &Node{
		cfg:      cfg,
		id:       id,
		log:      log,
		dir:      directory.New(),
		reg:      reg,
		conns:    make(map[*conn]struct{}),
		outbound: make(map[string]*conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	n.rtr = router.New(router.Config{
		ServerID:    id.ServerID,
		SignKey:     id.Key,
		Directory:   n.dir,
		SendToPeer:  n.sendToPeer,
		SendToLocal: n.sendToLocal,
		Log:         log,
	})
	n.verify = wire.MakeVerifier(n.dir.LookupKey)
	n.handlers = n.handlerTable()
	return n
}

// ServerID is the node's stable id.
func (n *Node) ServerID() string { return n.id.ServerID }

// Directory exposes the node's directory, mainly for tests and the monitor.
func (n *Node) Directory() *directory.Directory { return n.dir }

// Router exposes the routing engine.
func (n *Node) Router() *router.Router { return n.rtr }

func (n *Node) sendToPeer(sid string, env *wire.Envelope) error {
	link, ok := n.dir.PeerLink(sid)
	if !ok {
		return fmt.Errorf("peer %s not connected", sid)
	}
	return link.Send(env)
}

func (n *Node) sendToLocal(uid string, env *wire.Envelope) error {
	link, ok := n.dir.LocalUserLink(uid)
	if !ok {
		return fmt.Errorf("user %s not attached", uid)
	}
	return link.Send(env)
}

// Run serves the listener and drives the maintenance loops until ctx is
// cancelled, then closes every link with code 1000.
func (n *Node) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", n.serveWS)

	srv := &http.Server{
		Addr:    net.JoinHostPort(n.cfg.ListenHost, strconv.Itoa(n.cfg.ListenPort)),
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.log.Infow("listening", "addr", srv.Addr, "server_id", n.id.ServerID)
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	if n.cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: n.cfg.MetricsAddr, Handler: promhttp.Handler()}
		g.Go(func() error {
			err := metricsSrv.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			return metricsSrv.Close()
		})
	}

	g.Go(func() error { return n.heartbeatLoop(ctx) })
	g.Go(func() error { return n.reconnectLoop(ctx) })

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		n.closeAll()
		return nil
	})

	return g.Wait()
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Debugw("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newConn(n, ws, "")
	n.track(c)
	go c.readLoop()
}

// heartbeatLoop fires the liveness broadcast and the reaper on one ticker.
func (n *Node) heartbeatLoop(ctx context.Context) error {
	t := time.NewTicker(HeartbeatEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.rtr.BroadcastHeartbeat()
			n.rtr.ReapPeers(DeadAfter)
		}
	}
}

// reconnectLoop keeps dialing bootstrap peers and any mesh address learned
// from a SERVER_WELCOME that has no live link.
func (n *Node) reconnectLoop(ctx context.Context) error {
	n.dialMissing(ctx)
	t := time.NewTicker(ReconnectEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.dialMissing(ctx)
		}
	}
}

func (n *Node) dialMissing(ctx context.Context) {
	for _, addr := range n.missingAddrs() {
		n.mu.Lock()
		_, busy := n.outbound[addr]
		n.mu.Unlock()
		if busy {
			continue
		}
		if err := n.dialPeer(ctx, addr); err != nil {
			n.log.Debugw("dial failed", "addr", addr, "err", err)
		}
	}
}

// missingAddrs lists the addresses worth dialing: bootstrap peers plus any
// mesh address learned from a SERVER_WELCOME, minus every address that
// already has a live link (a bootstrap peer may well be connected inbound).
func (n *Node) missingAddrs() []string {
	connected := map[string]bool{}
	for _, a := range n.dir.LinkedPeerAddrs() {
		connected[net.JoinHostPort(a.Host, strconv.Itoa(a.Port))] = true
	}

	want := map[string]bool{}
	for _, addr := range n.cfg.BootstrapPeers {
		want[addr] = true
	}
	for _, p := range n.dir.SnapshotPeers() {
		if p.ID == n.id.ServerID {
			continue
		}
		if _, live := n.dir.PeerLink(p.ID); !live {
			want[net.JoinHostPort(p.Host, strconv.Itoa(p.Port))] = true
		}
	}

	out := make([]string, 0, len(want))
	for addr := range want {
		if !connected[addr] {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

// dialPeer opens an outbound link and sends our SERVER_HELLO_JOIN. The peer
// registers on its SERVER_WELCOME reply.
func (n *Node) dialPeer(ctx context.Context, addr string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return err
	}

	c := newConn(n, ws, addr)
	c.kind = linkPeer
	n.track(c)
	n.mu.Lock()
	n.outbound[addr] = c
	n.mu.Unlock()

	hello := wire.NewServerHelloJoin(n.id.ServerID, "", n.cfg.advertisedHost(), n.cfg.ListenPort, n.id.PubPEM)
	if err := hello.Sign(n.id.Key); err != nil {
		c.Close(wire.CloseNormal, "sign failure")
		return err
	}
	if err := c.Send(hello); err != nil {
		c.Close(wire.CloseNormal, "hello failed")
		return err
	}
	go c.readLoop()
	n.log.Infow("dialed peer", "addr", addr)
	return nil
}

func (n *Node) track(c *conn) {
	n.mu.Lock()
	n.conns[c] = struct{}{}
	n.mu.Unlock()
}

func (n *Node) untrack(c *conn) {
	n.mu.Lock()
	delete(n.conns, c)
	if c.dialAddr != "" && n.outbound[c.dialAddr] == c {
		delete(n.outbound, c.dialAddr)
	}
	n.mu.Unlock()
}

func (n *Node) closeAll() {
	n.mu.Lock()
	conns := make([]*conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(wire.CloseNormal, "shutdown")
	}
}
