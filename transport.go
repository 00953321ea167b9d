package socp

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/WillLehmann04/secure-programming/wire"
)

// Per-connection state machine: NEW -> HELLO_RECEIVED -> ACTIVE -> CLOSED.
// The first frame classifies the link as peer or user; the hello handlers
// complete the transition to ACTIVE by registering the remote id.
type connState int

const (
	stateNew connState = iota
	stateHelloReceived
	stateActive
	stateClosed
)

type linkKind int

const (
	linkUnknown linkKind = iota
	linkPeer
	linkUser
)

const writeTimeout = 10 * time.Second

// socket is the slice of *websocket.Conn the transport uses. Tests swap in
// a scripted implementation.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// conn is one WebSocket link, peer or user. Writes are serialised by the
// mutex; the read loop is the only reader.
type conn struct {
	node *Node
	ws   socket
	log  *zap.SugaredLogger

	writeMu sync.Mutex

	// owned by the read loop and the hello handlers it calls
	state    connState
	kind     linkKind
	remoteID string
	dialAddr string // non-empty on outbound peer links

	closeOnce sync.Once
}

func newConn(n *Node, ws socket, dialAddr string) *conn {
	return &conn{
		node:     n,
		ws:       ws,
		log:      n.log,
		dialAddr: dialAddr,
	}
}

// Send writes one frame. Safe for concurrent use.
func (c *conn) Send(env *wire.Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// Close sends a close frame and tears the socket down. Idempotent.
func (c *conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason))
		c.writeMu.Unlock()
		c.ws.Close()
	})
	return nil
}

// readLoop runs the per-connection state machine until the link dies.
func (c *conn) readLoop() {
	defer c.teardown()

	for {
		c.ws.SetReadDeadline(time.Now().Add(ReadIdle))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		framesIn.Inc()

		env, err := wire.Parse(raw)
		if err != nil {
			framesRejected.WithLabelValues("malformed").Inc()
			c.sendError(wire.ErrUnknownType, err.Error())
			c.Close(wire.CloseNormal, "malformed frame")
			return
		}
		if err := env.CheckFrom(); err != nil {
			framesRejected.WithLabelValues("bad_from").Inc()
			c.sendError(wire.ErrUnknownType, err.Error())
			c.Close(wire.CloseNormal, "bad sender id")
			return
		}

		if c.state == stateNew && !c.classify(env) {
			return
		}
		if !c.dispatch(env) {
			return
		}
	}
}

// classify handles the first inbound frame: only hellos open a link.
// Outbound peer links skip this; their role was fixed at dial time.
func (c *conn) classify(env *wire.Envelope) bool {
	if c.kind == linkPeer {
		c.state = stateHelloReceived
		return true
	}
	switch {
	case strings.HasPrefix(env.Type, "SERVER_HELLO"):
		c.kind = linkPeer
	case env.Type == wire.TypeUserHello:
		c.kind = linkUser
	default:
		framesRejected.WithLabelValues("bad_first_frame").Inc()
		c.sendError(wire.ErrUnknownType, "expected hello")
		c.Close(wire.CloseNormal, "no hello")
		return false
	}
	c.state = stateHelloReceived
	return true
}

// dispatch runs signature policy and the typed handler for one frame.
// Returns false when the link must close.
func (c *conn) dispatch(env *wire.Envelope) (alive bool) {
	if c.kind == linkPeer && c.remoteID != "" {
		c.node.rtr.NotePeerSeen(c.remoteID)
	}

	if !c.node.verify(env) {
		framesRejected.WithLabelValues("bad_sig").Inc()
		c.log.Debugw("dropping unverified frame", "type", env.Type, "from", env.From)
		if c.kind == linkUser {
			c.sendError(wire.ErrInvalidSig, "signature check failed")
		}
		return true
	}

	h, ok := c.node.handlers[env.Type]
	if !ok {
		framesRejected.WithLabelValues("unknown_type").Inc()
		c.sendError(wire.ErrUnknownType, env.Type)
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("handler panic", "type", env.Type, "panic", r)
			c.sendError(wire.ErrTimeout, "handler_exception")
			alive = true
		}
	}()
	h(c, env)
	return true
}

func (c *conn) sendError(code, detail string) {
	_ = c.Send(wire.NewError(c.node.id.ServerID, c.remoteID, code, detail))
}

// teardown detaches the link from the directory. A dying user link gossips
// USER_REMOVE so the mesh forgets the user.
func (c *conn) teardown() {
	c.state = stateClosed
	c.Close(wire.CloseNormal, "")
	c.node.untrack(c)

	switch {
	case c.kind == linkUser && c.remoteID != "":
		if c.node.dir.DetachUser(c.remoteID, c) {
			c.node.dir.DropAdvertise(c.remoteID)
			c.node.gossipUserRemove(c.remoteID)
			c.log.Infow("user disconnected", "user", c.remoteID)
		}
	case c.kind == linkPeer && c.remoteID != "":
		if c.node.dir.DetachPeer(c.remoteID, c) {
			c.log.Infow("peer disconnected", "peer", c.remoteID)
		}
	}
}
