// Package client is the reference SOCP user agent: it connects to a home
// node, advertises the user's key, and exchanges end-to-end encrypted
// direct messages, public-channel broadcasts and files. Servers only ever
// see ciphertext; every decrypted inbound frame surfaces as an Event.
package client

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/WillLehmann04/secure-programming/canon"
	"github.com/WillLehmann04/secure-programming/crypto"
	"github.com/WillLehmann04/secure-programming/wire"
)

const (
	keepaliveEvery = 60 * time.Second
	eventBuffer    = 256
)

// Options configures a client connection.
type Options struct {
	ServerURL  string // ws://host:port/ws
	UserID     string // v4 UUID
	Key        *rsa.PrivateKey
	ChannelKey []byte // optional 32-byte public-channel AEAD key
	ClientName string
	Log        *zap.SugaredLogger
}

// Client is one user link to a home node.
type Client struct {
	userID   string
	key      *rsa.PrivateKey
	pubPEM   string
	chanKey  []byte
	log      *zap.SugaredLogger
	events   chan *Event

	writeMu sync.Mutex
	ws      *websocket.Conn

	mu       sync.Mutex
	serverID string
	peers    map[string]*rsa.PublicKey
	files    map[string]*incomingFile

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(opts Options) (*Client, error) {
	if !wire.IsUUID4(opts.UserID) {
		return nil, fmt.Errorf("client: user id %q is not a v4 UUID", opts.UserID)
	}
	if opts.Key == nil {
		return nil, errors.New("client: signing key required")
	}
	pubPEM, err := crypto.EncodePublicKey(&opts.Key.PublicKey)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Client{
		userID:  opts.UserID,
		key:     opts.Key,
		pubPEM:  pubPEM,
		chanKey: opts.ChannelKey,
		log:     opts.Log,
		events:  make(chan *Event, eventBuffer),
		peers:   make(map[string]*rsa.PublicKey),
		files:   make(map[string]*incomingFile),
		done:    make(chan struct{}),
	}, nil
}

// Dial connects, sends USER_HELLO plus a signed USER_ADVERTISE, and starts
// the background listener.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c, err := newClient(opts)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, opts.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", opts.ServerURL, err)
	}
	c.ws = ws

	hello := wire.NewUserHello(c.userID, "", opts.ClientName, c.pubPEM, c.pubPEM)
	if err := c.sendFrame(hello); err != nil {
		ws.Close()
		return nil, err
	}

	adv := wire.NewUserAdvertise(c.userID, "", c.userID, c.pubPEM, "", "", nil, 1)
	if err := adv.Sign(c.key); err != nil {
		ws.Close()
		return nil, err
	}
	if err := c.sendFrame(adv); err != nil {
		ws.Close()
		return nil, err
	}

	go c.listen()
	go c.keepalive()
	return c, nil
}

// Events is the stream of decrypted inbound traffic.
func (c *Client) Events() <-chan *Event {
	return c.events
}

// UserID returns this client's id.
func (c *Client) UserID() string { return c.userID }

// KnownUsers lists the user ids whose keys have been learned from
// advertises.
func (c *Client) KnownUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.peers))
	for uid := range c.peers {
		out = append(out, uid)
	}
	return out
}

// Close tears the link down with a normal close.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.writeMu.Lock()
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(wire.CloseNormal, "bye"))
			c.writeMu.Unlock()
			c.ws.Close()
		}
	})
	return nil
}

// ---- sending ----

// SendDirect encrypts plaintext to the recipient's advertised key and sends
// a signed MSG_DIRECT. The ciphertext is the b64u of concatenated OAEP
// blocks.
func (c *Client) SendDirect(to string, plaintext []byte) error {
	pub := c.peerKey(to)
	if pub == nil {
		return fmt.Errorf("client: no key known for %s", to)
	}
	ts := wire.NowMS()
	ct, err := encryptBlocks(pub, plaintext)
	if err != nil {
		return err
	}
	cs, err := crypto.SignDirectContent(c.key, ct, c.userID, to, ts)
	if err != nil {
		return err
	}
	dm := wire.NewMsgDirect(c.userID, to, ts, canon.B64u(ct), canon.B64u(cs))
	if err := dm.Sign(c.key); err != nil {
		return err
	}
	return c.sendFrame(dm)
}

// SendPublic seals plaintext under the shared channel key and broadcasts it.
func (c *Client) SendPublic(plaintext []byte) error {
	if len(c.chanKey) != chacha20poly1305.KeySize {
		return errors.New("client: no channel key configured")
	}
	aead, err := chacha20poly1305.New(c.chanKey)
	if err != nil {
		return err
	}
	nonce, err := randomNonce(aead.NonceSize())
	if err != nil {
		return err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)

	ts := wire.NowMS()
	cs, err := crypto.SignPublicContent(c.key, ct, c.userID, ts)
	if err != nil {
		return err
	}
	env := wire.NewMsgPublic(c.userID, ts, canon.B64u(nonce), canon.B64u(ct), canon.B64u(cs))
	if err := env.Sign(c.key); err != nil {
		return err
	}
	return c.sendFrame(env)
}

// ListUsers asks the home node for its connected local users; the answer
// arrives as a UserList event.
func (c *Client) ListUsers() error {
	c.mu.Lock()
	sid := c.serverID
	c.mu.Unlock()
	cmd := wire.NewCmdList(c.userID, sid)
	if err := cmd.Sign(c.key); err != nil {
		return err
	}
	return c.sendFrame(cmd)
}

func (c *Client) sendFrame(env *wire.Envelope) error {
	if c.ws == nil {
		return errors.New("client: not connected")
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// ---- receiving ----

func (c *Client) listen() {
	defer c.Close()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Parse(raw)
		if err != nil {
			c.log.Debugw("dropping malformed frame", "err", err)
			continue
		}
		c.handleFrame(env)
	}
}

func (c *Client) keepalive() {
	t := time.NewTicker(keepaliveEvery)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			_ = c.sendFrame(wire.NewHeartbeat(c.userID))
		}
	}
}

func (c *Client) handleFrame(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeAck:
		c.mu.Lock()
		if c.serverID == "" {
			c.serverID = env.From
		}
		c.mu.Unlock()
		c.emit(&Event{eventType: EventAck, sender: env.From, msgRef: env.PayloadString("msg_ref")})

	case wire.TypeUserAdvertise:
		uid := env.PayloadString("user_id")
		if uid == "" || uid == c.userID {
			return
		}
		pub, err := crypto.LoadPublicKey([]byte(env.PayloadString("pubkey")))
		if err != nil {
			c.log.Debugw("advertise with bad key", "user", uid)
			return
		}
		c.mu.Lock()
		c.peers[uid] = pub
		c.mu.Unlock()
		c.emit(&Event{eventType: EventAdvertise, sender: uid})

	case wire.TypeUserRemove:
		uid := env.PayloadString("user_id")
		c.mu.Lock()
		delete(c.peers, uid)
		c.mu.Unlock()
		c.emit(&Event{eventType: EventRemove, sender: uid})

	case wire.TypeUserDeliver:
		c.handleDeliver(env)

	case wire.TypeMsgPublic:
		c.handlePublic(env)

	case wire.TypeUserList:
		raw, _ := env.Payload["users"].([]interface{})
		users := make([]string, 0, len(raw))
		for _, u := range raw {
			if s, ok := u.(string); ok {
				users = append(users, s)
			}
		}
		c.emit(&Event{eventType: EventUserList, sender: env.From, users: users})

	case wire.TypeError:
		c.emit(&Event{
			eventType: EventError,
			sender:    env.From,
			code:      env.PayloadString("code"),
			detail:    env.PayloadString("detail"),
		})

	case wire.TypeHeartbeat:
		// liveness only
	}
}

// handleDeliver unwraps a USER_DELIVER: a direct message or a file frame,
// told apart by the file_id field.
func (c *Client) handleDeliver(env *wire.Envelope) {
	if env.PayloadString("file_id") != "" {
		c.handleFilePayload(env.Payload)
		return
	}

	sender := env.PayloadString("from")
	ct, err := canon.B64uDecode(env.PayloadString("ciphertext"))
	if err != nil {
		return
	}
	pt, err := decryptBlocks(c.key, ct)
	if err != nil {
		c.log.Debugw("undecryptable direct message", "from", sender, "err", err)
		return
	}

	// the sender's key may arrive after the message; verify when we can
	if pub := c.peerKey(sender); pub != nil {
		sig, err := canon.B64uDecode(env.PayloadString("content_sig"))
		if err != nil || !crypto.VerifyDirectContent(pub, sig, ct,
			sender, env.PayloadString("to"), env.PayloadInt("ts")) {
			c.log.Warnw("direct message failed content verification", "from", sender)
			return
		}
	}
	c.emit(&Event{eventType: EventDirect, sender: sender, msg: pt})
}

func (c *Client) handlePublic(env *wire.Envelope) {
	sender := env.PayloadString("from")
	if sender == c.userID {
		return
	}
	ct, err := canon.B64uDecode(env.PayloadString("ciphertext"))
	if err != nil {
		return
	}

	if pub := c.peerKey(sender); pub != nil {
		sig, err := canon.B64uDecode(env.PayloadString("content_sig"))
		if err != nil || !crypto.VerifyPublicContent(pub, sig, ct, sender, env.PayloadInt("ts")) {
			c.log.Warnw("public message failed content verification", "from", sender)
			return
		}
	}

	msg := ct
	if len(c.chanKey) == chacha20poly1305.KeySize {
		aead, err := chacha20poly1305.New(c.chanKey)
		if err != nil {
			return
		}
		nonce, err := canon.B64uDecode(env.PayloadString("nonce"))
		if err != nil || len(nonce) != aead.NonceSize() {
			return
		}
		msg, err = aead.Open(nil, nonce, ct, nil)
		if err != nil {
			c.log.Debugw("public message AEAD open failed", "from", sender)
			return
		}
	}
	c.emit(&Event{eventType: EventPublic, sender: sender, msg: msg})
}

func (c *Client) peerKey(uid string) *rsa.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[uid]
}

func (c *Client) emit(ev *Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warnw("event buffer full, dropping", "type", ev.Type().String())
	}
}

// ---- block helpers ----

// encryptBlocks OAEP-encrypts data and concatenates the fixed-size blocks.
func encryptBlocks(pub *rsa.PublicKey, data []byte) ([]byte, error) {
	chunks, err := crypto.OAEPEncryptLarge(pub, data)
	if err != nil {
		return nil, err
	}
	return bytes.Join(chunks, nil), nil
}

// decryptBlocks splits concatenated ciphertext on the modulus size and
// decrypts in order.
func decryptBlocks(priv *rsa.PrivateKey, ct []byte) ([]byte, error) {
	size := priv.PublicKey.Size()
	if len(ct) == 0 || len(ct)%size != 0 {
		return nil, fmt.Errorf("client: ciphertext length %d is not a multiple of %d", len(ct), size)
	}
	var chunks [][]byte
	for off := 0; off < len(ct); off += size {
		chunks = append(chunks, ct[off:off+size])
	}
	return crypto.OAEPDecryptLarge(priv, chunks)
}
