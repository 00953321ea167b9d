package client

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/WillLehmann04/secure-programming/canon"
	"github.com/WillLehmann04/secure-programming/crypto"
	"github.com/WillLehmann04/secure-programming/wire"
)

const (
	selfID   = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	friendID = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	homeSID  = "11111111-1111-4111-8111-111111111111"
)

var (
	keyOnce   sync.Once
	selfKey   *rsa.PrivateKey
	friendKey *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if selfKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if friendKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return selfKey, friendKey
}

func newTestClient(t *testing.T, chanKey []byte) *Client {
	t.Helper()
	key, _ := testKeys(t)
	c, err := newClient(Options{UserID: selfID, Key: key, ChannelKey: chanKey})
	require.NoError(t, err)
	return c
}

// learnFriend feeds the client a USER_ADVERTISE for friendID.
func learnFriend(t *testing.T, c *Client) {
	t.Helper()
	_, fk := testKeys(t)
	pem, err := crypto.EncodePublicKey(&fk.PublicKey)
	require.NoError(t, err)
	adv := wire.NewUserAdvertise(homeSID, wire.Broadcast, friendID, pem, "", "", nil, 1)
	c.handleFrame(adv)

	ev := <-c.Events()
	require.Equal(t, EventAdvertise, ev.Type())
	require.Equal(t, friendID, ev.Sender())
}

func TestNewClientValidation(t *testing.T) {
	key, _ := testKeys(t)
	_, err := newClient(Options{UserID: "not-a-uuid", Key: key})
	require.Error(t, err)
	_, err = newClient(Options{UserID: selfID})
	require.Error(t, err)
}

func TestBlockRoundTrip(t *testing.T) {
	key, _ := testKeys(t)
	plaintext := bytes.Repeat([]byte("block cipher plumbing "), 40) // several OAEP blocks

	ct, err := encryptBlocks(&key.PublicKey, plaintext)
	require.NoError(t, err)
	require.Equal(t, 0, len(ct)%key.PublicKey.Size())

	got, err := decryptBlocks(key, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	_, err = decryptBlocks(key, ct[:len(ct)-1])
	require.Error(t, err)
}

func TestDirectDeliveryDecryptsAndVerifies(t *testing.T) {
	c := newTestClient(t, nil)
	learnFriend(t, c)
	myKey, fk := testKeys(t)

	ts := wire.NowMS()
	ct, err := encryptBlocks(&myKey.PublicKey, []byte("hello alice"))
	require.NoError(t, err)
	cs, err := crypto.SignDirectContent(fk, ct, friendID, selfID, ts)
	require.NoError(t, err)
	dm := wire.NewMsgDirect(friendID, selfID, ts, canon.B64u(ct), canon.B64u(cs))

	deliver := wire.NewUserDeliver(homeSID, selfID, dm.Payload)
	c.handleFrame(roundTrip(t, deliver))

	ev := <-c.Events()
	require.Equal(t, EventDirect, ev.Type())
	require.Equal(t, friendID, ev.Sender())
	require.Equal(t, []byte("hello alice"), ev.Msg())
}

func TestDirectDeliveryRejectsForgedContentSig(t *testing.T) {
	c := newTestClient(t, nil)
	learnFriend(t, c)
	myKey, fk := testKeys(t)

	ts := wire.NowMS()
	ct, err := encryptBlocks(&myKey.PublicKey, []byte("hello"))
	require.NoError(t, err)
	// signature over different addressing must not verify
	cs, err := crypto.SignDirectContent(fk, ct, friendID, friendID, ts)
	require.NoError(t, err)
	dm := wire.NewMsgDirect(friendID, selfID, ts, canon.B64u(ct), canon.B64u(cs))

	c.handleFrame(wire.NewUserDeliver(homeSID, selfID, dm.Payload))
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Type())
	default:
	}
}

func TestPublicChannelRoundTrip(t *testing.T) {
	chanKey := bytes.Repeat([]byte{7}, chacha20poly1305.KeySize)
	c := newTestClient(t, chanKey)
	learnFriend(t, c)
	_, fk := testKeys(t)

	aead, err := chacha20poly1305.New(chanKey)
	require.NoError(t, err)
	nonce := bytes.Repeat([]byte{1}, aead.NonceSize())
	ct := aead.Seal(nil, nonce, []byte("hi everyone"), nil)

	ts := wire.NowMS()
	cs, err := crypto.SignPublicContent(fk, ct, friendID, ts)
	require.NoError(t, err)
	env := wire.NewMsgPublic(friendID, ts, canon.B64u(nonce), canon.B64u(ct), canon.B64u(cs))
	c.handleFrame(roundTrip(t, env))

	ev := <-c.Events()
	require.Equal(t, EventPublic, ev.Type())
	require.Equal(t, []byte("hi everyone"), ev.Msg())
}

func TestOwnPublicMessageIgnored(t *testing.T) {
	c := newTestClient(t, nil)
	env := wire.NewMsgPublic(selfID, wire.NowMS(), "", canon.B64u([]byte("x")), "")
	c.handleFrame(env)
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Type())
	default:
	}
}

func TestAckLearnsServerID(t *testing.T) {
	c := newTestClient(t, nil)
	hello := wire.NewUserHello(selfID, "", "test", c.pubPEM, c.pubPEM)
	c.handleFrame(wire.NewAck(homeSID, selfID, hello))

	ev := <-c.Events()
	require.Equal(t, EventAck, ev.Type())
	require.Equal(t, wire.TypeUserHello, ev.MsgRef())
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, homeSID, c.serverID)
}

func TestUserListEvent(t *testing.T) {
	c := newTestClient(t, nil)
	c.handleFrame(roundTrip(t, wire.NewUserList(homeSID, selfID, []string{selfID, friendID})))

	ev := <-c.Events()
	require.Equal(t, EventUserList, ev.Type())
	require.Equal(t, []string{selfID, friendID}, ev.Users())
}

func TestFileReassemblyOutOfOrder(t *testing.T) {
	c := newTestClient(t, nil)
	myKey, _ := testKeys(t)

	data := bytes.Repeat([]byte("file payload "), 100)
	chunk1 := data[:700]
	chunk2 := data[700:]

	start := map[string]interface{}{
		"file_id": "f-1",
		"name":    "notes.txt",
		"size":    len(data),
		"sha256":  sha256Hex(data),
		"mode":    "dm",
		"from":    friendID,
	}
	c.handleFilePayload(start)

	ct2, err := encryptBlocks(&myKey.PublicKey, chunk2)
	require.NoError(t, err)
	ct1, err := encryptBlocks(&myKey.PublicKey, chunk1)
	require.NoError(t, err)
	c.handleFilePayload(map[string]interface{}{"file_id": "f-1", "index": 1, "ciphertext": canon.B64u(ct2)})
	c.handleFilePayload(map[string]interface{}{"file_id": "f-1", "index": 0, "ciphertext": canon.B64u(ct1)})

	c.handleFilePayload(map[string]interface{}{"file_id": "f-1"})

	ev := <-c.Events()
	require.Equal(t, EventFile, ev.Type())
	require.Equal(t, "notes.txt", ev.FileName())
	require.Equal(t, friendID, ev.Sender())
	require.Equal(t, data, ev.Msg())
}

func TestFileHashMismatchReported(t *testing.T) {
	c := newTestClient(t, nil)
	myKey, _ := testKeys(t)

	c.handleFilePayload(map[string]interface{}{
		"file_id": "f-2", "name": "bad.bin", "size": 3,
		"sha256": sha256Hex([]byte("expected")), "from": friendID,
	})
	ct, err := encryptBlocks(&myKey.PublicKey, []byte("actual"))
	require.NoError(t, err)
	c.handleFilePayload(map[string]interface{}{"file_id": "f-2", "index": 0, "ciphertext": canon.B64u(ct)})
	c.handleFilePayload(map[string]interface{}{"file_id": "f-2"})

	ev := <-c.Events()
	require.Equal(t, EventError, ev.Type())
	require.Equal(t, "BAD_FILE", ev.Code())
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// roundTrip pushes an envelope through the wire codec so payload values
// arrive the way a real connection delivers them.
func roundTrip(t *testing.T, env *wire.Envelope) *wire.Envelope {
	t.Helper()
	raw, err := env.Marshal()
	require.NoError(t, err)
	out, err := wire.Parse(raw)
	require.NoError(t, err)
	return out
}
