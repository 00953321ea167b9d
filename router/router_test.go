package router

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WillLehmann04/secure-programming/directory"
	"github.com/WillLehmann04/secure-programming/wire"
)

const (
	selfID = "11111111-1111-4111-8111-111111111111"
	peerID = "22222222-2222-4222-8222-222222222222"
	alice  = "33333333-3333-4333-8333-333333333333"
	bob    = "44444444-4444-4444-8444-444444444444"
)

type capture struct {
	to   string
	envs []*wire.Envelope
}

type sink struct {
	sent []capture
	fail bool
}

func (s *sink) fn(id string, env *wire.Envelope) error {
	if s.fail {
		return errors.New("link down")
	}
	s.sent = append(s.sent, capture{to: id, envs: []*wire.Envelope{env}})
	return nil
}

type nopLink struct{}

func (nopLink) Send(*wire.Envelope) error { return nil }
func (nopLink) Close(int, string) error   { return nil }

func newRouter(t *testing.T, dir *directory.Directory) (*Router, *sink, *sink) {
	t.Helper()
	toPeer := &sink{}
	toLocal := &sink{}
	r := New(Config{
		ServerID:    selfID,
		Directory:   dir,
		SendToPeer:  toPeer.fn,
		SendToLocal: toLocal.fn,
	})
	return r, toPeer, toLocal
}

func TestRouteToLocalUser(t *testing.T) {
	dir := directory.New()
	dir.AttachUser(alice, nopLink{})
	r, toPeer, toLocal := newRouter(t, dir)

	dm := wire.NewMsgDirect(bob, alice, wire.NowMS(), "ct", "cs")
	require.True(t, r.RouteToUser(alice, dm, true))

	require.Len(t, toLocal.sent, 1)
	require.Empty(t, toPeer.sent)
	got := toLocal.sent[0].envs[0]
	require.Equal(t, wire.TypeUserDeliver, got.Type)
	require.Equal(t, selfID, got.From)
	require.Equal(t, alice, got.To)
	require.Equal(t, "ct", got.Payload["ciphertext"])
	require.Equal(t, "cs", got.Payload["content_sig"])
}

func TestRouteToRemoteUser(t *testing.T) {
	dir := directory.New()
	dir.AttachPeer(peerID, nopLink{}, directory.Addr{})
	dir.SetUserLocation(alice, peerID)
	r, toPeer, toLocal := newRouter(t, dir)

	dm := wire.NewMsgDirect(bob, alice, wire.NowMS(), "ct", "cs")
	require.True(t, r.RouteToUser(alice, dm, true))

	require.Empty(t, toLocal.sent)
	require.Len(t, toPeer.sent, 1)
	require.Equal(t, peerID, toPeer.sent[0].to)
	got := toPeer.sent[0].envs[0]
	require.Equal(t, wire.TypePeerDeliver, got.Type)
	require.Equal(t, alice, got.Payload["user_id"])
	require.Equal(t, "ct", got.Payload["ciphertext"])
}

func TestUnknownUserQueuesThenDrains(t *testing.T) {
	dir := directory.New()
	r, toPeer, _ := newRouter(t, dir)

	dm := wire.NewMsgDirect(bob, alice, wire.NowMS(), "ct", "cs")
	require.False(t, r.RouteToUser(alice, dm, true))
	require.Equal(t, 1, r.QueueLen(alice))

	// advertise arrives: location learned, queue drains to the peer
	dir.AttachPeer(peerID, nopLink{}, directory.Addr{})
	r.RecordPresence(alice, peerID)

	require.Equal(t, 0, r.QueueLen(alice))
	require.Len(t, toPeer.sent, 1)
	require.Equal(t, wire.TypePeerDeliver, toPeer.sent[0].envs[0].Type)
}

func TestQueueNotUsedWhenDisallowed(t *testing.T) {
	dir := directory.New()
	r, _, _ := newRouter(t, dir)

	dm := wire.NewMsgDirect(bob, alice, wire.NowMS(), "ct", "cs")
	require.False(t, r.RouteToUser(alice, dm, false))
	require.Equal(t, 0, r.QueueLen(alice))
}

func TestQueueDropsOldestAtBound(t *testing.T) {
	dir := directory.New()
	toPeer := &sink{}
	toLocal := &sink{}
	r := New(Config{
		ServerID:    selfID,
		Directory:   dir,
		SendToPeer:  toPeer.fn,
		SendToLocal: toLocal.fn,
		QueueSize:   3,
	})

	for i := 0; i < 5; i++ {
		dm := wire.NewMsgDirect(bob, alice, int64(i), fmt.Sprintf("ct-%d", i), "cs")
		r.RouteToUser(alice, dm, true)
	}
	require.Equal(t, 3, r.QueueLen(alice))

	dir.AttachPeer(peerID, nopLink{}, directory.Addr{})
	r.RecordPresence(alice, peerID)

	// the two oldest were shed; 2..4 arrive in order
	require.Len(t, toPeer.sent, 3)
	for i, want := range []string{"ct-2", "ct-3", "ct-4"} {
		require.Equal(t, want, toPeer.sent[i].envs[0].Payload["ciphertext"])
	}
}

func TestDuplicateFingerprintSuppressed(t *testing.T) {
	r, _, _ := newRouter(t, directory.New())

	dm := wire.NewMsgDirect(bob, alice, 1700000000000, "ct", "cs")
	require.False(t, r.AlreadySeen(dm))
	require.True(t, r.AlreadySeen(dm))

	// same content, different timestamp: a distinct frame
	dm2 := wire.NewMsgDirect(bob, alice, 1700000000001, "ct", "cs")
	require.False(t, r.AlreadySeen(dm2))
}

func TestRememberMarksWithoutRouting(t *testing.T) {
	r, _, _ := newRouter(t, directory.New())
	dm := wire.NewMsgDirect(bob, alice, 1700000000000, "ct", "cs")
	r.Remember(dm)
	require.True(t, r.AlreadySeen(dm))
}

func TestBroadcastHeartbeatReachesAllPeers(t *testing.T) {
	dir := directory.New()
	dir.AttachPeer(peerID, nopLink{}, directory.Addr{})
	other := "55555555-5555-4555-8555-555555555555"
	dir.AttachPeer(other, nopLink{}, directory.Addr{})

	var mu sync.Mutex
	got := map[string]string{}
	r := New(Config{
		ServerID:  selfID,
		Directory: dir,
		SendToPeer: func(id string, env *wire.Envelope) error {
			mu.Lock()
			got[id] = env.Type
			mu.Unlock()
			return nil
		},
		SendToLocal: func(string, *wire.Envelope) error { return nil },
	})

	r.BroadcastHeartbeat()
	require.Equal(t, map[string]string{
		peerID: wire.TypeHeartbeat,
		other:  wire.TypeHeartbeat,
	}, got)
}

func TestReapPeersClosesLinks(t *testing.T) {
	dir := directory.New()
	stale := &closeLink{}
	dir.AttachPeer(peerID, stale, directory.Addr{})
	dir.SetPeerSeen(peerID, time.Now().Add(-time.Minute))
	r, _, _ := newRouter(t, dir)

	ids := r.ReapPeers(45 * time.Second)
	require.Equal(t, []string{peerID}, ids)
	require.True(t, stale.closed)
	_, ok := dir.PeerLink(peerID)
	require.False(t, ok)
}

type closeLink struct{ closed bool }

func (c *closeLink) Send(*wire.Envelope) error { return nil }
func (c *closeLink) Close(code int, reason string) error {
	c.closed = true
	return nil
}
