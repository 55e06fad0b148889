package ws_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/inbox"
	"pkg.world.dev/world-engine/replicate/transport/ws"
	"pkg.world.dev/world-engine/replicate/types"
)

// recorder accumulates everything a transport pushed into its queue.
type recorder struct {
	q      *inbox.Queue
	mux    sync.Mutex
	events []inbox.Event
}

func newRecorder() *recorder {
	return &recorder{q: inbox.New()}
}

func (r *recorder) has(kind inbox.EventKind, peer types.PeerID, payload string) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.events = append(r.events, r.q.Drain()...)
	for _, e := range r.events {
		if e.Kind == kind && e.Peer == peer && string(e.Payload) == payload {
			return true
		}
	}
	return false
}

func (r *recorder) eventually(t *testing.T, kind inbox.EventKind, peer types.PeerID, payload string) {
	t.Helper()
	assert.Eventually(t, func() bool { return r.has(kind, peer, payload) }, 5*time.Second, 10*time.Millisecond,
		"expected %s from peer %d", kind, peer)
}

func startHub(t *testing.T) (*ws.Hub, *recorder, string) {
	rec := newRecorder()
	hub := ws.NewHub(rec.q)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/peer", ws.Upgrader)
	app.Get("/peer", hub.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = hub.Close()
		_ = app.Shutdown()
	})
	return hub, rec, "ws://" + ln.Addr().String() + "/peer"
}

func dial(t *testing.T, url string) (*ws.Client, *recorder) {
	rec := newRecorder()
	client, err := ws.Dial(context.Background(), url, rec.q)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, rec
}

func TestHubAssignsPeerIDs(t *testing.T) {
	hub, hubRec, url := startHub(t)
	a, aRec := dial(t, url)
	b, bRec := dial(t, url)

	assert.Equal(t, types.PeerID(2), a.LocalPeer())
	assert.Equal(t, types.PeerID(3), b.LocalPeer())
	assert.Equal(t, types.AuthorityPeerID, hub.LocalPeer())

	hubRec.eventually(t, inbox.Connected, 2, "")
	hubRec.eventually(t, inbox.Connected, 3, "")
	aRec.eventually(t, inbox.Connected, types.AuthorityPeerID, "")
	aRec.eventually(t, inbox.Connected, 3, "")
	bRec.eventually(t, inbox.Connected, types.AuthorityPeerID, "")
	bRec.eventually(t, inbox.Connected, 2, "")
	assert.Equal(t, 2, hub.ConnectionAmount())
}

func TestBroadcastIsRelayedWithSender(t *testing.T) {
	hub, hubRec, url := startHub(t)
	a, _ := dial(t, url)
	_, bRec := dial(t, url)
	hubRec.eventually(t, inbox.Connected, 3, "")

	assert.NilError(t, a.Broadcast([]byte("from-a")))
	hubRec.eventually(t, inbox.Received, 2, "from-a")
	bRec.eventually(t, inbox.Received, 2, "from-a")

	assert.NilError(t, hub.Broadcast([]byte("from-hub")))
	bRec.eventually(t, inbox.Received, types.AuthorityPeerID, "from-hub")
}

func TestUnicast(t *testing.T) {
	hub, hubRec, url := startHub(t)
	a, aRec := dial(t, url)
	b, bRec := dial(t, url)
	hubRec.eventually(t, inbox.Connected, 3, "")

	assert.NilError(t, a.Send(b.LocalPeer(), []byte("direct")))
	bRec.eventually(t, inbox.Received, a.LocalPeer(), "direct")

	assert.NilError(t, b.Send(types.AuthorityPeerID, []byte("to-hub")))
	hubRec.eventually(t, inbox.Received, b.LocalPeer(), "to-hub")

	assert.NilError(t, hub.Send(a.LocalPeer(), []byte("to-a")))
	aRec.eventually(t, inbox.Received, types.AuthorityPeerID, "to-a")

	assert.IsError(t, hub.Send(42, []byte("nobody")))
}

func TestDisconnectPeer(t *testing.T) {
	hub, hubRec, url := startHub(t)
	a, aRec := dial(t, url)
	_, bRec := dial(t, url)
	hubRec.eventually(t, inbox.Connected, 3, "")

	assert.NilError(t, hub.DisconnectPeer(a.LocalPeer()))
	aRec.eventually(t, inbox.ConnectionLost, 0, "")
	hubRec.eventually(t, inbox.Disconnected, 2, "")
	bRec.eventually(t, inbox.Disconnected, 2, "")

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the disconnect")
	}
	assert.IsError(t, a.Broadcast([]byte("late")))
}
