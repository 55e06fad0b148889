package loopback_test

import (
	"testing"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/inbox"
	"pkg.world.dev/world-engine/replicate/transport"
	"pkg.world.dev/world-engine/replicate/transport/loopback"
	"pkg.world.dev/world-engine/replicate/types"
)

func TestJoinAnnouncesPeers(t *testing.T) {
	net := loopback.NewNetwork()
	q1, q2 := inbox.New(), inbox.New()
	_, err := net.Join(types.AuthorityPeerID, q1)
	assert.NilError(t, err)
	_, err = net.Join(2, q2)
	assert.NilError(t, err)

	assert.DeepEqual(t, []inbox.Event{{Kind: inbox.Connected, Peer: 2}}, q1.Drain())
	assert.DeepEqual(t, []inbox.Event{{Kind: inbox.Connected, Peer: types.AuthorityPeerID}}, q2.Drain())

	_, err = net.Join(2, inbox.New())
	assert.IsError(t, err)
	_, err = net.Join(types.LocalPeerID, inbox.New())
	assert.IsError(t, err)
}

func TestBroadcastSkipsSender(t *testing.T) {
	net := loopback.NewNetwork()
	q1, q2, q3 := inbox.New(), inbox.New(), inbox.New()
	authority, err := net.Join(types.AuthorityPeerID, q1)
	assert.NilError(t, err)
	_, err = net.Join(2, q2)
	assert.NilError(t, err)
	_, err = net.Join(3, q3)
	assert.NilError(t, err)
	q1.Drain()
	q2.Drain()
	q3.Drain()

	assert.NilError(t, authority.Broadcast([]byte("hi")))
	assert.Len(t, q1.Drain(), 0)
	assert.DeepEqual(t, []inbox.Event{{Kind: inbox.Received, Peer: 1, Payload: []byte("hi")}}, q2.Drain())
	assert.DeepEqual(t, []inbox.Event{{Kind: inbox.Received, Peer: 1, Payload: []byte("hi")}}, q3.Drain())

	assert.NilError(t, authority.Send(3, []byte("only you")))
	assert.Len(t, q2.Drain(), 0)
	assert.Len(t, q3.Drain(), 1)
	assert.ErrorIs(t, authority.Send(9, nil), transport.ErrUnknownPeer)
}

func TestAuthorityLeavingDropsEveryone(t *testing.T) {
	net := loopback.NewNetwork()
	q1, q2, q3 := inbox.New(), inbox.New(), inbox.New()
	authority, err := net.Join(types.AuthorityPeerID, q1)
	assert.NilError(t, err)
	peer, err := net.Join(2, q2)
	assert.NilError(t, err)
	_, err = net.Join(3, q3)
	assert.NilError(t, err)
	q1.Drain()
	q2.Drain()
	q3.Drain()

	assert.NilError(t, peer.Close())
	assert.DeepEqual(t, []inbox.Event{{Kind: inbox.ConnectionLost}}, q2.Drain())
	assert.DeepEqual(t, []inbox.Event{{Kind: inbox.Disconnected, Peer: 2}}, q1.Drain())
	assert.ErrorIs(t, peer.Broadcast(nil), transport.ErrClosed)

	assert.NilError(t, authority.Close())
	assert.DeepEqual(t, []inbox.Event{{Kind: inbox.Disconnected, Peer: 2}, {Kind: inbox.ConnectionLost}}, q3.Drain())
	assert.Len(t, net.Peers(), 1)
}
