// Package loopback is an in-process network. Delivery is synchronous: a payload sent by one endpoint is in the
// receiver's sink when Send returns.
package loopback

import (
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/transport"
	"pkg.world.dev/world-engine/replicate/types"
)

type Network struct {
	mux   *sync.Mutex
	sinks map[types.PeerID]transport.Sink
	order []types.PeerID
}

func NewNetwork() *Network {
	return &Network{
		mux:   &sync.Mutex{},
		sinks: map[types.PeerID]transport.Sink{},
	}
}

// Join attaches a peer. The peer and every peer already attached are told about each other.
func (n *Network) Join(peer types.PeerID, sink transport.Sink) (*Endpoint, error) {
	if peer == types.LocalPeerID {
		return nil, eris.New("peer id 0 is reserved for local calls")
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	if _, ok := n.sinks[peer]; ok {
		return nil, eris.Errorf("peer %d already joined", peer)
	}
	for _, other := range n.order {
		n.sinks[other].PeerConnected(peer)
		sink.PeerConnected(other)
	}
	n.sinks[peer] = sink
	n.order = append(n.order, peer)
	return &Endpoint{network: n, peer: peer}, nil
}

// Leave detaches a peer. The peer loses its connection; the others see it disconnect. When the authority leaves,
// every remaining peer loses its connection.
func (n *Network) Leave(peer types.PeerID) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	sink, ok := n.sinks[peer]
	if !ok {
		return eris.Wrapf(transport.ErrUnknownPeer, "peer %d", peer)
	}
	delete(n.sinks, peer)
	n.order = slices.DeleteFunc(n.order, func(p types.PeerID) bool { return p == peer })
	sink.ConnectionLost()
	for _, other := range n.order {
		if peer == types.AuthorityPeerID {
			n.sinks[other].ConnectionLost()
		} else {
			n.sinks[other].PeerDisconnected(peer)
		}
	}
	return nil
}

// Peers returns the attached peers in join order.
func (n *Network) Peers() []types.PeerID {
	n.mux.Lock()
	defer n.mux.Unlock()
	return slices.Clone(n.order)
}

// Inject delivers payload to peer as if sent by from, whether or not from is attached.
func (n *Network) Inject(from, to types.PeerID, payload []byte) error {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.deliver(from, to, payload)
}

func (n *Network) deliver(from, to types.PeerID, payload []byte) error {
	sink, ok := n.sinks[to]
	if !ok {
		return eris.Wrapf(transport.ErrUnknownPeer, "peer %d", to)
	}
	sink.Receive(from, slices.Clone(payload))
	return nil
}

type Endpoint struct {
	network *Network
	peer    types.PeerID
}

var (
	_ transport.Transport    = (*Endpoint)(nil)
	_ transport.Disconnector = (*Endpoint)(nil)
)

func (e *Endpoint) LocalPeer() types.PeerID {
	return e.peer
}

func (e *Endpoint) attached() bool {
	_, ok := e.network.sinks[e.peer]
	return ok
}

func (e *Endpoint) Send(to types.PeerID, payload []byte) error {
	e.network.mux.Lock()
	defer e.network.mux.Unlock()
	if !e.attached() {
		return transport.ErrClosed
	}
	return e.network.deliver(e.peer, to, payload)
}

func (e *Endpoint) Broadcast(payload []byte) error {
	e.network.mux.Lock()
	defer e.network.mux.Unlock()
	if !e.attached() {
		return transport.ErrClosed
	}
	for _, other := range e.network.order {
		if other == e.peer {
			continue
		}
		if err := e.network.deliver(e.peer, other, payload); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectPeer detaches another peer from the network.
func (e *Endpoint) DisconnectPeer(peer types.PeerID) error {
	return e.network.Leave(peer)
}

func (e *Endpoint) Close() error {
	return e.network.Leave(e.peer)
}
