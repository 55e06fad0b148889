// Package transport is the boundary between the replication core and the network. Transports own peer discovery,
// connection management and peer id assignment; the core only sends payloads and consumes connection events.
package transport

import (
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/types"
)

var (
	ErrClosed      = eris.New("transport is closed")
	ErrUnknownPeer = eris.New("peer is not connected")
)

type Transport interface {
	// LocalPeer is the id the transport assigned to this process.
	LocalPeer() types.PeerID
	// Send delivers payload to a single peer.
	Send(to types.PeerID, payload []byte) error
	// Broadcast delivers payload to every connected peer except the local one.
	Broadcast(payload []byte) error
}

// Sink receives connection events and payloads. Transports call it from their own goroutines, so implementations must
// be safe for concurrent use.
type Sink interface {
	PeerConnected(peer types.PeerID)
	PeerDisconnected(peer types.PeerID)
	Receive(from types.PeerID, payload []byte)
	// ConnectionLost reports that the local connection to the network is gone.
	ConnectionLost()
}

// Disconnector is implemented by transports able to drop a peer, for instance after a protocol violation.
type Disconnector interface {
	DisconnectPeer(peer types.PeerID) error
}
