package types

import "strconv"

// PeerID identifies a connected peer. Ids are assigned by the transport, never by the replication core.
type PeerID int32

const (
	// LocalPeerID is the sender id of a call that did not arrive over the network.
	LocalPeerID PeerID = 0
	// AuthorityPeerID is the reserved id of the authority, which is also the default owner of every property.
	AuthorityPeerID PeerID = 1
	// Broadcast is the destination id that addresses every connected peer.
	Broadcast PeerID = 0
)

func (p PeerID) IsAuthority() bool {
	return p == AuthorityPeerID
}

func (p PeerID) String() string {
	return strconv.Itoa(int(p))
}
