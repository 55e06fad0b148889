// Package ownership decides who may originate property values, transfer property ownership and spawn entities.
//
// Outbound filtering lives with the property set: a peer only ever broadcasts what it owns. This package covers the
// inbound side, which must reject a violation before anything observable changes.
package ownership

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/types"
)

var (
	ErrProtocolViolation = eris.New("protocol violation")
	ErrNotOwner          = eris.Wrap(ErrProtocolViolation, "sender does not own the property")
	ErrNotAuthority      = eris.Wrap(ErrProtocolViolation, "sender is not the authority")
	ErrNoSpawnRights     = eris.Wrap(ErrProtocolViolation, "sender may not spawn or despawn entities")
)

// Access is the gate a message passes before its handler runs.
type Access int

const (
	// AccessAny accepts any connected peer.
	AccessAny Access = iota
	// AccessAuthorityOnly accepts only the authority.
	AccessAuthorityOnly
	// AccessSpawner accepts the authority and peers delegated spawn rights.
	AccessSpawner
)

func (a Access) String() string {
	switch a {
	case AccessAny:
		return "Any"
	case AccessAuthorityOnly:
		return "AuthorityOnly"
	case AccessSpawner:
		return "Spawner"
	default:
		return "Unknown"
	}
}

type TransferPolicy string

const (
	// TransferAuthorityOnly lets only the authority reassign property ownership.
	TransferAuthorityOnly TransferPolicy = "authority"
	// TransferAnyPeer lets any peer reassign property ownership.
	TransferAnyPeer TransferPolicy = "any"
)

func ParseTransferPolicy(s string) (TransferPolicy, error) {
	switch TransferPolicy(strings.ToLower(s)) {
	case "", TransferAuthorityOnly:
		return TransferAuthorityOnly, nil
	case TransferAnyPeer:
		return TransferAnyPeer, nil
	default:
		return "", eris.Errorf("unknown transfer policy %q", s)
	}
}

type Policy struct {
	Transfer TransferPolicy
	// LoopbackOverride lets a message injected locally with sender LocalPeerID set properties the local peer does not
	// own. Such a value is applied locally only; it reaches other peers only if the local peer owns the property.
	LoopbackOverride bool
	// Spawners are peers other than the authority allowed to spawn and despawn entities.
	Spawners []types.PeerID
}

func DefaultPolicy() Policy {
	return Policy{Transfer: TransferAuthorityOnly}
}

type Protocol struct {
	policy Policy
}

func NewProtocol(policy Policy) *Protocol {
	if policy.Transfer == "" {
		policy.Transfer = TransferAuthorityOnly
	}
	return &Protocol{policy: policy}
}

func (p *Protocol) Policy() Policy {
	return p.policy
}

// TransferAccess is the access level of ownership transfer messages under the configured policy.
func (p *Protocol) TransferAccess() Access {
	if p.policy.Transfer == TransferAnyPeer {
		return AccessAny
	}
	return AccessAuthorityOnly
}

// Authorize is the dispatch gate: it checks that sender may invoke an operation of the given access level.
func (p *Protocol) Authorize(access Access, sender types.PeerID) error {
	switch access {
	case AccessAny:
		return nil
	case AccessAuthorityOnly:
		if sender != types.AuthorityPeerID {
			return eris.Wrapf(ErrNotAuthority, "sender %d", sender)
		}
		return nil
	case AccessSpawner:
		if !p.CanSpawn(sender) {
			return eris.Wrapf(ErrNoSpawnRights, "sender %d", sender)
		}
		return nil
	default:
		return eris.Errorf("unknown access level %d", access)
	}
}

// CheckPropertyOrigin verifies that sender may originate a value for a property currently owned by owner.
func (p *Protocol) CheckPropertyOrigin(name string, sender, owner types.PeerID) error {
	if sender == owner {
		return nil
	}
	if sender == types.LocalPeerID && p.policy.LoopbackOverride {
		return nil
	}
	return eris.Wrapf(ErrNotOwner, "property %q is owned by %d, sender %d", name, owner, sender)
}

// CheckTransfer verifies that sender may reassign property ownership.
func (p *Protocol) CheckTransfer(sender types.PeerID) error {
	return p.Authorize(p.TransferAccess(), sender)
}

func (p *Protocol) CanSpawn(peer types.PeerID) bool {
	return peer == types.AuthorityPeerID || slices.Contains(p.policy.Spawners, peer)
}
