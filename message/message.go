// Package message defines the replication messages exchanged between peers and their wire encoding.
package message

import (
	"pkg.world.dev/world-engine/replicate/ownership"
	"pkg.world.dev/world-engine/replicate/types"
)

type Kind uint8

const (
	KindSpawn Kind = iota + 1
	KindDespawn
	KindSetProperty
	KindSetPropertyOwner
	// KindSnapshot asks the authority to resend every live entity to the sender.
	KindSnapshot
)

var kindNames = map[Kind]string{
	KindSpawn:            "Spawn",
	KindDespawn:          "Despawn",
	KindSetProperty:      "SetProperty",
	KindSetPropertyOwner: "SetPropertyOwner",
	KindSnapshot:         "Snapshot",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Access returns the level a sender must have for a message of this kind to reach its handler.
func (k Kind) Access(p *ownership.Protocol) ownership.Access {
	switch k {
	case KindSpawn, KindDespawn:
		return ownership.AccessSpawner
	case KindSetPropertyOwner:
		return p.TransferAccess()
	default:
		return ownership.AccessAny
	}
}

type Message interface {
	Kind() Kind
}

// Spawn carries the full state of an entity: every property value and every owner other than the authority.
type Spawn struct {
	Ref    types.EntityRef
	Values map[string][]byte
	Owners map[string]types.PeerID
}

type Despawn struct {
	Ref types.EntityRef
}

// SetProperty carries values for one or more properties of an entity. Receivers apply them together.
type SetProperty struct {
	Ref    types.EntityRef
	Values map[string][]byte
}

type SetPropertyOwner struct {
	Ref      types.EntityRef
	Property string
	Owner    types.PeerID
}

type Snapshot struct{}

func (Spawn) Kind() Kind            { return KindSpawn }
func (Despawn) Kind() Kind          { return KindDespawn }
func (SetProperty) Kind() Kind      { return KindSetProperty }
func (SetPropertyOwner) Kind() Kind { return KindSetPropertyOwner }
func (Snapshot) Kind() Kind         { return KindSnapshot }
