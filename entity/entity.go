// Package entity binds a record's replicated properties to an identity and to the replicator that owns it.
package entity

import (
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/ownership"
	"pkg.world.dev/world-engine/replicate/property"
	"pkg.world.dev/world-engine/replicate/types"
)

// Record is the user-defined state of an entity kind.
type Record interface {
	property.Declarable
}

// ReplicatedHook is implemented by records that react to inbound property values, e.g. to refresh a visual.
type ReplicatedHook interface {
	PropertyReplicated(e *Entity, name string)
}

type SpawnHook interface {
	Spawned(e *Entity)
}

type DespawnHook interface {
	Despawned(e *Entity)
}

// Positioned records can be found by distance.
type Positioned interface {
	Position() types.Vec3
}

// Context is the replicator an entity belongs to. An entity is given its context at construction and never looks it
// up.
type Context interface {
	LocalPeer() types.PeerID
	Protocol() *ownership.Protocol
	SendPropertyValues(e *Entity, values map[string][]byte) error
	SendPropertyOwner(e *Entity, name string, owner types.PeerID) error
}

type Listener func(e *Entity, name string)

type Entity struct {
	id        types.EntityID
	record    Record
	props     *property.Set
	ctx       Context
	listeners []Listener
}

func New(ctx Context, registry *property.Registry, id types.EntityID, rec Record) (*Entity, error) {
	if rec == nil {
		return nil, eris.New("entity record must not be nil")
	}
	props, err := registry.Discover(rec)
	if err != nil {
		return nil, err
	}
	return &Entity{
		id:     id,
		record: rec,
		props:  props,
		ctx:    ctx,
	}, nil
}

func (e *Entity) ID() types.EntityID {
	return e.id
}

func (e *Entity) Kind() string {
	return e.props.Kind()
}

func (e *Entity) Ref() types.EntityRef {
	return types.EntityRef{Type: e.Kind(), ID: e.id}
}

func (e *Entity) Record() Record {
	return e.record
}

// Properties returns the property set discovered when the entity was created.
func (e *Entity) Properties() *property.Set {
	return e.props
}

func (e *Entity) Position() (types.Vec3, bool) {
	if p, ok := e.record.(Positioned); ok {
		return p.Position(), true
	}
	return types.Vec3{}, false
}

// OnReplicated registers a listener called with the property name after inbound values are applied.
func (e *Entity) OnReplicated(l Listener) {
	e.listeners = append(e.listeners, l)
}

func (e *Entity) PropertyOwner(name string) (types.PeerID, error) {
	return e.props.Owner(name)
}

// IsPropertyOwner reports whether the local peer owns the property.
func (e *Entity) IsPropertyOwner(name string) bool {
	return e.props.IsOwner(name, e.ctx.LocalPeer())
}

func (e *Entity) IsPropertyOwnerPeer(name string, peer types.PeerID) bool {
	return e.props.IsOwner(name, peer)
}

func (e *Entity) PropertyOwners() map[string]types.PeerID {
	return e.props.Owners()
}

func (e *Entity) PropertyValues() (map[string][]byte, error) {
	return e.props.Values()
}

// SetPropertyOwner assigns the property to owner on every peer. Only a peer allowed to transfer ownership may call it.
// Assigning the current owner does nothing.
func (e *Entity) SetPropertyOwner(name string, owner types.PeerID) error {
	if err := e.ctx.Protocol().CheckTransfer(e.ctx.LocalPeer()); err != nil {
		return err
	}
	changed, err := e.props.SetOwner(name, owner)
	if err != nil || !changed {
		return err
	}
	return e.ctx.SendPropertyOwner(e, name, owner)
}

// ApplyPropertyOwner applies an ownership assignment received from sender. The caller has already checked that sender
// may transfer ownership.
func (e *Entity) ApplyPropertyOwner(name string, owner types.PeerID) (bool, error) {
	return e.props.SetOwner(name, owner)
}

// ChangedPropertyValues returns the serialized value of every locally owned property that changed since the last call.
func (e *Entity) ChangedPropertyValues() (map[string][]byte, error) {
	return e.props.ChangedValues(e.ctx.LocalPeer())
}

// BroadcastChangedPropertyValues sends the changed locally owned properties to every peer and returns what was sent.
// Nothing is sent when nothing changed.
func (e *Entity) BroadcastChangedPropertyValues() (map[string][]byte, error) {
	changed, err := e.ChangedPropertyValues()
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return changed, nil
	}
	if err := e.ctx.SendPropertyValues(e, changed); err != nil {
		return nil, err
	}
	return changed, nil
}

func (e *Entity) SetPropertyValue(name string, value []byte) error {
	return e.SetPropertyValues(map[string][]byte{name: value})
}

// SetPropertyValues deserializes and assigns every value, then notifies once per property. Nothing is assigned if any
// value fails to decode.
func (e *Entity) SetPropertyValues(values map[string][]byte) error {
	apply, err := e.props.Decode(values)
	if err != nil {
		return err
	}
	apply()
	e.notify(e.props.Ordered(values))
	return nil
}

// ReplacePropertyValues assigns every value without notifying. It is for local writes, such as a respawn under a
// live id, that did not arrive from the network. Nothing is assigned if any value fails to decode.
func (e *Entity) ReplacePropertyValues(values map[string][]byte) error {
	apply, err := e.props.Decode(values)
	if err != nil {
		return err
	}
	apply()
	return nil
}

// ApplyPropertyValues applies values received from sender after checking that sender owns every one of them. A single
// violation rejects the whole message.
func (e *Entity) ApplyPropertyValues(sender types.PeerID, values map[string][]byte) error {
	protocol := e.ctx.Protocol()
	for _, name := range e.props.Ordered(values) {
		owner, _ := e.props.Owner(name)
		if err := protocol.CheckPropertyOrigin(name, sender, owner); err != nil {
			return eris.Wrapf(err, "entity %s", e.Ref())
		}
	}
	return e.SetPropertyValues(values)
}

// ApplySnapshot brings the entity to the state carried by a spawn message: owners are replaced and values assigned.
func (e *Entity) ApplySnapshot(values map[string][]byte, owners map[string]types.PeerID) error {
	apply, err := e.props.Decode(values)
	if err != nil {
		return err
	}
	if err := e.props.ApplyOwners(owners); err != nil {
		return err
	}
	apply()
	e.notify(e.props.Ordered(values))
	return nil
}

func (e *Entity) notify(names []string) {
	hook, hasHook := e.record.(ReplicatedHook)
	for _, name := range names {
		if hasHook {
			hook.PropertyReplicated(e, name)
		}
		for _, l := range e.listeners {
			l(e, name)
		}
	}
}

// Spawned runs the record's spawn hook, if any.
func (e *Entity) Spawned() {
	if hook, ok := e.record.(SpawnHook); ok {
		hook.Spawned(e)
	}
}

// Despawned runs the record's despawn hook, if any.
func (e *Entity) Despawned() {
	if hook, ok := e.record.(DespawnHook); ok {
		hook.Despawned(e)
	}
}
