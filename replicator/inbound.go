package replicator

import (
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/inbox"
	"pkg.world.dev/world-engine/replicate/message"
	"pkg.world.dev/world-engine/replicate/ownership"
	"pkg.world.dev/world-engine/replicate/types"
)

type handler func(sender types.PeerID, m message.Message) (types.EntityRef, error)

// HandleMessage decodes and dispatches a payload received from sender. A message that fails to decode, fails the
// access gate or fails validation is reported to the fault handler, and the error is returned.
func (r *Replicator) HandleMessage(sender types.PeerID, payload []byte) error {
	m, err := message.Decode(payload)
	if err != nil {
		r.fault(Fault{Sender: sender, Err: err})
		return err
	}
	if err := r.protocol.Authorize(m.Kind().Access(r.protocol), sender); err != nil {
		r.fault(Fault{Sender: sender, Kind: m.Kind(), Ref: refOf(m), Err: err})
		return err
	}
	ref, err := r.handlers[m.Kind()](sender, m)
	if err != nil {
		r.fault(Fault{Sender: sender, Kind: m.Kind(), Ref: ref, Err: err})
		return err
	}
	return nil
}

func refOf(m message.Message) types.EntityRef {
	switch msg := m.(type) {
	case message.Spawn:
		return msg.Ref
	case message.Despawn:
		return msg.Ref
	case message.SetProperty:
		return msg.Ref
	case message.SetPropertyOwner:
		return msg.Ref
	}
	return types.EntityRef{}
}

// handleSpawn merges the carried state into a live entity with the same id, or instantiates one from the template.
// Only the authority may merge into a live entity: the carried owner map would otherwise bypass the transfer gate.
func (r *Replicator) handleSpawn(sender types.PeerID, m message.Message) (types.EntityRef, error) {
	spawn := m.(message.Spawn)
	if e, ok := r.index[spawn.Ref.ID]; ok {
		if e.Kind() != spawn.Ref.Type {
			return spawn.Ref, ErrTypeMismatch
		}
		if !sender.IsAuthority() {
			return spawn.Ref, eris.Wrapf(ownership.ErrNotAuthority, "peer %d respawned live entity %s", sender, spawn.Ref)
		}
		if err := e.ApplySnapshot(spawn.Values, spawn.Owners); err != nil {
			return spawn.Ref, err
		}
		r.markDirty(e)
		return spawn.Ref, nil
	}

	rec, err := r.Instantiate(spawn.Ref.Type)
	if err != nil {
		return spawn.Ref, err
	}
	e, err := entity.New(r, r.registry, spawn.Ref.ID, rec)
	if err != nil {
		return spawn.Ref, err
	}
	if err := e.ApplySnapshot(spawn.Values, spawn.Owners); err != nil {
		return spawn.Ref, err
	}
	r.insert(e)
	r.markDirty(e)
	r.logger.Debug().Str("ref", spawn.Ref.String()).Msg("spawned remote entity")
	return spawn.Ref, nil
}

// handleDespawn removes the entity. An entity that is already gone is not an error.
func (r *Replicator) handleDespawn(_ types.PeerID, m message.Message) (types.EntityRef, error) {
	ref := m.(message.Despawn).Ref
	e, ok := r.GetEntity(ref)
	if !ok {
		r.logger.Debug().Str("ref", ref.String()).Msg("despawn of an entity that is not live")
		return ref, nil
	}
	r.remove(e)
	return ref, nil
}

// handleSetProperty applies values after checking the sender owns every one of them. Values for an entity that is not
// live are dropped: the entity was despawned, or its spawn has not arrived and will carry the current values.
func (r *Replicator) handleSetProperty(sender types.PeerID, m message.Message) (types.EntityRef, error) {
	msg := m.(message.SetProperty)
	e, ok := r.GetEntity(msg.Ref)
	if !ok {
		r.logger.Debug().Str("ref", msg.Ref.String()).Msg("property values for an entity that is not live")
		return msg.Ref, nil
	}
	if err := e.ApplyPropertyValues(sender, msg.Values); err != nil {
		return msg.Ref, err
	}
	r.markDirty(e)
	return msg.Ref, nil
}

func (r *Replicator) handleSetPropertyOwner(_ types.PeerID, m message.Message) (types.EntityRef, error) {
	msg := m.(message.SetPropertyOwner)
	e, ok := r.GetEntity(msg.Ref)
	if !ok {
		return msg.Ref, nil
	}
	changed, err := e.ApplyPropertyOwner(msg.Property, msg.Owner)
	if err != nil {
		return msg.Ref, err
	}
	if changed {
		r.markDirty(e)
	}
	return msg.Ref, nil
}

// handleSnapshot answers a resync request. Only the authority answers.
func (r *Replicator) handleSnapshot(sender types.PeerID, _ message.Message) (types.EntityRef, error) {
	if !r.IsAuthority() {
		return types.EntityRef{}, nil
	}
	return types.EntityRef{}, r.sendSnapshot(sender)
}

// PeerConnected sends the full state to a peer that just joined. Each connection gets it exactly once.
func (r *Replicator) PeerConnected(peer types.PeerID) error {
	r.peers[peer] = true
	if !r.IsAuthority() || r.snapshotted[peer] {
		return nil
	}
	r.snapshotted[peer] = true
	r.logger.Info().Int32("joined", int32(peer)).Int("entities", r.Count()).Msg("sending snapshot to new peer")
	return r.sendSnapshot(peer)
}

func (r *Replicator) PeerDisconnected(peer types.PeerID) {
	delete(r.peers, peer)
	delete(r.snapshotted, peer)
}

// ConnectionLost applies the despawn-on-disconnect policy. It is a local cleanup; nothing is sent.
func (r *Replicator) ConnectionLost() {
	clear(r.peers)
	clear(r.snapshotted)
	if !r.despawnOnDisconnect {
		return
	}
	n := r.despawnAllLocally()
	r.logger.Info().Int("entities", n).Msg("connection lost, despawned local entities")
}

func (r *Replicator) process(ev inbox.Event) {
	switch ev.Kind {
	case inbox.Connected:
		if err := r.PeerConnected(ev.Peer); err != nil {
			r.logger.Error().Err(err).Int32("joined", int32(ev.Peer)).Msg("failed to send snapshot")
		}
	case inbox.Disconnected:
		r.PeerDisconnected(ev.Peer)
	case inbox.Received:
		// Rejections have already reached the fault handler.
		_ = r.HandleMessage(ev.Peer, ev.Payload)
	case inbox.ConnectionLost:
		r.ConnectionLost()
	}
}
