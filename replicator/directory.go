package replicator

import (
	"math"
	"slices"
	"sort"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/message"
	"pkg.world.dev/world-engine/replicate/ownership"
	"pkg.world.dev/world-engine/replicate/types"
)

// bucket holds the live entities of one kind in spawn order.
type bucket struct {
	order []*entity.Entity
	byID  map[types.EntityID]*entity.Entity
}

func (b *bucket) add(e *entity.Entity) {
	b.order = append(b.order, e)
	b.byID[e.ID()] = e
}

func (b *bucket) remove(id types.EntityID) {
	delete(b.byID, id)
	b.order = slices.DeleteFunc(b.order, func(e *entity.Entity) bool { return e.ID() == id })
}

func (r *Replicator) bucket(kind string) *bucket {
	b, ok := r.buckets[kind]
	if !ok {
		b = &bucket{byID: map[types.EntityID]*entity.Entity{}}
		r.buckets[kind] = b
		r.kinds = append(r.kinds, kind)
	}
	return b
}

// Spawn adds a new entity with a fresh id and broadcasts its full state.
func (r *Replicator) Spawn(rec entity.Record) (*entity.Entity, error) {
	return r.SpawnWithID(types.NewEntityID(), rec)
}

// SpawnTemplate instantiates the named template, lets setup initialize the record, and spawns it.
func (r *Replicator) SpawnTemplate(kind string, setup func(rec entity.Record)) (*entity.Entity, error) {
	rec, err := r.Instantiate(kind)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		setup(rec)
	}
	return r.Spawn(rec)
}

// SpawnWithID spawns rec under id and broadcasts its full state. If an entity with this id is already live, its
// values are replaced by rec's and the existing entity is returned; there is never more than one entity per id.
func (r *Replicator) SpawnWithID(id types.EntityID, rec entity.Record) (*entity.Entity, error) {
	local := r.LocalPeer()
	if !r.protocol.CanSpawn(local) {
		return nil, eris.Wrapf(ownership.ErrNoSpawnRights, "peer %d", local)
	}
	if rec == nil {
		return nil, eris.New("cannot spawn a nil record")
	}
	if _, err := r.templates.get(rec.Kind()); err != nil {
		return nil, err
	}

	e, ok := r.index[id]
	if ok {
		if e.Kind() != rec.Kind() {
			return nil, eris.Wrapf(ErrTypeMismatch, "%s is live as %q", id, e.Kind())
		}
		fresh, err := entity.New(r, r.registry, id, rec)
		if err != nil {
			return nil, err
		}
		values, err := fresh.PropertyValues()
		if err != nil {
			return nil, err
		}
		if err := e.ReplacePropertyValues(values); err != nil {
			return nil, err
		}
	} else {
		var err error
		e, err = entity.New(r, r.registry, id, rec)
		if err != nil {
			return nil, err
		}
		r.insert(e)
	}

	spawn, err := r.spawnMessage(e)
	if err != nil {
		return nil, err
	}
	// The spawn carries the full state, so the delta cache starts from it.
	if _, err := e.ChangedPropertyValues(); err != nil {
		return nil, err
	}
	r.markDirty(e)
	if err := r.broadcast(spawn); err != nil {
		return e, err
	}
	r.logger.Debug().Str("ref", e.Ref().String()).Msg("spawned entity")
	return e, nil
}

func (r *Replicator) insert(e *entity.Entity) {
	r.bucket(e.Kind()).add(e)
	r.index[e.ID()] = e
	r.scheduler.Track(e.Ref())
	delete(r.removed, e.ID())
	e.Spawned()
}

// remove takes e out of the directory without telling anyone.
func (r *Replicator) remove(e *entity.Entity) {
	if b, ok := r.buckets[e.Kind()]; ok {
		b.remove(e.ID())
	}
	delete(r.index, e.ID())
	delete(r.dirty, e.ID())
	r.scheduler.Untrack(e.Ref())
	if r.store != nil {
		r.removed[e.ID()] = e.Ref()
	}
	e.Despawned()
}

// Despawn removes the entity named by ref. Peers allowed to spawn also broadcast the despawn. It reports false when
// no such entity is live, which is not an error: independent despawns of the same entity race.
func (r *Replicator) Despawn(ref types.EntityRef) (bool, error) {
	e, ok := r.GetEntity(ref)
	if !ok {
		return false, nil
	}
	r.remove(e)
	r.logger.Debug().Str("ref", ref.String()).Msg("despawned entity")
	if !r.protocol.CanSpawn(r.LocalPeer()) {
		return true, nil
	}
	return true, r.broadcast(message.Despawn{Ref: ref})
}

func (r *Replicator) DespawnEntity(e *entity.Entity) (bool, error) {
	return r.Despawn(e.Ref())
}

// DespawnAll despawns every live entity and returns how many there were.
func (r *Replicator) DespawnAll() (int, error) {
	all := r.AllEntities()
	var errs []error
	for _, e := range all {
		if _, err := r.Despawn(e.Ref()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return len(all), eris.Wrapf(errs[0], "%d despawn broadcasts failed", len(errs))
	}
	return len(all), nil
}

func (r *Replicator) despawnAllLocally() int {
	all := r.AllEntities()
	for _, e := range all {
		r.remove(e)
	}
	return len(all)
}

func (r *Replicator) GetEntity(ref types.EntityRef) (*entity.Entity, bool) {
	b, ok := r.buckets[ref.Type]
	if !ok {
		return nil, false
	}
	e, ok := b.byID[ref.ID]
	return e, ok
}

func (r *Replicator) GetEntityByID(id types.EntityID) (*entity.Entity, bool) {
	e, ok := r.index[id]
	return e, ok
}

func (r *Replicator) HasEntity(ref types.EntityRef) bool {
	_, ok := r.GetEntity(ref)
	return ok
}

// Entities returns the live entities of a kind in spawn order.
func (r *Replicator) Entities(kind string) []*entity.Entity {
	b, ok := r.buckets[kind]
	if !ok {
		return nil
	}
	return slices.Clone(b.order)
}

// AllEntities returns every live entity, grouped by kind in the order kinds were first spawned.
func (r *Replicator) AllEntities() []*entity.Entity {
	all := make([]*entity.Entity, 0, len(r.index))
	for _, kind := range r.kinds {
		all = append(all, r.buckets[kind].order...)
	}
	return all
}

func (r *Replicator) Count() int {
	return len(r.index)
}

// GetNearestEntities returns the entities of a kind within maxDistance of origin, nearest first. Entities whose record
// has no position are skipped. A negative maxDistance means no limit.
func (r *Replicator) GetNearestEntities(kind string, origin types.Vec3, maxDistance float64) []*entity.Entity {
	if maxDistance < 0 {
		maxDistance = math.Inf(1)
	}
	type candidate struct {
		e    *entity.Entity
		dist float64
	}
	var found []candidate
	for _, e := range r.Entities(kind) {
		pos, ok := e.Position()
		if !ok {
			continue
		}
		if d := pos.DistanceTo(origin); d <= maxDistance {
			found = append(found, candidate{e: e, dist: d})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	nearest := make([]*entity.Entity, len(found))
	for i, c := range found {
		nearest[i] = c.e
	}
	return nearest
}

func (r *Replicator) spawnMessage(e *entity.Entity) (message.Spawn, error) {
	values, err := e.PropertyValues()
	if err != nil {
		return message.Spawn{}, err
	}
	return message.Spawn{Ref: e.Ref(), Values: values, Owners: e.PropertyOwners()}, nil
}

// sendSnapshot unicasts a spawn for every live entity to peer.
func (r *Replicator) sendSnapshot(peer types.PeerID) error {
	for _, e := range r.AllEntities() {
		spawn, err := r.spawnMessage(e)
		if err != nil {
			return err
		}
		if err := r.send(peer, spawn); err != nil {
			return err
		}
	}
	return nil
}
