package replicator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/statsd"
	"pkg.world.dev/world-engine/replicate/storage"
	"pkg.world.dev/world-engine/replicate/types"
)

// Tick processes every queued network event, broadcasts the entities whose interval elapsed during dt, and persists
// what changed.
func (r *Replicator) Tick(ctx context.Context, dt time.Duration) error {
	start := time.Now()
	for _, ev := range r.inbox.Drain() {
		r.process(ev)
	}

	r.scheduler.Advance(dt, func(ref types.EntityRef) {
		e, ok := r.GetEntity(ref)
		if !ok {
			return
		}
		if _, err := e.BroadcastChangedPropertyValues(); err != nil {
			r.logger.Error().Err(err).Str("ref", ref.String()).Msg("failed to broadcast property values")
		}
	})

	err := r.Flush(ctx)
	statsd.Gauge("entities", float64(r.Count()))
	statsd.EmitTickStat(start, "replicate")
	return err
}

func (r *Replicator) markDirty(e *entity.Entity) {
	if r.store == nil || !r.IsAuthority() {
		return
	}
	r.dirty[e.ID()] = e.Ref()
}

// Flush writes dirty entities to the store and deletes despawned ones. Tick calls it; call it directly to persist
// outside the tick loop, for instance on shutdown.
func (r *Replicator) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	for id, ref := range r.removed {
		if err := r.store.DeleteEntity(ctx, ref); err != nil {
			return eris.Wrapf(err, "delete %s", ref)
		}
		delete(r.removed, id)
	}
	for id, ref := range r.dirty {
		e, ok := r.GetEntity(ref)
		if !ok {
			delete(r.dirty, id)
			continue
		}
		values, err := e.PropertyValues()
		if err != nil {
			return err
		}
		snap := storage.EntitySnapshot{Ref: ref, Values: values, Owners: e.PropertyOwners()}
		if err := r.store.SaveEntity(ctx, snap); err != nil {
			return eris.Wrapf(err, "save %s", ref)
		}
		delete(r.dirty, id)
	}
	return nil
}

// Restore respawns the entities persisted in the store. It is meant for an authority starting up.
func (r *Replicator) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	snaps, err := r.store.LoadEntities(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, snap := range snaps {
		rec, err := r.Instantiate(snap.Ref.Type)
		if err != nil {
			return restored, err
		}
		e, err := entity.New(r, r.registry, snap.Ref.ID, rec)
		if err != nil {
			return restored, err
		}
		if err := e.ApplySnapshot(snap.Values, snap.Owners); err != nil {
			return restored, eris.Wrapf(err, "restore %s", snap.Ref)
		}
		if _, ok := r.index[snap.Ref.ID]; ok {
			continue
		}
		r.insert(e)
		if _, err := e.ChangedPropertyValues(); err != nil {
			return restored, err
		}
		spawn, err := r.spawnMessage(e)
		if err != nil {
			return restored, err
		}
		if err := r.broadcast(spawn); err != nil {
			return restored, err
		}
		restored++
	}
	r.logger.Info().Int("entities", restored).Msg("restored entities from storage")
	return restored, nil
}
