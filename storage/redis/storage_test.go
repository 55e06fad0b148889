package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/storage"
	"pkg.world.dev/world-engine/replicate/storage/redis"
	"pkg.world.dev/world-engine/replicate/types"
)

func newStorage(t *testing.T, namespace string) (*redis.Storage, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rs := redis.NewRedisStorage(redis.Options{Addr: s.Addr()}, namespace)
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func TestSchemaStorage(t *testing.T) {
	rs, _ := newStorage(t, "world")
	assert.NilError(t, rs.Ping(context.Background()))

	_, err := rs.GetSchema("Cube")
	assert.ErrorIs(t, err, storage.ErrNoSchemaFound)

	assert.NilError(t, rs.SetSchema("Cube", []byte(`{"kind":"Cube"}`)))
	got, err := rs.GetSchema("Cube")
	assert.NilError(t, err)
	assert.Equal(t, `{"kind":"Cube"}`, string(got))
}

func TestSnapshotsKeepFirstSaveOrder(t *testing.T) {
	ctx := context.Background()
	rs, _ := newStorage(t, "world")

	first := storage.EntitySnapshot{
		Ref:    types.EntityRef{Type: "Cube", ID: types.NewEntityID()},
		Values: map[string][]byte{"Color": []byte(`"Red"`)},
	}
	second := storage.EntitySnapshot{
		Ref:    types.EntityRef{Type: "Cube", ID: types.NewEntityID()},
		Values: map[string][]byte{"Color": []byte(`"Blue"`)},
		Owners: map[string]types.PeerID{"Position": 2},
	}
	assert.NilError(t, rs.SaveEntity(ctx, first))
	assert.NilError(t, rs.SaveEntity(ctx, second))

	first.Values["Color"] = []byte(`"Green"`)
	assert.NilError(t, rs.SaveEntity(ctx, first))

	snaps, err := rs.LoadEntities(ctx)
	assert.NilError(t, err)
	assert.Len(t, snaps, 2)
	assert.Equal(t, first.Ref, snaps[0].Ref)
	assert.BytesEqual(t, []byte(`"Green"`), snaps[0].Values["Color"])
	assert.Equal(t, second.Ref, snaps[1].Ref)
	assert.Equal(t, types.PeerID(2), snaps[1].Owners["Position"])

	assert.NilError(t, rs.DeleteEntity(ctx, first.Ref))
	snaps, err = rs.LoadEntities(ctx)
	assert.NilError(t, err)
	assert.Len(t, snaps, 1)
	assert.Equal(t, second.Ref, snaps[0].Ref)
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	a := redis.NewRedisStorage(redis.Options{Addr: s.Addr()}, "a")
	b := redis.NewRedisStorage(redis.Options{Addr: s.Addr()}, "b")
	defer a.Close()
	defer b.Close()

	snap := storage.EntitySnapshot{Ref: types.EntityRef{Type: "Cube", ID: types.NewEntityID()}}
	assert.NilError(t, a.SaveEntity(ctx, snap))
	assert.NilError(t, a.SetSchema("Cube", []byte("{}")))

	snaps, err := b.LoadEntities(ctx)
	assert.NilError(t, err)
	assert.Empty(t, snaps)
	_, err = b.GetSchema("Cube")
	assert.ErrorIs(t, err, storage.ErrNoSchemaFound)
}
