package storage_test

import (
	"context"
	"testing"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/storage"
	"pkg.world.dev/world-engine/replicate/types"
)

func TestMemorySchemas(t *testing.T) {
	m := storage.NewMemory()
	_, err := m.GetSchema("Cube")
	assert.ErrorIs(t, err, storage.ErrNoSchemaFound)

	assert.NilError(t, m.SetSchema("Cube", []byte(`{"kind":"Cube"}`)))
	got, err := m.GetSchema("Cube")
	assert.NilError(t, err)
	assert.BytesEqual(t, []byte(`{"kind":"Cube"}`), got)
}

func TestMemorySnapshotsKeepFirstSaveOrder(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	a := types.EntityRef{Type: "Cube", ID: types.NewEntityID()}
	b := types.EntityRef{Type: "Cube", ID: types.NewEntityID()}

	assert.NilError(t, m.SaveEntity(ctx, storage.EntitySnapshot{Ref: a, Values: map[string][]byte{"Color": []byte(`"Red"`)}}))
	assert.NilError(t, m.SaveEntity(ctx, storage.EntitySnapshot{Ref: b}))
	assert.NilError(t, m.SaveEntity(ctx, storage.EntitySnapshot{Ref: a, Values: map[string][]byte{"Color": []byte(`"Blue"`)}}))

	snaps, err := m.LoadEntities(ctx)
	assert.NilError(t, err)
	assert.Len(t, snaps, 2)
	assert.Equal(t, a, snaps[0].Ref)
	assert.BytesEqual(t, []byte(`"Blue"`), snaps[0].Values["Color"])

	assert.NilError(t, m.DeleteEntity(ctx, a))
	assert.NilError(t, m.DeleteEntity(ctx, a))
	snaps, err = m.LoadEntities(ctx)
	assert.NilError(t, err)
	assert.Len(t, snaps, 1)
	assert.Equal(t, b, snaps[0].Ref)
}
