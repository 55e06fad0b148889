// Package storage declares what the replicator persists: the property schema of every registered kind, and the state
// of live entities so an authority can restore them after a restart.
package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/types"
)

var ErrNoSchemaFound = eris.New("no schema found")

type SchemaStorage interface {
	GetSchema(kind string) ([]byte, error)
	SetSchema(kind string, schema []byte) error
}

// EntitySnapshot is the full replicated state of one entity.
type EntitySnapshot struct {
	Ref    types.EntityRef         `json:"ref"`
	Values map[string][]byte       `json:"values"`
	Owners map[string]types.PeerID `json:"owners,omitempty"`
}

type SnapshotStorage interface {
	SaveEntity(ctx context.Context, snap EntitySnapshot) error
	DeleteEntity(ctx context.Context, ref types.EntityRef) error
	LoadEntities(ctx context.Context) ([]EntitySnapshot, error)
}

// Memory keeps schemas and snapshots in process. Snapshots are returned in the order they were first saved.
type Memory struct {
	mux       *sync.Mutex
	schemas   map[string][]byte
	snapshots map[types.EntityID]EntitySnapshot
	order     []types.EntityID
}

var (
	_ SchemaStorage   = (*Memory)(nil)
	_ SnapshotStorage = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		mux:       &sync.Mutex{},
		schemas:   map[string][]byte{},
		snapshots: map[types.EntityID]EntitySnapshot{},
	}
}

func (m *Memory) GetSchema(kind string) ([]byte, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	schema, ok := m.schemas[kind]
	if !ok {
		return nil, eris.Wrapf(ErrNoSchemaFound, "kind %q", kind)
	}
	return slices.Clone(schema), nil
}

func (m *Memory) SetSchema(kind string, schema []byte) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.schemas[kind] = slices.Clone(schema)
	return nil
}

func (m *Memory) SaveEntity(_ context.Context, snap EntitySnapshot) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.snapshots[snap.Ref.ID]; !ok {
		m.order = append(m.order, snap.Ref.ID)
	}
	m.snapshots[snap.Ref.ID] = snap
	return nil
}

func (m *Memory) DeleteEntity(_ context.Context, ref types.EntityRef) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.snapshots[ref.ID]; !ok {
		return nil
	}
	delete(m.snapshots, ref.ID)
	m.order = slices.DeleteFunc(m.order, func(id types.EntityID) bool { return id == ref.ID })
	return nil
}

func (m *Memory) LoadEntities(_ context.Context) ([]EntitySnapshot, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	snaps := make([]EntitySnapshot, 0, len(m.order))
	for _, id := range m.order {
		snaps = append(snaps, m.snapshots[id])
	}
	return snaps, nil
}
