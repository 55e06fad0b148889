// Package stage tracks the lifecycle of a peer so that the tick loop, the server and shutdown agree on what the peer
// is doing.
package stage

import (
	"sync/atomic"

	"github.com/rotisserie/eris"
)

type Stage string

const (
	Init         Stage = "Init"         // The default stage of a peer
	Starting     Stage = "Starting"     // Peer is moved to this stage after Start() is called
	Restoring    Stage = "Restoring"    // Authority is loading persisted entities
	Running      Stage = "Running"      // Peer is ticking and replicating
	ShuttingDown Stage = "ShuttingDown" // Peer received a shutdown signal
	ShutDown     Stage = "ShutDown"     // Peer has successfully shut down
)

var ErrUnexpectedStage = eris.New("unexpected peer stage")

type Manager struct {
	current *atomic.Value
}

func NewManager() *Manager {
	m := &Manager{
		current: &atomic.Value{},
	}
	m.Store(Init)
	return m
}

func (m *Manager) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	return m.current.CompareAndSwap(oldStage, newStage)
}

// Advance moves from oldStage to newStage, failing when the peer is in any other stage.
func (m *Manager) Advance(oldStage, newStage Stage) error {
	if !m.CompareAndSwap(oldStage, newStage) {
		return eris.Wrapf(ErrUnexpectedStage, "want %s, peer is %s", oldStage, m.Current())
	}
	return nil
}

func (m *Manager) Current() Stage {
	return m.current.Load().(Stage)
}

func (m *Manager) Store(val Stage) {
	m.current.Store(val)
}

func (m *Manager) Swap(newStage Stage) (oldStage Stage) {
	return m.current.Swap(newStage).(Stage)
}

// IsRunning reports whether the peer is ticking.
func (m *Manager) IsRunning() bool {
	return m.Current() == Running
}
