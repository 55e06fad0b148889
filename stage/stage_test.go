package stage

import (
	"testing"

	"pkg.world.dev/world-engine/replicate/assert"
)

func TestStartsInInit(t *testing.T) {
	m := NewManager()
	assert.Equal(t, Init, m.Current())
	assert.False(t, m.IsRunning())

	assert.Equal(t, Init, m.Swap(Running))
	assert.True(t, m.IsRunning())
}

func TestAdvance(t *testing.T) {
	m := NewManager()
	assert.NilError(t, m.Advance(Init, Starting))
	err := m.Advance(Init, Starting)
	assert.ErrorIs(t, err, ErrUnexpectedStage)
	assert.Equal(t, Starting, m.Current())
}

func TestOnlyOneAdvanceSucceeds(t *testing.T) {
	results := make(chan error)
	m := NewManager()
	m.Store(Running)

	for i := 0; i < 10; i++ {
		go func() {
			results <- m.Advance(Running, ShuttingDown)
		}()
	}
	successes := 0
	for i := 0; i < 10; i++ {
		if <-results == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, ShuttingDown, m.Current())
}
