// Package scheduler paces the delta broadcast of every entity independently of the simulation frame rate.
package scheduler

import (
	"time"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/types"
)

const DefaultHz = 20

var ErrInvalidHz = eris.New("replication frequency must be positive")

type slot struct {
	ref      types.EntityRef
	interval time.Duration
	elapsed  time.Duration
}

// Scheduler accumulates elapsed time per entity and fires once the accumulator reaches the entity's interval. The
// excess is kept for the next interval, capped below one interval so a long frame fires once rather than in a burst.
type Scheduler struct {
	defaultHz int
	kindHz    map[string]int
	slots     []*slot
	index     map[types.EntityID]int
}

func New(defaultHz int) (*Scheduler, error) {
	if defaultHz <= 0 {
		return nil, eris.Wrapf(ErrInvalidHz, "got %d", defaultHz)
	}
	return &Scheduler{
		defaultHz: defaultHz,
		kindHz:    map[string]int{},
		index:     map[types.EntityID]int{},
	}, nil
}

// SetKindHz overrides the frequency of a kind. It applies to entities tracked afterwards.
func (s *Scheduler) SetKindHz(kind string, hz int) error {
	if hz <= 0 {
		return eris.Wrapf(ErrInvalidHz, "kind %q got %d", kind, hz)
	}
	s.kindHz[kind] = hz
	return nil
}

func (s *Scheduler) Hz(kind string) int {
	if hz, ok := s.kindHz[kind]; ok {
		return hz
	}
	return s.defaultHz
}

func (s *Scheduler) Interval(kind string) time.Duration {
	return time.Second / time.Duration(s.Hz(kind))
}

// Track starts pacing an entity. Tracking an entity twice keeps its current phase.
func (s *Scheduler) Track(ref types.EntityRef) {
	if _, ok := s.index[ref.ID]; ok {
		return
	}
	s.index[ref.ID] = len(s.slots)
	s.slots = append(s.slots, &slot{ref: ref, interval: s.Interval(ref.Type)})
}

func (s *Scheduler) Untrack(ref types.EntityRef) {
	i, ok := s.index[ref.ID]
	if !ok {
		return
	}
	delete(s.index, ref.ID)
	s.slots = append(s.slots[:i], s.slots[i+1:]...)
	for j := i; j < len(s.slots); j++ {
		s.index[s.slots[j].ref.ID] = j
	}
}

func (s *Scheduler) Tracked(ref types.EntityRef) bool {
	_, ok := s.index[ref.ID]
	return ok
}

func (s *Scheduler) Len() int {
	return len(s.slots)
}

// Advance adds dt to every accumulator and calls fire, in tracking order, for each entity whose interval elapsed.
// fire may untrack entities, including the one it was called for.
func (s *Scheduler) Advance(dt time.Duration, fire func(ref types.EntityRef)) {
	due := make([]types.EntityRef, 0)
	for _, sl := range s.slots {
		sl.elapsed += dt
		if sl.elapsed < sl.interval {
			continue
		}
		sl.elapsed -= sl.interval
		if sl.elapsed >= sl.interval {
			sl.elapsed = sl.interval - 1
		}
		due = append(due, sl.ref)
	}
	for _, ref := range due {
		if _, ok := s.index[ref.ID]; !ok {
			continue
		}
		fire(ref)
	}
}
