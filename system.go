package replicate

import (
	"reflect"
	"runtime"
	"time"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/stage"
)

// System runs once per tick, before the replicator drains the network and broadcasts. dt is the time elapsed since
// the previous tick.
type System func(r *replicator.Replicator, dt time.Duration) error

type namedSystem struct {
	name string
	fn   System
}

// RegisterSystems adds systems to the tick, in the given order.
func RegisterSystems(p *Peer, systems ...System) error {
	if p.stage.Current() != stage.Init {
		return eris.Errorf("systems must be registered before the peer starts, peer is %s", p.stage.Current())
	}
	for _, sys := range systems {
		if sys == nil {
			return eris.New("cannot register a nil system")
		}
		p.systems = append(p.systems, namedSystem{
			name: runtime.FuncForPC(reflect.ValueOf(sys).Pointer()).Name(),
			fn:   sys,
		})
	}
	return nil
}

// RegisterTemplate registers the kind of PT using its zero value as the template.
func RegisterTemplate[T any, PT interface {
	*T
	entity.Record
}](p *Peer) error {
	return p.RegisterTemplate(func() entity.Record {
		return PT(new(T))
	})
}

// SystemNames lists the registered systems in tick order.
func (p *Peer) SystemNames() []string {
	names := make([]string, 0, len(p.systems))
	for _, sys := range p.systems {
		names = append(names, sys.name)
	}
	return names
}
