package replicator

import (
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/message"
	"pkg.world.dev/world-engine/replicate/statsd"
	"pkg.world.dev/world-engine/replicate/types"
)

// Fault describes an inbound message that was rejected. Nothing it carried was applied.
type Fault struct {
	Sender types.PeerID
	Kind   message.Kind
	Ref    types.EntityRef
	Err    error
}

// FaultHandler decides what to do about a rejected message, for instance disconnect the sender. It runs on the tick
// goroutine.
type FaultHandler func(f Fault)

func (r *Replicator) fault(f Fault) {
	statsd.Count("faults", 1, "kind:"+f.Kind.String())
	r.faults(f)
}

func (r *Replicator) logFault(f Fault) {
	r.logger.Warn().
		Int32("sender", int32(f.Sender)).
		Str("message", f.Kind.String()).
		Str("ref", f.Ref.String()).
		Str("error", eris.ToString(f.Err, false)).
		Msg("rejected replication message")
}
