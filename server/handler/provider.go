package handler

import (
	"context"

	"pkg.world.dev/world-engine/replicate/replicator"
)

// Provider gives handlers access to a running peer. Do runs fn on the tick goroutine, between ticks, so handlers may
// read the replicator without racing the simulation.
type Provider interface {
	Do(ctx context.Context, fn func(r *replicator.Replicator) error) error
	IsReplicating() bool
}
