package main

import (
	"time"

	"github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate"
	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/example/cube"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/types"
)

const cubeSpacing = 3.0

// spawnCubes lays n cubes out on a line the first time it runs.
func spawnCubes(n int) replicate.System {
	spawned := false
	return func(r *replicator.Replicator, _ time.Duration) error {
		if spawned {
			return nil
		}
		spawned = true
		for i := len(r.Entities(cube.Kind)); i < n; i++ {
			origin := types.Vec3{X: float64(i) * cubeSpacing}
			_, err := r.SpawnTemplate(cube.Kind, func(rec entity.Record) {
				c := rec.(*cube.Cube)
				c.Origin = origin
				c.Pos = origin
				c.Color = cube.Colors[i%len(cube.Colors)]
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// recolorCubes moves every cube to the next color once per interval.
func recolorCubes(interval time.Duration) replicate.System {
	var elapsed time.Duration
	return func(r *replicator.Replicator, dt time.Duration) error {
		if interval <= 0 {
			return nil
		}
		elapsed += dt
		if elapsed < interval {
			return nil
		}
		elapsed -= interval
		for _, e := range r.Entities(cube.Kind) {
			c := e.Record().(*cube.Cube)
			c.Color = nextColor(c.Color)
		}
		return nil
	}
}

func nextColor(c cube.Color) cube.Color {
	for i, color := range cube.Colors {
		if color == c {
			return cube.Colors[(i+1)%len(cube.Colors)]
		}
	}
	return cube.Colors[0]
}

func oscillateCubes(r *replicator.Replicator, dt time.Duration) error {
	cube.Oscillate(r.Entities(cube.Kind), dt)
	return nil
}

// claimPosition hands the position of the first cube without a non-authority owner to the local peer.
func claimPosition() replicate.System {
	claimed := false
	return func(r *replicator.Replicator, _ time.Duration) error {
		if claimed {
			return nil
		}
		for _, e := range r.Entities(cube.Kind) {
			owner, err := e.PropertyOwner("Position")
			if err != nil {
				return err
			}
			if owner != types.AuthorityPeerID {
				continue
			}
			if err := e.SetPropertyOwner("Position", r.LocalPeer()); err != nil {
				log.Warn().Err(err).Msg("cannot claim a cube")
			}
			claimed = true
			return nil
		}
		return nil
	}
}
