package main

import (
	"testing"
	"time"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/example/cube"
	"pkg.world.dev/world-engine/replicate/ownership"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/testutils"
)

func TestCubeSample(t *testing.T) {
	c := testutils.NewCluster(t, []replicator.Factory{cube.New},
		replicator.WithPolicy(ownership.Policy{Transfer: ownership.TransferAnyPeer}))
	peer := c.Join(2)
	authority := c.Authority()

	spawn := spawnCubes(3)
	recolor := recolorCubes(time.Second)
	claim := claimPosition()

	assert.NilError(t, spawn(authority.Replicator, 0))
	assert.NilError(t, spawn(authority.Replicator, 0))
	c.Settle()
	assert.Len(t, peer.Replicator.Entities(cube.Kind), 3)

	first := authority.Replicator.Entities(cube.Kind)[0].Record().(*cube.Cube)
	assert.Equal(t, cube.Red, first.Color)
	assert.NilError(t, recolor(authority.Replicator, time.Second))
	assert.Equal(t, cube.Green, first.Color)

	assert.NilError(t, claim(peer.Replicator, 0))
	c.Settle()
	e := authority.Replicator.Entities(cube.Kind)[0]
	assert.True(t, e.IsPropertyOwnerPeer("Position", peer.ID))

	assert.NilError(t, oscillateCubes(peer.Replicator, 100*time.Millisecond))
	moved := peer.Replicator.Entities(cube.Kind)[0].Record().(*cube.Cube)
	assert.True(t, moved.Pos != moved.Origin)
	assert.Empty(t, peer.Faults)
}

func TestNextColorWraps(t *testing.T) {
	assert.Equal(t, cube.Green, nextColor(cube.Red))
	assert.Equal(t, cube.Red, nextColor(cube.Blue))
	assert.Equal(t, cube.Red, nextColor("Purple"))
}
