package replicate_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate"
	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/config"
	"pkg.world.dev/world-engine/replicate/example/cube"
	"pkg.world.dev/world-engine/replicate/inbox"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/stage"
	"pkg.world.dev/world-engine/replicate/transport/loopback"
	"pkg.world.dev/world-engine/replicate/types"
)

type testPeer struct {
	*replicate.Peer
	ticks chan time.Time
	done  chan uint64
	errs  chan error
	now   time.Time
}

func newTestPeer(
	t *testing.T, network *loopback.Network, id types.PeerID, cfg config.Config, opts ...replicate.Option,
) *testPeer {
	q := inbox.New()
	endpoint, err := network.Join(id, q)
	assert.NilError(t, err)
	if id != types.AuthorityPeerID {
		cfg.Role = config.RolePeer
	}

	tp := &testPeer{
		ticks: make(chan time.Time),
		done:  make(chan uint64),
		errs:  make(chan error, 1),
		now:   time.Unix(1_700_000_000, 0),
	}
	opts = append([]replicate.Option{
		replicate.WithConfig(cfg),
		replicate.WithTransport(endpoint, q),
		replicate.WithDisableServer(),
		replicate.WithTickChannel(tp.ticks),
		replicate.WithTickDoneChannel(tp.done),
	}, opts...)
	tp.Peer, err = replicate.New(opts...)
	assert.NilError(t, err)
	assert.NilError(t, tp.RegisterTemplate(cube.New))
	return tp
}

func (tp *testPeer) start(t *testing.T) {
	go func() {
		tp.errs <- tp.Start()
	}()
	t.Cleanup(func() {
		_ = tp.Shutdown()
	})
}

func (tp *testPeer) doTick(dt time.Duration) {
	tp.now = tp.now.Add(dt)
	tp.ticks <- tp.now
	<-tp.done
}

func (tp *testPeer) stop(t *testing.T) {
	assert.NilError(t, tp.Shutdown())
	assert.NilError(t, <-tp.errs)
}

func spawnFirstCube(r *replicator.Replicator, _ time.Duration) error {
	if r.Count() > 0 {
		return nil
	}
	_, err := r.SpawnTemplate(cube.Kind, nil)
	return err
}

func cubeColor(t *testing.T, tp *testPeer) cube.Color {
	var color cube.Color
	err := tp.Do(context.Background(), func(r *replicator.Replicator) error {
		cubes := r.Entities(cube.Kind)
		if len(cubes) != 1 {
			return eris.Errorf("want one cube, found %d", len(cubes))
		}
		color = cubes[0].Record().(*cube.Cube).Color
		return nil
	})
	assert.NilError(t, err)
	return color
}

func TestPeersReplicateThroughTicks(t *testing.T) {
	network := loopback.NewNetwork()
	authority := newTestPeer(t, network, types.AuthorityPeerID, config.Default())
	peer := newTestPeer(t, network, 2, config.Default())
	assert.NilError(t, replicate.RegisterSystems(authority.Peer, spawnFirstCube))

	authority.start(t)
	peer.start(t)

	authority.doTick(0)
	peer.doTick(0)
	assert.Equal(t, cube.Red, cubeColor(t, peer))

	assert.NilError(t, authority.Do(context.Background(), func(r *replicator.Replicator) error {
		r.Entities(cube.Kind)[0].Record().(*cube.Cube).Color = cube.Blue
		return nil
	}))
	authority.doTick(50 * time.Millisecond)
	peer.doTick(50 * time.Millisecond)
	assert.Equal(t, cube.Blue, cubeColor(t, peer))
	assert.Equal(t, uint64(2), peer.CurrentTick())

	authority.stop(t)
	peer.stop(t)
}

func TestWaitForNextTick(t *testing.T) {
	p := newTestPeer(t, loopback.NewNetwork(), types.AuthorityPeerID, config.Default())
	p.start(t)

	waited := make(chan bool)
	go func() {
		waited <- p.WaitForNextTick()
	}()
	assert.Eventually(t, func() bool { return p.IsReplicating() }, 5*time.Second, 10*time.Millisecond)
	// Give the waiter time to register before the tick.
	time.Sleep(50 * time.Millisecond)
	p.doTick(0)
	assert.True(t, <-waited)

	p.stop(t)
	assert.False(t, p.WaitForNextTick())
}

func TestShutdown(t *testing.T) {
	p := newTestPeer(t, loopback.NewNetwork(), types.AuthorityPeerID, config.Default())
	assert.ErrorIs(t, p.Shutdown(), replicate.ErrNotRunning)

	p.start(t)
	p.doTick(0)
	p.stop(t)

	assert.Equal(t, stage.ShutDown, p.Stage())
	assert.False(t, p.IsReplicating())
	assert.NilError(t, p.Shutdown())
	err := p.Do(context.Background(), func(*replicator.Replicator) error { return nil })
	assert.ErrorIs(t, err, replicate.ErrNotRunning)
	assert.ErrorIs(t, p.Start(), replicate.ErrAlreadyStarted)
}

func TestRegistrationClosesAtStart(t *testing.T) {
	p := newTestPeer(t, loopback.NewNetwork(), types.AuthorityPeerID, config.Default())
	assert.NilError(t, replicate.RegisterSystems(p.Peer, spawnFirstCube))
	assert.Len(t, p.SystemNames(), 1)
	assert.Contains(t, p.SystemNames()[0], "spawnFirstCube")

	p.start(t)
	p.doTick(0)

	assert.IsError(t, p.RegisterTemplate(cube.New))
	assert.IsError(t, replicate.RegisterSystems(p.Peer, spawnFirstCube))
	p.stop(t)
}

func TestGenericTemplateRegistration(t *testing.T) {
	q := inbox.New()
	endpoint, err := loopback.NewNetwork().Join(types.AuthorityPeerID, q)
	assert.NilError(t, err)
	p, err := replicate.New(
		replicate.WithConfig(config.Default()),
		replicate.WithTransport(endpoint, q),
		replicate.WithDisableServer(),
	)
	assert.NilError(t, err)
	assert.NilError(t, replicate.RegisterTemplate[cube.Cube](p))
	assert.DeepEqual(t, []string{cube.Kind}, p.Replicator().TemplateKinds())
}

func TestFailingSystemStopsPeer(t *testing.T) {
	p := newTestPeer(t, loopback.NewNetwork(), types.AuthorityPeerID, config.Default())
	boom := eris.New("boom")
	assert.NilError(t, replicate.RegisterSystems(p.Peer, func(*replicator.Replicator, time.Duration) error {
		return boom
	}))
	p.start(t)
	p.ticks <- p.now

	err := <-p.errs
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, stage.ShutDown, p.Stage())
}

func TestAuthorityRestoresFromRedis(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := config.Default()
	cfg.RedisAddress = s.Addr()

	first := newTestPeer(t, loopback.NewNetwork(), types.AuthorityPeerID, cfg)
	assert.NilError(t, replicate.RegisterSystems(first.Peer, spawnFirstCube))
	first.start(t)
	first.doTick(0)
	first.stop(t)

	second := newTestPeer(t, loopback.NewNetwork(), types.AuthorityPeerID, cfg)
	second.start(t)
	assert.Eventually(t, func() bool { return second.IsReplicating() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, cube.Red, cubeColor(t, second))
	second.stop(t)
}
