// Package testutils wires several replicators to one loopback network so tests can drive a whole session tick by
// tick.
package testutils

import (
	"context"
	"slices"
	"testing"
	"time"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/inbox"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/transport/loopback"
	"pkg.world.dev/world-engine/replicate/types"
)

type Peer struct {
	ID         types.PeerID
	Replicator *replicator.Replicator
	Inbox      *inbox.Queue
	Endpoint   *loopback.Endpoint
	Faults     []replicator.Fault
}

type Cluster struct {
	t         testing.TB
	Network   *loopback.Network
	templates []replicator.Factory
	opts      []replicator.Option
	peers     map[types.PeerID]*Peer
	order     []types.PeerID
}

// NewCluster starts a network holding only the authority. Every peer registers the given templates and options.
func NewCluster(t testing.TB, templates []replicator.Factory, opts ...replicator.Option) *Cluster {
	c := &Cluster{
		t:         t,
		Network:   loopback.NewNetwork(),
		templates: templates,
		opts:      opts,
		peers:     map[types.PeerID]*Peer{},
	}
	c.Join(types.AuthorityPeerID)
	return c
}

// Join attaches a new peer. Extra options apply to this peer only.
func (c *Cluster) Join(id types.PeerID, opts ...replicator.Option) *Peer {
	c.t.Helper()
	p := &Peer{ID: id, Inbox: inbox.New()}
	endpoint, err := c.Network.Join(id, p.Inbox)
	assert.NilError(c.t, err)
	p.Endpoint = endpoint

	all := slices.Clone(c.opts)
	all = append(all, opts...)
	all = append(all, replicator.WithFaultHandler(func(f replicator.Fault) {
		p.Faults = append(p.Faults, f)
	}))
	r, err := replicator.New(endpoint, p.Inbox, all...)
	assert.NilError(c.t, err)
	for _, factory := range c.templates {
		assert.NilError(c.t, r.RegisterTemplate(factory))
	}
	p.Replicator = r

	c.peers[id] = p
	c.order = append(c.order, id)
	return p
}

// Leave detaches a peer from the network. It stays in the cluster so its local state can be inspected.
func (c *Cluster) Leave(id types.PeerID) {
	c.t.Helper()
	assert.NilError(c.t, c.Network.Leave(id))
}

func (c *Cluster) Peer(id types.PeerID) *Peer {
	c.t.Helper()
	p, ok := c.peers[id]
	if !ok {
		c.t.Fatalf("peer %d is not part of the cluster", id)
	}
	return p
}

func (c *Cluster) Authority() *Peer {
	return c.Peer(types.AuthorityPeerID)
}

// Tick ticks every peer once, in join order.
func (c *Cluster) Tick(dt time.Duration) {
	c.t.Helper()
	for _, id := range c.order {
		assert.NilError(c.t, c.peers[id].Replicator.Tick(context.Background(), dt))
	}
}

// Settle ticks every peer without advancing time until no events are queued, so every message in flight is applied
// but no scheduled broadcast fires.
func (c *Cluster) Settle() {
	c.t.Helper()
	for i := 0; i < 100; i++ {
		pending := 0
		for _, id := range c.order {
			pending += c.peers[id].Inbox.Len()
		}
		if pending == 0 {
			return
		}
		c.Tick(0)
	}
	c.t.Fatal("cluster did not settle")
}
