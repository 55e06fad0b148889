// Package replicator keeps the directory of live entities and synchronizes it with the other peers: it spawns and
// despawns entities, sends late joiners a full snapshot, paces delta broadcasts and routes inbound messages.
//
// A Replicator is driven by a single goroutine that calls Tick. Transports deliver into an inbox that Tick drains, so
// no entity is ever touched concurrently and nothing here takes a lock.
package replicator

import (
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate/codec"
	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/inbox"
	"pkg.world.dev/world-engine/replicate/message"
	"pkg.world.dev/world-engine/replicate/ownership"
	"pkg.world.dev/world-engine/replicate/property"
	"pkg.world.dev/world-engine/replicate/scheduler"
	"pkg.world.dev/world-engine/replicate/statsd"
	"pkg.world.dev/world-engine/replicate/storage"
	"pkg.world.dev/world-engine/replicate/transport"
	"pkg.world.dev/world-engine/replicate/types"
)

var ErrTypeMismatch = eris.New("entity id is already live under another type")

var _ entity.Context = (*Replicator)(nil)

type Replicator struct {
	transport transport.Transport
	inbox     *inbox.Queue
	protocol  *ownership.Protocol
	registry  *property.Registry
	scheduler *scheduler.Scheduler
	templates *templateManager
	logger    zerolog.Logger

	buckets map[string]*bucket
	kinds   []string
	index   map[types.EntityID]*entity.Entity

	peers       map[types.PeerID]bool
	snapshotted map[types.PeerID]bool

	handlers map[message.Kind]handler
	faults   FaultHandler

	despawnOnDisconnect bool
	store               storage.SnapshotStorage
	dirty               map[types.EntityID]types.EntityRef
	removed             map[types.EntityID]types.EntityRef
}

type options struct {
	hz                  int
	kindHz              map[string]int
	policy              ownership.Policy
	despawnOnDisconnect bool
	faults              FaultHandler
	store               storage.SnapshotStorage
	schemas             storage.SchemaStorage
	logger              *zerolog.Logger
	serializer          codec.Serializer
}

type Option func(*options)

// WithReplicateHz sets how often each entity broadcasts its changed properties.
func WithReplicateHz(hz int) Option {
	return func(o *options) {
		o.hz = hz
	}
}

// WithKindReplicateHz overrides the broadcast frequency of one kind.
func WithKindReplicateHz(kind string, hz int) Option {
	return func(o *options) {
		o.kindHz[kind] = hz
	}
}

func WithPolicy(policy ownership.Policy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithDespawnOnDisconnect controls whether every entity is destroyed locally when the connection to the network is
// lost. It is enabled by default.
func WithDespawnOnDisconnect(enabled bool) Option {
	return func(o *options) {
		o.despawnOnDisconnect = enabled
	}
}

func WithFaultHandler(h FaultHandler) Option {
	return func(o *options) {
		o.faults = h
	}
}

// WithStore persists the authority's entities so that Restore can bring them back after a restart.
func WithStore(store storage.SnapshotStorage) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithSchemaStorage validates registered templates against the schemas recorded by earlier runs.
func WithSchemaStorage(schemas storage.SchemaStorage) Option {
	return func(o *options) {
		o.schemas = schemas
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

func WithSerializer(s codec.Serializer) Option {
	return func(o *options) {
		o.serializer = s
	}
}

// New creates a replicator sending through t. q must be the sink t delivers into.
func New(t transport.Transport, q *inbox.Queue, opts ...Option) (*Replicator, error) {
	if t == nil || q == nil {
		return nil, eris.New("replicator needs a transport and its inbox")
	}
	o := options{
		hz:                  scheduler.DefaultHz,
		kindHz:              map[string]int{},
		policy:              ownership.DefaultPolicy(),
		despawnOnDisconnect: true,
		serializer:          codec.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}

	sched, err := scheduler.New(o.hz)
	if err != nil {
		return nil, err
	}
	for kind, hz := range o.kindHz {
		if err := sched.SetKindHz(kind, hz); err != nil {
			return nil, err
		}
	}
	if o.schemas == nil {
		o.schemas = storage.NewMemory()
	}
	logger := log.Logger.With().Int32("peer", int32(t.LocalPeer())).Logger()
	if o.logger != nil {
		logger = *o.logger
	}

	registry := property.NewRegistry(o.serializer)
	r := &Replicator{
		transport:           t,
		inbox:               q,
		protocol:            ownership.NewProtocol(o.policy),
		registry:            registry,
		scheduler:           sched,
		templates:           newTemplateManager(registry, o.schemas),
		logger:              logger,
		buckets:             map[string]*bucket{},
		index:               map[types.EntityID]*entity.Entity{},
		peers:               map[types.PeerID]bool{},
		snapshotted:         map[types.PeerID]bool{},
		despawnOnDisconnect: o.despawnOnDisconnect,
		store:               o.store,
		dirty:               map[types.EntityID]types.EntityRef{},
		removed:             map[types.EntityID]types.EntityRef{},
	}
	r.faults = o.faults
	if r.faults == nil {
		r.faults = r.logFault
	}
	r.handlers = map[message.Kind]handler{
		message.KindSpawn:            r.handleSpawn,
		message.KindDespawn:          r.handleDespawn,
		message.KindSetProperty:      r.handleSetProperty,
		message.KindSetPropertyOwner: r.handleSetPropertyOwner,
		message.KindSnapshot:         r.handleSnapshot,
	}
	return r, nil
}

func (r *Replicator) LocalPeer() types.PeerID {
	return r.transport.LocalPeer()
}

func (r *Replicator) IsAuthority() bool {
	return r.LocalPeer() == types.AuthorityPeerID
}

func (r *Replicator) Protocol() *ownership.Protocol {
	return r.protocol
}

func (r *Replicator) Registry() *property.Registry {
	return r.registry
}

func (r *Replicator) Scheduler() *scheduler.Scheduler {
	return r.scheduler
}

func (r *Replicator) Logger() *zerolog.Logger {
	return &r.logger
}

// Peers returns the peers currently connected, in no particular order.
func (r *Replicator) Peers() []types.PeerID {
	peers := make([]types.PeerID, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// SendPropertyValues broadcasts a delta for e.
func (r *Replicator) SendPropertyValues(e *entity.Entity, values map[string][]byte) error {
	r.markDirty(e)
	statsd.Count("deltas_sent", 1, "kind:"+e.Kind())
	return r.broadcast(message.SetProperty{Ref: e.Ref(), Values: values})
}

// SendPropertyOwner broadcasts an ownership assignment for e.
func (r *Replicator) SendPropertyOwner(e *entity.Entity, name string, owner types.PeerID) error {
	r.markDirty(e)
	return r.broadcast(message.SetPropertyOwner{Ref: e.Ref(), Property: name, Owner: owner})
}

// RequestSnapshot asks the authority to send every live entity again.
func (r *Replicator) RequestSnapshot() error {
	if r.IsAuthority() {
		return nil
	}
	return r.send(types.AuthorityPeerID, message.Snapshot{})
}

func (r *Replicator) broadcast(m message.Message) error {
	bz, err := message.Encode(m)
	if err != nil {
		return err
	}
	if err := r.transport.Broadcast(bz); err != nil {
		return eris.Wrapf(err, "broadcast %s", m.Kind())
	}
	return nil
}

func (r *Replicator) send(to types.PeerID, m message.Message) error {
	bz, err := message.Encode(m)
	if err != nil {
		return err
	}
	if err := r.transport.Send(to, bz); err != nil {
		return eris.Wrapf(err, "send %s to %d", m.Kind(), to)
	}
	return nil
}
