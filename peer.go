// Package replicate runs a replication peer: it loads configuration, connects the transport, ticks the replicator
// and the registered systems on a single goroutine, and serves the authority's HTTP endpoints.
package replicate

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pkg.world.dev/world-engine/replicate/config"
	"pkg.world.dev/world-engine/replicate/inbox"
	replog "pkg.world.dev/world-engine/replicate/log"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/server"
	"pkg.world.dev/world-engine/replicate/server/handler"
	"pkg.world.dev/world-engine/replicate/stage"
	"pkg.world.dev/world-engine/replicate/statsd"
	"pkg.world.dev/world-engine/replicate/storage/redis"
	"pkg.world.dev/world-engine/replicate/transport"
	"pkg.world.dev/world-engine/replicate/transport/ws"
)

const (
	RedisDialTimeOut = 15 * time.Second
	dialTimeout      = 30 * time.Second
)

var (
	ErrNotRunning     = eris.New("peer is not running")
	ErrAlreadyStarted = eris.New("peer has already been started")
)

var _ handler.Provider = (*Peer)(nil)

type doRequest struct {
	fn     func(r *replicator.Replicator) error
	result chan error
}

type Peer struct {
	cfg   config.Config
	stage *stage.Manager

	inbox      *inbox.Queue
	transport  transport.Transport
	hub        *ws.Hub
	client     *ws.Client
	replicator *replicator.Replicator
	server     *server.Server
	redis      *redis.Storage

	systems []namedSystem

	tick                         *atomic.Uint64
	tickChannel                  <-chan time.Time
	tickDoneChannel              chan<- uint64
	doChannel                    chan doRequest
	addChannelWaitingForNextTick chan chan struct{}
	cancel                       context.CancelFunc
	done                         chan struct{}
}

// New creates a peer. A regular peer dials the authority here, so New fails when the authority is unreachable.
func New(opts ...Option) (*Peer, error) {
	configOptions, replicatorOptions, serverOptions, po := separateOptions(opts)

	var cfg config.Config
	if po.cfg != nil {
		cfg = *po.cfg
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, eris.Wrap(err, "failed to load config to start peer")
		}
		cfg = loaded
	}
	for _, opt := range configOptions {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := replog.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
		return nil, err
	}
	log.Info().Msgf("Creating a new %s peer", cfg.Role)

	p := &Peer{
		cfg:                          cfg,
		stage:                        stage.NewManager(),
		tick:                         new(atomic.Uint64),
		tickChannel:                  po.tickChannel,
		tickDoneChannel:              po.tickDoneChannel,
		doChannel:                    make(chan doRequest),
		addChannelWaitingForNextTick: make(chan chan struct{}),
		done:                         make(chan struct{}),
	}
	if p.tickChannel == nil {
		p.tickChannel = time.Tick(time.Second / time.Duration(cfg.TickHz)) //nolint:staticcheck // its ok.
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	rOpts := []replicator.Option{
		replicator.WithReplicateHz(cfg.ReplicateHz),
		replicator.WithDespawnOnDisconnect(cfg.DespawnOnDisconnect),
		replicator.WithPolicy(policy),
	}

	if cfg.IsAuthority() && cfg.RedisAddress != "" {
		p.redis = redis.NewRedisStorage(redis.Options{
			Addr:        cfg.RedisAddress,
			Password:    cfg.RedisPassword,
			DB:          0, // use default DB
			DialTimeout: RedisDialTimeOut,
		}, cfg.Namespace)
		if err := p.redis.Ping(context.Background()); err != nil {
			return nil, err
		}
		rOpts = append(rOpts, replicator.WithStore(p.redis), replicator.WithSchemaStorage(p.redis))
	}

	if err := p.connect(cfg, po); err != nil {
		p.closeStorage()
		return nil, err
	}

	rOpts = append(rOpts, replicator.WithLogger(*replog.CreatePeerLogger(&log.Logger, p.transport.LocalPeer())))
	rOpts = append(rOpts, replicatorOptions...)
	p.replicator, err = replicator.New(p.transport, p.inbox, rOpts...)
	if err != nil {
		p.closeTransport()
		p.closeStorage()
		return nil, err
	}

	if cfg.IsAuthority() && !po.disableServer {
		sOpts := []server.Option{server.WithPort(cfg.Port)}
		if p.hub != nil {
			sOpts = append(sOpts, server.WithHub(p.hub))
		}
		p.server, err = server.New(p, append(sOpts, serverOptions...)...)
		if err != nil {
			p.release()
			return nil, err
		}
	}

	if cfg.StatsdAddress != "" {
		tags := append(statsd.ParseTags(cfg.StatsdTags), "replicate_role:"+string(cfg.Role),
			"replicate_namespace:"+cfg.Namespace)
		if err := statsd.Init(cfg.StatsdAddress, tags); err != nil {
			p.release()
			return nil, eris.Wrap(err, "unable to init statsd")
		}
	} else {
		log.Logger.Warn().Msg("statsd is disabled")
	}

	return p, nil
}

// connect sets up the transport: the injected one, a websocket hub for the authority, or a websocket client dialing
// the authority.
func (p *Peer) connect(cfg config.Config, po peerOptions) error {
	switch {
	case po.transport != nil:
		if po.inbox == nil {
			return eris.New("a custom transport needs the inbox it delivers into")
		}
		p.transport, p.inbox = po.transport, po.inbox
	case cfg.IsAuthority():
		if po.disableServer {
			return eris.New("the authority needs its server unless a custom transport is provided")
		}
		p.inbox = inbox.New()
		p.hub = ws.NewHub(p.inbox)
		p.transport = p.hub
	default:
		p.inbox = inbox.New()
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		client, err := ws.Dial(ctx, cfg.AuthorityURL, p.inbox)
		if err != nil {
			return err
		}
		p.client = client
		p.transport = client
		log.Info().Msgf("Connected to the authority as peer %d", client.LocalPeer())
	}
	return nil
}

func (p *Peer) Config() config.Config {
	return p.cfg
}

func (p *Peer) Stage() stage.Stage {
	return p.stage.Current()
}

func (p *Peer) IsReplicating() bool {
	return p.stage.IsRunning()
}

func (p *Peer) CurrentTick() uint64 {
	return p.tick.Load()
}

// Replicator returns the peer's replicator. Once the peer is started it must only be used from systems or Do.
func (p *Peer) Replicator() *replicator.Replicator {
	return p.replicator
}

// RegisterTemplate makes a kind spawnable on this peer. Every peer must register the same templates before Start.
func (p *Peer) RegisterTemplate(factory replicator.Factory) error {
	if p.stage.Current() != stage.Init {
		return eris.Errorf("templates must be registered before the peer starts, peer is %s", p.stage.Current())
	}
	return p.replicator.RegisterTemplate(factory)
}

// Start runs the peer and blocks until it is shut down or fails. An authority with persistence first restores the
// entities saved by its previous run. SIGINT and SIGTERM shut the peer down.
func (p *Peer) Start() error {
	if err := p.stage.Advance(stage.Init, stage.Starting); err != nil {
		return eris.Wrap(ErrAlreadyStarted, err.Error())
	}
	defer close(p.done)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	defer cancel()

	if p.replicator.IsAuthority() {
		p.stage.Store(stage.Restoring)
		if _, err := p.replicator.Restore(ctx); err != nil {
			p.stage.Store(stage.ShutDown)
			p.release()
			return eris.Wrap(err, "failed to restore entities")
		}
	}

	if len(p.replicator.TemplateKinds()) == 0 {
		log.Warn().Msg("No templates registered")
	}
	if len(p.systems) == 0 {
		log.Warn().Msg("No systems registered")
	}
	replog.Directory(&log.Logger, p.replicator, zerolog.InfoLevel)

	p.stage.Store(stage.Running)
	p.handleShutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.startLoop(gctx)
	})
	if p.server != nil {
		g.Go(func() error {
			return p.server.Serve(gctx)
		})
	}
	if p.client != nil {
		g.Go(func() error {
			select {
			case <-p.client.Done():
				log.Warn().Msg("Connection to the authority was lost")
			case <-gctx.Done():
			}
			return nil
		})
	}

	err := g.Wait()
	p.stage.Store(stage.ShutDown)
	p.release()
	log.Info().Msg("Peer shut down")
	return err
}

func (p *Peer) startLoop(ctx context.Context) error {
	log.Info().Msg("Tick loop started")
	var waitingChs []chan struct{}
	var last time.Time
	defer func() {
		p.drainChannelsWaitingForNextTick()
		closeAllChannels(waitingChs)
		if p.tickDoneChannel != nil {
			close(p.tickDoneChannel)
		}
	}()
	for {
		select {
		case now, ok := <-p.tickChannel:
			if !ok {
				return eris.New("tick channel has been closed")
			}
			var dt time.Duration
			if !last.IsZero() && now.After(last) {
				dt = now.Sub(last)
			}
			last = now
			if err := p.doTick(ctx, dt); err != nil {
				return err
			}
			closeAllChannels(waitingChs)
			waitingChs = waitingChs[:0]
		case req := <-p.doChannel:
			req.result <- req.fn(p.replicator)
		case ch := <-p.addChannelWaitingForNextTick:
			waitingChs = append(waitingChs, ch)
		case <-ctx.Done():
			if err := p.replicator.Flush(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to persist entities on shutdown")
			}
			return nil
		}
	}
}

func (p *Peer) doTick(ctx context.Context, dt time.Duration) error {
	currTick := p.tick.Load()
	start := time.Now()
	for _, sys := range p.systems {
		if err := sys.fn(p.replicator, dt); err != nil {
			return eris.Wrapf(err, "system %s failed at tick %d", sys.name, currTick)
		}
	}
	statsd.EmitTickStat(start, "systems")
	if err := p.replicator.Tick(ctx, dt); err != nil {
		return eris.Wrapf(err, "replicator failed at tick %d", currTick)
	}
	p.tick.Add(1)
	if p.tickDoneChannel != nil {
		p.tickDoneChannel <- currTick
	}
	return nil
}

// Do runs fn on the tick goroutine between two ticks and returns its error. Before Start, fn runs immediately on the
// calling goroutine.
func (p *Peer) Do(ctx context.Context, fn func(r *replicator.Replicator) error) error {
	if p.stage.Current() == stage.Init {
		return fn(p.replicator)
	}
	req := doRequest{fn: fn, result: make(chan error, 1)}
	select {
	case p.doChannel <- req:
	case <-p.done:
		return ErrNotRunning
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "")
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "")
	}
}

// WaitForNextTick blocks until at least one tick has completed. It returns true if it successfully waited for a
// tick. False may be returned if the peer was shut down while waiting for the next tick to complete.
func (p *Peer) WaitForNextTick() (success bool) {
	startTick := p.CurrentTick()
	ch := make(chan struct{})
	select {
	case p.addChannelWaitingForNextTick <- ch:
	case <-p.done:
		return false
	}
	<-ch
	return p.CurrentTick() > startTick
}

// Shutdown stops the tick loop and the server and waits for Start to return.
func (p *Peer) Shutdown() error {
	log.Info().Msg("Shutting down peer.")
	ok := p.stage.CompareAndSwap(stage.Running, stage.ShuttingDown)
	if !ok {
		switch p.stage.Current() {
		case stage.ShuttingDown, stage.ShutDown:
			<-p.done
			return nil
		default:
			return eris.Wrap(ErrNotRunning, "shutdown attempted before the peer was started")
		}
	}
	p.cancel()
	<-p.done
	return nil
}

func (p *Peer) handleShutdown() {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signalChannel)
		select {
		case <-signalChannel:
			if err := p.Shutdown(); err != nil {
				log.Err(err).Msgf("There was an error during shutdown.")
			}
		case <-p.done:
		}
	}()
}

// release closes the transport and storage once nothing ticks anymore.
func (p *Peer) release() {
	p.closeTransport()
	p.closeStorage()
}

func (p *Peer) closeTransport() {
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close connection to the authority")
		}
	}
	if p.hub != nil {
		if err := p.hub.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close peer connections")
		}
	}
}

func (p *Peer) closeStorage() {
	if p.redis == nil {
		return
	}
	log.Info().Msg("Closing storage connection.")
	if err := p.redis.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close storage connection.")
	}
}

func closeAllChannels(chs []chan struct{}) {
	for _, ch := range chs {
		close(ch)
	}
}

// drainChannelsWaitingForNextTick continually closes any channels that are added to the
// addChannelWaitingForNextTick channel, so WaitForNextTick calls racing the shutdown do not block.
func (p *Peer) drainChannelsWaitingForNextTick() {
	go func() {
		for {
			select {
			case ch := <-p.addChannelWaitingForNextTick:
				close(ch)
			case <-p.done:
				return
			}
		}
	}()
}
