package replicate

import (
	"time"

	"pkg.world.dev/world-engine/replicate/config"
	"pkg.world.dev/world-engine/replicate/inbox"
	"pkg.world.dev/world-engine/replicate/ownership"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/server"
	"pkg.world.dev/world-engine/replicate/storage"
	"pkg.world.dev/world-engine/replicate/transport"
)

// Option represents an option that can be used to augment how a Peer will be run. Options override the settings
// loaded from the environment.
type Option struct {
	configOption     func(*config.Config)
	replicatorOption replicator.Option
	serverOption     server.Option
	peerOption       func(*peerOptions)
}

type peerOptions struct {
	cfg             *config.Config
	transport       transport.Transport
	inbox           *inbox.Queue
	tickChannel     <-chan time.Time
	tickDoneChannel chan<- uint64
	disableServer   bool
}

// WithConfig uses cfg instead of reading the environment.
func WithConfig(cfg config.Config) Option {
	return Option{
		peerOption: func(o *peerOptions) {
			o.cfg = &cfg
		},
	}
}

// WithRole makes the peer the authority or a regular peer.
func WithRole(role config.Role) Option {
	return Option{
		configOption: func(c *config.Config) {
			c.Role = role
		},
	}
}

// WithAuthorityURL sets the websocket url a regular peer dials.
func WithAuthorityURL(url string) Option {
	return Option{
		configOption: func(c *config.Config) {
			c.AuthorityURL = url
		},
	}
}

// WithPort specifies the port of the authority's HTTP server. If omitted, REPLICATE_PORT is used, and if that is
// unset, port 4040.
func WithPort(port string) Option {
	return Option{
		configOption: func(c *config.Config) {
			c.Port = port
		},
	}
}

// WithReplicateHz sets how often entities broadcast their changed properties.
func WithReplicateHz(hz int) Option {
	return Option{
		configOption: func(c *config.Config) {
			c.ReplicateHz = hz
		},
	}
}

// WithKindReplicateHz overrides the broadcast frequency of one kind.
func WithKindReplicateHz(kind string, hz int) Option {
	return Option{
		replicatorOption: replicator.WithKindReplicateHz(kind, hz),
	}
}

func WithPolicy(policy ownership.Policy) Option {
	return Option{
		replicatorOption: replicator.WithPolicy(policy),
	}
}

// WithFaultHandler replaces the default handler, which logs every fault.
func WithFaultHandler(h replicator.FaultHandler) Option {
	return Option{
		replicatorOption: replicator.WithFaultHandler(h),
	}
}

// WithStore persists the authority's entities in store instead of redis.
func WithStore(store storage.SnapshotStorage) Option {
	return Option{
		replicatorOption: replicator.WithStore(store),
	}
}

// WithTransport replaces the websocket transport. q must be the sink t delivers into.
func WithTransport(t transport.Transport, q *inbox.Queue) Option {
	return Option{
		peerOption: func(o *peerOptions) {
			o.transport = t
			o.inbox = q
		},
	}
}

// WithDisableServer runs the authority without its HTTP server. Only useful together with WithTransport.
func WithDisableServer() Option {
	return Option{
		peerOption: func(o *peerOptions) {
			o.disableServer = true
		},
	}
}

// WithDisableDebug removes the /debug routes from the authority's HTTP server.
func WithDisableDebug() Option {
	return Option{
		serverOption: server.WithDisableDebug(),
	}
}

// WithTickChannel sets the channel that will be used to decide when a tick is executed. If unset, the peer ticks
// REPLICATE_TICK_HZ times per second. Tests can pass in a channel controlled by the test for fine-grained control over
// when ticks are executed. The time received is used to compute how much time passed since the previous tick.
func WithTickChannel(ch <-chan time.Time) Option {
	return Option{
		peerOption: func(o *peerOptions) {
			o.tickChannel = ch
		},
	}
}

// WithTickDoneChannel sets a channel that will be notified each time a tick completes. The completed tick will be
// pushed to the channel. This option is useful in tests when assertions need to be performed at the end of a tick.
func WithTickDoneChannel(ch chan<- uint64) Option {
	return Option{
		peerOption: func(o *peerOptions) {
			o.tickDoneChannel = ch
		},
	}
}

func WithPrettyLog() Option {
	return Option{
		configOption: func(c *config.Config) {
			c.LogPretty = true
		},
	}
}

func separateOptions(opts []Option) (
	configOptions []func(*config.Config),
	replicatorOptions []replicator.Option,
	serverOptions []server.Option,
	peerOpts peerOptions,
) {
	for _, opt := range opts {
		if opt.configOption != nil {
			configOptions = append(configOptions, opt.configOption)
		}
		if opt.replicatorOption != nil {
			replicatorOptions = append(replicatorOptions, opt.replicatorOption)
		}
		if opt.serverOption != nil {
			serverOptions = append(serverOptions, opt.serverOption)
		}
		if opt.peerOption != nil {
			opt.peerOption(&peerOpts)
		}
	}
	return configOptions, replicatorOptions, serverOptions, peerOpts
}
