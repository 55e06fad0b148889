// Package config loads peer settings from REPLICATE_* environment variables.
package config

import (
	"strings"

	jlconfig "github.com/JeremyLoy/config"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.world.dev/world-engine/replicate/ownership"
)

type Role string

const (
	RoleAuthority Role = "authority"
	RolePeer      Role = "peer"
)

const (
	DefaultPort         = "4040"
	DefaultAuthorityURL = "ws://localhost:4040/peer"
	DefaultReplicateHz  = 20
	DefaultTickHz       = 60
	DefaultNamespace    = "replicate"
	DefaultLogLevel     = "info"
)

type Config struct {
	Role                Role   `config:"REPLICATE_ROLE"`
	Port                string `config:"REPLICATE_PORT"`
	AuthorityURL        string `config:"REPLICATE_AUTHORITY_URL"`
	ReplicateHz         int    `config:"REPLICATE_HZ"`
	TickHz              int    `config:"REPLICATE_TICK_HZ"`
	DespawnOnDisconnect bool   `config:"REPLICATE_DESPAWN_ON_DISCONNECT"`
	TransferPolicy      string `config:"REPLICATE_TRANSFER_POLICY"`
	LoopbackOverride    bool   `config:"REPLICATE_LOOPBACK_OVERRIDE"`
	Namespace           string `config:"REPLICATE_NAMESPACE"`
	RedisAddress        string `config:"REPLICATE_REDIS_ADDRESS"`
	RedisPassword       string `config:"REPLICATE_REDIS_PASSWORD"`
	StatsdAddress       string `config:"REPLICATE_STATSD_ADDRESS"`
	StatsdTags          string `config:"REPLICATE_STATSD_TAGS"`
	LogLevel            string `config:"REPLICATE_LOG_LEVEL"`
	LogPretty           bool   `config:"REPLICATE_LOG_PRETTY"`
}

// Default returns the settings of an authority on the default port with persistence and metrics disabled.
func Default() Config {
	return Config{
		Role:                RoleAuthority,
		Port:                DefaultPort,
		AuthorityURL:        DefaultAuthorityURL,
		ReplicateHz:         DefaultReplicateHz,
		TickHz:              DefaultTickHz,
		DespawnOnDisconnect: true,
		TransferPolicy:      string(ownership.TransferAuthorityOnly),
		Namespace:           DefaultNamespace,
		LogLevel:            DefaultLogLevel,
	}
}

// Load reads the environment over the defaults and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to load config from environment")
	}
	cfg.Role = Role(strings.ToLower(string(cfg.Role)))
	if err := cfg.Validate(); err != nil {
		return cfg, eris.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Role != RoleAuthority && c.Role != RolePeer {
		return eris.Errorf("REPLICATE_ROLE must be %q or %q, got %q", RoleAuthority, RolePeer, c.Role)
	}
	if c.Role == RoleAuthority && c.Port == "" {
		return eris.New("REPLICATE_PORT is required for the authority")
	}
	if c.Role == RolePeer && c.AuthorityURL == "" {
		return eris.New("REPLICATE_AUTHORITY_URL is required for a peer")
	}
	if c.ReplicateHz <= 0 {
		return eris.New("REPLICATE_HZ must be positive")
	}
	if c.TickHz <= 0 {
		return eris.New("REPLICATE_TICK_HZ must be positive")
	}
	if _, err := ownership.ParseTransferPolicy(c.TransferPolicy); err != nil {
		return err
	}
	if c.Namespace == "" {
		return eris.New("REPLICATE_NAMESPACE cannot be empty")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return eris.Wrapf(err, "REPLICATE_LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func (c Config) IsAuthority() bool {
	return c.Role == RoleAuthority
}

// Policy is the ownership policy the settings describe.
func (c Config) Policy() (ownership.Policy, error) {
	policy := ownership.DefaultPolicy()
	transfer, err := ownership.ParseTransferPolicy(c.TransferPolicy)
	if err != nil {
		return policy, err
	}
	policy.Transfer = transfer
	policy.LoopbackOverride = c.LoopbackOverride
	return policy, nil
}
