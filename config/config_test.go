package config

import (
	"testing"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/ownership"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := Load()
	assert.NilError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.IsAuthority())
}

func TestConfig_LoadFromEnv(t *testing.T) {
	want := Default()
	want.Role = RolePeer
	want.AuthorityURL = "ws://authority:9000/peer"
	want.ReplicateHz = 10
	want.DespawnOnDisconnect = false
	want.TransferPolicy = "any"
	want.LoopbackOverride = true
	want.RedisAddress = "localhost:6379"
	want.StatsdTags = "env:test"

	t.Setenv("REPLICATE_ROLE", "PEER")
	t.Setenv("REPLICATE_AUTHORITY_URL", want.AuthorityURL)
	t.Setenv("REPLICATE_HZ", "10")
	t.Setenv("REPLICATE_DESPAWN_ON_DISCONNECT", "false")
	t.Setenv("REPLICATE_TRANSFER_POLICY", "any")
	t.Setenv("REPLICATE_LOOPBACK_OVERRIDE", "true")
	t.Setenv("REPLICATE_REDIS_ADDRESS", want.RedisAddress)
	t.Setenv("REPLICATE_STATSD_TAGS", want.StatsdTags)

	got, err := Load()
	assert.NilError(t, err)
	assert.Equal(t, want, got)

	policy, err := got.Policy()
	assert.NilError(t, err)
	assert.Equal(t, ownership.TransferAnyPeer, policy.Transfer)
	assert.True(t, policy.LoopbackOverride)
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "unknown role",
			mutate:  func(c *Config) { c.Role = "observer" },
			wantErr: true,
		},
		{
			name: "peer without authority url",
			mutate: func(c *Config) {
				c.Role = RolePeer
				c.AuthorityURL = ""
			},
			wantErr: true,
		},
		{
			name:    "zero replicate hz",
			mutate:  func(c *Config) { c.ReplicateHz = 0 },
			wantErr: true,
		},
		{
			name:    "negative tick hz",
			mutate:  func(c *Config) { c.TickHz = -1 },
			wantErr: true,
		},
		{
			name:    "unknown transfer policy",
			mutate:  func(c *Config) { c.TransferPolicy = "nobody" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.IsError(t, err)
			} else {
				assert.NilError(t, err)
			}
		})
	}
}
