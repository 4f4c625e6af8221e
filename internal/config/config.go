// Package config carries every tunable the node exposes, with the
// documented defaults, loadable from a config file, environment, or
// flags. No component reads configuration globally; the loaded Config is
// handed into constructors explicitly.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment-variable overrides, e.g.
// OCPOKER_GOSSIP_INTERVAL_MS=250.
const EnvPrefix = "OCPOKER"

// Config is the full tunable surface of a node.
type Config struct {
	// Gossip.
	GossipIntervalMS   int     `mapstructure:"gossip_interval_ms"`
	GossipFanout       int     `mapstructure:"gossip_fanout"`
	MessageTTL         int     `mapstructure:"message_ttl"`
	ForwardProbability float64 `mapstructure:"forward_probability"`
	ResponseMaxEntries int     `mapstructure:"response_max_entries"`

	// Liveness and caching.
	PeerTimeoutMS    int `mapstructure:"peer_timeout_ms"`
	MessageExpiryMS  int `mapstructure:"message_expiry_ms"`
	NoiseIntervalMS  int `mapstructure:"noise_interval_ms"`
	MixMin           int `mapstructure:"mix_min"`
	MaxPeers         int `mapstructure:"max_peers"`
	LogInitialCap    int `mapstructure:"log_initial_capacity"`
	SeenMessageCache int `mapstructure:"seen_message_cache"`

	// Consensus.
	ConsensusTimeoutMS int `mapstructure:"consensus_timeout_ms"`

	// Node.
	ListenAddress string `mapstructure:"listen_address"`
	DisplayName   string `mapstructure:"display_name"`
	NoiseEnabled  bool   `mapstructure:"noise_enabled"`
}

// Default returns the documented default for every tunable.
func Default() Config {
	return Config{
		GossipIntervalMS:   100,
		GossipFanout:       8,
		MessageTTL:         7,
		ForwardProbability: 1.0,
		ResponseMaxEntries: 256,
		PeerTimeoutMS:      30_000,
		MessageExpiryMS:    300_000,
		NoiseIntervalMS:    5_000,
		MixMin:             10,
		MaxPeers:           1_000,
		LogInitialCap:      1_000,
		SeenMessageCache:   10_000,
		ConsensusTimeoutMS: 2_000,
		ListenAddress:      "127.0.0.1:26680",
		DisplayName:        "anonymous",
		NoiseEnabled:       false,
	}
}

// Load reads configuration from the given file path (optional; empty path
// skips the file), layered under environment overrides. Unset keys keep
// their defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("gossip_interval_ms", d.GossipIntervalMS)
	v.SetDefault("gossip_fanout", d.GossipFanout)
	v.SetDefault("message_ttl", d.MessageTTL)
	v.SetDefault("forward_probability", d.ForwardProbability)
	v.SetDefault("response_max_entries", d.ResponseMaxEntries)
	v.SetDefault("peer_timeout_ms", d.PeerTimeoutMS)
	v.SetDefault("message_expiry_ms", d.MessageExpiryMS)
	v.SetDefault("noise_interval_ms", d.NoiseIntervalMS)
	v.SetDefault("mix_min", d.MixMin)
	v.SetDefault("max_peers", d.MaxPeers)
	v.SetDefault("log_initial_capacity", d.LogInitialCap)
	v.SetDefault("seen_message_cache", d.SeenMessageCache)
	v.SetDefault("consensus_timeout_ms", d.ConsensusTimeoutMS)
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("display_name", d.DisplayName)
	v.SetDefault("noise_enabled", d.NoiseEnabled)
}

// Validate rejects configurations no component could run under.
func (c Config) Validate() error {
	if c.GossipIntervalMS <= 0 {
		return fmt.Errorf("config: gossip_interval_ms must be positive")
	}
	if c.GossipFanout <= 0 {
		return fmt.Errorf("config: gossip_fanout must be positive")
	}
	if c.MessageTTL <= 0 {
		return fmt.Errorf("config: message_ttl must be positive")
	}
	if c.ForwardProbability < 0 || c.ForwardProbability > 1 {
		return fmt.Errorf("config: forward_probability must be in [0, 1]")
	}
	if c.SeenMessageCache <= 0 {
		return fmt.Errorf("config: seen_message_cache must be positive")
	}
	if c.MixMin < 0 {
		return fmt.Errorf("config: mix_min must be non-negative")
	}
	return nil
}

// GossipInterval returns the gossip round period as a duration.
func (c Config) GossipInterval() time.Duration {
	return time.Duration(c.GossipIntervalMS) * time.Millisecond
}

// PeerTimeout returns the peer inactivity timeout as a duration.
func (c Config) PeerTimeout() time.Duration {
	return time.Duration(c.PeerTimeoutMS) * time.Millisecond
}

// MessageExpiry returns the seen-message expiry window as a duration.
func (c Config) MessageExpiry() time.Duration {
	return time.Duration(c.MessageExpiryMS) * time.Millisecond
}

// NoiseInterval returns the dummy-traffic period as a duration.
func (c Config) NoiseInterval() time.Duration {
	return time.Duration(c.NoiseIntervalMS) * time.Millisecond
}

// ConsensusTimeout returns the per-round consensus deadline as a duration.
func (c Config) ConsensusTimeout() time.Duration {
	return time.Duration(c.ConsensusTimeoutMS) * time.Millisecond
}
