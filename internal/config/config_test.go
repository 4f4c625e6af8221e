package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	d := Default()
	require.Equal(t, 100, d.GossipIntervalMS)
	require.Equal(t, 8, d.GossipFanout)
	require.Equal(t, 7, d.MessageTTL)
	require.Equal(t, 1.0, d.ForwardProbability)
	require.Equal(t, 30_000, d.PeerTimeoutMS)
	require.Equal(t, 300_000, d.MessageExpiryMS)
	require.Equal(t, 5_000, d.NoiseIntervalMS)
	require.Equal(t, 10, d.MixMin)
	require.Equal(t, 1_000, d.MaxPeers)
	require.Equal(t, 1_000, d.LogInitialCap)
	require.Equal(t, 10_000, d.SeenMessageCache)
	require.NoError(t, d.Validate())
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"gossip_interval_ms: 250\ngossip_fanout: 4\ndisplay_name: tester\n",
	), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 250, cfg.GossipIntervalMS)
	require.Equal(t, 4, cfg.GossipFanout)
	require.Equal(t, "tester", cfg.DisplayName)
	// Untouched keys keep their defaults.
	require.Equal(t, 7, cfg.MessageTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("forward_probability: 1.5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
