package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Daemon.Port)

	cfg.Daemon.Port = 9999
	cfg.Daemon.NoTunnel = true
	cfg.Machine = MachineConfig{
		ID:          "m-1",
		UserID:      "u-1",
		APISecret:   "secret",
		TunnelToken: "token",
		TunnelURL:   "https://example.trycloudflare.com",
	}
	require.NoError(t, Save(cfg))

	reloaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, cfg.Daemon.Port, reloaded.Daemon.Port)
	require.Equal(t, cfg.Daemon.NoTunnel, reloaded.Daemon.NoTunnel)
	require.Equal(t, cfg.Machine, reloaded.Machine)
	require.True(t, reloaded.Machine.Linked())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent")
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Daemon.Port)
	require.False(t, cfg.Machine.Linked())
}
