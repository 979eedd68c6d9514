package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammujacic/agentap/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func writeManifest(t *testing.T, dir string, m Manifest) {
	t.Helper()
	pluginDir := filepath.Join(dir, m.Kind)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, manifestFilename), data, 0o644))
}

func TestLoadAlwaysIncludesOpenCodeByDefault(t *testing.T) {
	l := New(t.TempDir(), "", nil, newTestLogger(t))
	adapters := l.Load()
	require.Len(t, adapters, 1)
	require.Equal(t, "opencode", adapters[0].Kind())
}

func TestLoadOmitsOpenCodeWhenDisabled(t *testing.T) {
	l := New(t.TempDir(), "", []string{"opencode"}, newTestLogger(t))
	require.Empty(t, l.Load())
}

func TestDiscoverManifestsFindsValidPlugin(t *testing.T) {
	pluginDir := t.TempDir()
	writeManifest(t, pluginDir, Manifest{Kind: "claude-code", DisplayName: "Claude Code", Version: "1.0", Binary: "claude"})

	l := New(t.TempDir(), pluginDir, nil, newTestLogger(t))
	manifests := l.discoverManifests()
	require.Len(t, manifests, 1)
	require.Equal(t, "claude-code", manifests[0].Kind)
}

func TestDiscoverManifestsSkipsInvalidManifest(t *testing.T) {
	pluginDir := t.TempDir()
	writeManifest(t, pluginDir, Manifest{Kind: "codex", DisplayName: "", Binary: "codex"})

	l := New(t.TempDir(), pluginDir, nil, newTestLogger(t))
	require.Empty(t, l.discoverManifests())
}

func TestDiscoverManifestsIgnoresMissingPluginDir(t *testing.T) {
	l := New(t.TempDir(), filepath.Join(t.TempDir(), "does-not-exist"), nil, newTestLogger(t))
	require.Empty(t, l.discoverManifests())
}

func TestManifestValidateRequiresFields(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr bool
	}{
		{"valid", Manifest{Kind: "aider", DisplayName: "Aider", Binary: "aider"}, false},
		{"missing kind", Manifest{DisplayName: "Aider", Binary: "aider"}, true},
		{"missing displayName", Manifest{Kind: "aider", Binary: "aider"}, true},
		{"missing binary", Manifest{Kind: "aider", DisplayName: "Aider"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
