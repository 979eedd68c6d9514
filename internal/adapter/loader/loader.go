// Package loader builds the agent adapters for a daemon run. Only the
// OpenCode adapter built into this binary is constructed (unless disabled).
// Third-party adapter plugin manifests in the standard install location or
// a configured plugin directory are read, validated and logged; no adapter
// is constructed from them.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ammujacic/agentap/internal/adapter"
	"github.com/ammujacic/agentap/internal/adapter/opencode"
	"github.com/ammujacic/agentap/internal/common/logger"
)

const manifestFilename = "manifest.json"

// Manifest describes a third-party adapter plugin directory.
type Manifest struct {
	Kind        string `json:"kind"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Binary      string `json:"binary"`
}

func (m Manifest) validate() error {
	if m.Kind == "" {
		return fmt.Errorf("manifest missing required field: kind")
	}
	if m.DisplayName == "" {
		return fmt.Errorf("manifest missing required field: displayName")
	}
	if m.Binary == "" {
		return fmt.Errorf("manifest missing required field: binary")
	}
	return nil
}

// Loader discovers and constructs adapters.
type Loader struct {
	home      string
	pluginDir string
	disabled  map[string]bool
	log       *logger.Logger
}

// New constructs a Loader. home is the user's home directory (used to
// derive standard plugin install locations); pluginDir is an additional
// user-configured search path; disabled lists agent kinds to skip.
func New(home, pluginDir string, disabled []string, log *logger.Logger) *Loader {
	disabledSet := make(map[string]bool, len(disabled))
	for _, kind := range disabled {
		disabledSet[kind] = true
	}
	return &Loader{home: home, pluginDir: pluginDir, disabled: disabledSet, log: log}
}

// Load returns the set of adapters to run this session: the built-in
// OpenCode adapter, unless disabled. Every discovered plugin manifest is
// logged (as disabled, or as having no in-process loader) and skipped
// without an error; plugin manifests never add an adapter to the result.
func (l *Loader) Load() []adapter.Adapter {
	var adapters []adapter.Adapter

	if !l.disabled["opencode"] {
		adapters = append(adapters, opencode.New(l.home, l.log))
	}

	for _, manifest := range l.discoverManifests() {
		if l.disabled[manifest.Kind] {
			l.log.Info("adapter plugin disabled by config", zap.String("kind", manifest.Kind))
			continue
		}
		l.log.Info("adapter plugin discovered, no in-process loader for this kind",
			zap.String("kind", manifest.Kind),
			zap.String("displayName", manifest.DisplayName))
	}

	return adapters
}

// discoverManifests scans every standard plugin directory for
// subdirectories containing a valid manifest.json, skipping anything
// invalid with a warning rather than failing the whole scan.
func (l *Loader) discoverManifests() []Manifest {
	var manifests []Manifest
	for _, dir := range l.searchDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), manifestFilename)
			manifest, err := readManifest(path)
			if err != nil {
				if !os.IsNotExist(err) {
					l.log.Warn("skipping invalid adapter plugin manifest",
						zap.String("path", path), zap.Error(err))
				}
				continue
			}
			manifests = append(manifests, *manifest)
		}
	}
	return manifests
}

// searchDirs returns the standard plugin install locations plus the
// configured extra plugin directory, in priority order.
func (l *Loader) searchDirs() []string {
	dirs := []string{filepath.Join(l.home, ".config", "agentap", "plugins")}
	if l.pluginDir != "" {
		dirs = append(dirs, l.pluginDir)
	}
	return dirs
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := manifest.validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}
